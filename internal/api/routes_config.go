package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sourcequery-project/sourcequery/internal/config"
)

const redacted = "********"

// handleGetConfig returns the configuration with secrets masked.
func (s *Server) handleGetConfig(c *gin.Context) {
	app := s.deps.Config.GetApplicationData()
	if app.API.AuthToken != "" {
		app.API.AuthToken = redacted
	}
	if app.MQTT.Password != "" {
		app.MQTT.Password = redacted
	}

	c.JSON(http.StatusOK, gin.H{
		"query_data":       s.deps.Config.GetQueryData(),
		"application_data": app,
	})
}

// handlePatchQueryConfig updates query_data fields and saves the file.
// Port and bind changes take effect on the next start.
func (s *Server) handlePatchQueryConfig(c *gin.Context) {
	var fields map[string]interface{}
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	before := s.deps.Config.GetQueryData()
	if err := s.deps.Config.UpdateQueryFields(fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if result := config.Validate(s.deps.Config); !result.IsValid() {
		s.deps.Config.SetQueryData(before)
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "errors": result.Errors})
		return
	}

	if err := s.deps.Config.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save config"})
		return
	}

	log.Info().Int("fields", len(fields)).Msg("API: query configuration updated")
	c.JSON(http.StatusOK, gin.H{
		"status": "updated",
		"data":   s.deps.Config.GetQueryData(),
	})
}
