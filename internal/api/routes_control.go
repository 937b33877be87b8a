package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sourcequery-project/sourcequery/internal/events"
)

// handleUpdateCheck requests an immediate release check. The result is
// reported through the update_available event, not in this response.
func (s *Server) handleUpdateCheck(c *gin.Context) {
	s.emit(events.Event{
		Type:   events.EventUpdateCheckRequested,
		Source: stateSource,
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "requested"})
}

func (s *Server) handleShutdown(c *gin.Context) {
	log.Info().Str("client_ip", c.ClientIP()).Msg("API: shutdown requested")
	s.emit(events.Event{
		Type:   events.EventShutdown,
		Source: stateSource,
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "shutting down"})
}
