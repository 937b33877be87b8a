package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sourcequery-project/sourcequery/internal/server"
)

// stateSource tags state changes made through the API.
const stateSource = "api"

type playersRequest struct {
	Players []string `json:"players" binding:"required"`
}

// handlePutInfo merges a partial info update.
func (s *Server) handlePutInfo(c *gin.Context) {
	var u server.InfoUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.deps.State.ApplyInfoUpdate(u, stateSource); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, _ := s.deps.State.ServerInfo()
	c.JSON(http.StatusOK, gin.H{"status": "updated", "info": info})
}

// handlePutPlayers replaces the player list.
func (s *Server) handlePutPlayers(c *gin.Context) {
	var req playersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.deps.State.SetPlayers(req.Players, stateSource)
	players := s.deps.State.PlayerList()
	log.Debug().Int("count", len(players)).Msg("API: player list replaced")
	c.JSON(http.StatusOK, gin.H{"status": "updated", "count": len(players)})
}

func (s *Server) handleAddPlayer(c *gin.Context) {
	name := c.Param("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "player name required"})
		return
	}
	if !s.deps.State.AddPlayer(name, stateSource) {
		c.JSON(http.StatusConflict, gin.H{"error": "player already present", "name": name})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "added", "name": name})
}

func (s *Server) handleRemovePlayer(c *gin.Context) {
	name := c.Param("name")
	if !s.deps.State.RemovePlayer(name, stateSource) {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found", "name": name})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "removed", "name": name})
}
