package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sourcequery-project/sourcequery/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": util.AppName,
		"version": s.deps.Version,
	})
}

// handleGetInfo returns what an A2S_INFO query would report.
func (s *Server) handleGetInfo(c *gin.Context) {
	info, err := s.deps.State.ServerInfo()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	query := s.deps.Config.GetQueryData()
	c.JSON(http.StatusOK, gin.H{
		"name":             info.Name,
		"map":              info.Map,
		"players":          info.Players,
		"max_players":      info.MaxPlayers,
		"version":          info.Version,
		"game_port":        info.GamePort,
		"query_port":       query.ResolvedQueryPort(),
		"game_directory":   query.GameDirectory,
		"game_description": query.GameDescription,
	})
}

func (s *Server) handleGetPlayers(c *gin.Context) {
	players := s.deps.State.PlayerList()
	c.JSON(http.StatusOK, gin.H{
		"players": players,
		"count":   len(players),
	})
}

func (s *Server) handleGetRules(c *gin.Context) {
	rules, err := s.deps.State.Rules()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rules": rules,
		"count": len(rules),
	})
}
