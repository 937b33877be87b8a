package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/sourcequery-project/sourcequery/internal/db"
	"github.com/sourcequery-project/sourcequery/internal/events"
	"github.com/sourcequery-project/sourcequery/internal/query"
	"github.com/sourcequery-project/sourcequery/internal/server"
)

type ruleRequest struct {
	Value string `json:"value"`
}

// SyncCustomRules copies the stored custom rules into the served state.
func SyncCustomRules(ctx context.Context, rdb *db.RulesDatabase, state *server.GameState) error {
	stored, err := rdb.ListRules(ctx)
	if err != nil {
		return err
	}
	rules := make([]query.Rule, len(stored))
	for i, r := range stored {
		rules[i] = query.Rule{Name: r.Name, Value: r.Value}
	}
	if err := state.SetRules(server.RuleSourceCustom, rules); err != nil {
		return fmt.Errorf("failed to apply custom rules: %w", err)
	}
	return nil
}

func (s *Server) requireRulesDB(c *gin.Context) bool {
	if s.deps.Rules == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "custom rules storage is not available"})
		return false
	}
	return true
}

func (s *Server) handleListCustomRules(c *gin.Context) {
	if !s.requireRulesDB(c) {
		return
	}
	rules, err := s.deps.Rules.ListRules(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
}

func (s *Server) handleSetCustomRule(c *gin.Context) {
	if !s.requireRulesDB(c) {
		return
	}
	name := c.Param("name")

	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := s.deps.Rules.SetRule(c.Request.Context(), name, req.Value)
	if errors.Is(err, db.ErrInvalidRuleName) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.afterRuleChange(c, name, false)
	c.JSON(http.StatusOK, gin.H{"status": "updated", "name": name, "value": req.Value})
}

func (s *Server) handleDeleteCustomRule(c *gin.Context) {
	if !s.requireRulesDB(c) {
		return
	}
	name := c.Param("name")

	err := s.deps.Rules.DeleteRule(c.Request.Context(), name)
	if errors.Is(err, db.ErrRuleNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "name": name})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.afterRuleChange(c, name, true)
	c.JSON(http.StatusOK, gin.H{"status": "deleted", "name": name})
}

func (s *Server) afterRuleChange(c *gin.Context, name string, deleted bool) {
	if err := SyncCustomRules(c.Request.Context(), s.deps.Rules, s.deps.State); err != nil {
		log.Warn().Err(err).Msg("failed to reload custom rules")
	}
	log.Info().Str("rule", name).Bool("deleted", deleted).Msg("API: custom rule changed")
	s.emit(events.Event{
		Type:    events.EventRulesChanged,
		Source:  stateSource,
		Payload: events.RulesChangedPayload{Name: name, Deleted: deleted},
	})
}
