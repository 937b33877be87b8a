package server

import (
	"strconv"

	"github.com/sourcequery-project/sourcequery/internal/query"
)

// BuiltinRuleParams are the static facts published as built-in rules.
type BuiltinRuleParams struct {
	Version     string
	Revision    string
	GamePort    int
	QueryPort   int
	MaxPlayers  int
	World       string
	Environment string
}

// BuiltinRules returns the rules every server publishes. Empty values are
// still published as empty strings.
func BuiltinRules(p BuiltinRuleParams) []query.Rule {
	return []query.Rule{
		{Name: "version", Value: p.Version},
		{Name: "revision", Value: p.Revision},
		{Name: "default_world", Value: p.World},
		{Name: "world_count", Value: "1"},
		{Name: "max_players", Value: strconv.Itoa(p.MaxPlayers)},
		{Name: "game_port", Value: strconv.Itoa(p.GamePort)},
		{Name: "query_port", Value: strconv.Itoa(p.QueryPort)},
		{Name: "environment", Value: p.Environment},
	}
}
