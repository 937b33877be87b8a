// Package server holds the resident state of the hosted game server:
// its info snapshot, the connected players and the diagnostic rules.
// Query handlers read it without blocking; the API, the MQTT feed and
// the health checks write it.
package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/sourcequery-project/sourcequery/internal/events"
	"github.com/sourcequery-project/sourcequery/internal/query"
)

// Rule sources, merged in this order. A later source overrides a rule
// with the same name from an earlier one.
const (
	RuleSourceBuiltin = "builtin"
	RuleSourceFeed    = "feed"
	RuleSourceHost    = "host"
	RuleSourceCustom  = "custom"
)

var ruleSourceOrder = []string{RuleSourceBuiltin, RuleSourceFeed, RuleSourceHost, RuleSourceCustom}

// ErrUnknownRuleSource is returned by SetRules for an unregistered source.
var ErrUnknownRuleSource = errors.New("unknown rule source")

// ErrInvalidInfoUpdate is returned by ApplyInfoUpdate for out-of-range values.
var ErrInvalidInfoUpdate = errors.New("invalid info update")

// PlayerInfo holds information about a connected player.
type PlayerInfo struct {
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// InfoUpdate is a partial update of the server snapshot. Nil fields are
// left unchanged.
type InfoUpdate struct {
	Name       *string `json:"name,omitempty" msgpack:"name,omitempty"`
	Map        *string `json:"map,omitempty" msgpack:"map,omitempty"`
	Players    *int    `json:"players,omitempty" msgpack:"players,omitempty"`
	MaxPlayers *int    `json:"max_players,omitempty" msgpack:"max_players,omitempty"`
	Version    *string `json:"version,omitempty" msgpack:"version,omitempty"`
	GamePort   *int    `json:"game_port,omitempty" msgpack:"game_port,omitempty"`
}

// Snapshot is a consistent copy of the whole state for display.
type Snapshot struct {
	Info      query.ServerInfo `json:"info"`
	Players   []PlayerInfo     `json:"players"`
	RuleCount int              `json:"rule_count"`
	StartedAt time.Time        `json:"started_at"`
	Uptime    string           `json:"uptime"`
}

// GameState is the thread-safe resident state. It implements
// query.InfoProvider, query.PlayerProvider and query.RuleProvider.
type GameState struct {
	mu sync.RWMutex

	info         query.ServerInfo
	players      []PlayerInfo
	playersKnown bool
	rules        map[string][]query.Rule

	startedAt time.Time
	bus       *events.EventBus
}

// NewGameState creates the state with an initial snapshot. bus may be nil.
func NewGameState(info query.ServerInfo, bus *events.EventBus) *GameState {
	return &GameState{
		info:      info,
		rules:     make(map[string][]query.Rule),
		startedAt: time.Now(),
		bus:       bus,
	}
}

// ServerInfo returns the current snapshot. Once a player list has been
// published the player count follows its length.
func (s *GameState) ServerInfo() (query.ServerInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := s.info
	if s.playersKnown {
		info.Players = len(s.players)
	}
	return info, nil
}

// Players returns the connected players in join order.
func (s *GameState) Players() ([]query.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]query.Player, len(s.players))
	for i, p := range s.players {
		out[i] = query.Player{Name: p.Name}
	}
	return out, nil
}

// Rules returns the merged rule set followed by the computed uptime.
func (s *GameState) Rules() ([]query.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	merged := s.mergedRules()
	merged = append(merged, query.Rule{
		Name:  "uptime_seconds",
		Value: strconv.FormatInt(int64(time.Since(s.startedAt).Seconds()), 10),
	})
	return merged, nil
}

// mergedRules must be called with the lock held.
func (s *GameState) mergedRules() []query.Rule {
	var out []query.Rule
	index := make(map[string]int)
	for _, source := range ruleSourceOrder {
		for _, r := range s.rules[source] {
			if i, ok := index[r.Name]; ok {
				out[i].Value = r.Value
				continue
			}
			index[r.Name] = len(out)
			out = append(out, r)
		}
	}
	return out
}

// Validate checks that counts are non-negative and the game port fits
// in 16 bits.
func (u InfoUpdate) Validate() error {
	if u.Players != nil && *u.Players < 0 {
		return fmt.Errorf("%w: players %d is negative", ErrInvalidInfoUpdate, *u.Players)
	}
	if u.MaxPlayers != nil && *u.MaxPlayers < 0 {
		return fmt.Errorf("%w: max_players %d is negative", ErrInvalidInfoUpdate, *u.MaxPlayers)
	}
	if u.GamePort != nil && (*u.GamePort < 0 || *u.GamePort > 65535) {
		return fmt.Errorf("%w: game_port %d outside 0-65535", ErrInvalidInfoUpdate, *u.GamePort)
	}
	return nil
}

// ApplyInfoUpdate merges a partial update into the snapshot. An update
// that fails Validate is rejected as a whole.
func (s *GameState) ApplyInfoUpdate(u InfoUpdate, source string) error {
	if err := u.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if u.Name != nil {
		s.info.Name = *u.Name
	}
	if u.Map != nil {
		s.info.Map = *u.Map
	}
	if u.Players != nil {
		s.info.Players = *u.Players
	}
	if u.MaxPlayers != nil {
		s.info.MaxPlayers = *u.MaxPlayers
	}
	if u.Version != nil {
		s.info.Version = *u.Version
	}
	if u.GamePort != nil {
		s.info.GamePort = *u.GamePort
	}
	s.mu.Unlock()

	s.emit("info", source)
	return nil
}

// SetPlayers replaces the player list. Join times of players already
// present are kept.
func (s *GameState) SetPlayers(names []string, source string) {
	now := time.Now()

	s.mu.Lock()
	joined := make(map[string]time.Time, len(s.players))
	for _, p := range s.players {
		joined[p.Name] = p.JoinedAt
	}

	seen := make(map[string]bool, len(names))
	players := make([]PlayerInfo, 0, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		at, ok := joined[name]
		if !ok {
			at = now
		}
		players = append(players, PlayerInfo{Name: name, JoinedAt: at})
	}
	s.players = players
	s.playersKnown = true
	s.mu.Unlock()

	s.emit("players", source)
}

// AddPlayer appends a player. It returns false if the name is already present.
func (s *GameState) AddPlayer(name, source string) bool {
	s.mu.Lock()
	for _, p := range s.players {
		if p.Name == name {
			s.mu.Unlock()
			return false
		}
	}
	s.players = append(s.players, PlayerInfo{Name: name, JoinedAt: time.Now()})
	s.playersKnown = true
	s.mu.Unlock()

	s.emit("players", source)
	return true
}

// RemovePlayer removes a player. It returns false if the name is unknown.
func (s *GameState) RemovePlayer(name, source string) bool {
	s.mu.Lock()
	idx := -1
	for i, p := range s.players {
		if p.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.players = append(s.players[:idx:idx], s.players[idx+1:]...)
	s.mu.Unlock()

	s.emit("players", source)
	return true
}

// PlayerList returns the players with their join times.
func (s *GameState) PlayerList() []PlayerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PlayerInfo, len(s.players))
	copy(out, s.players)
	return out
}

// SetRules replaces the rules contributed by one source.
func (s *GameState) SetRules(source string, rules []query.Rule) error {
	known := false
	for _, src := range ruleSourceOrder {
		if src == source {
			known = true
			break
		}
	}
	if !known {
		return ErrUnknownRuleSource
	}

	cp := make([]query.Rule, len(rules))
	copy(cp, rules)

	s.mu.Lock()
	s.rules[source] = cp
	s.mu.Unlock()

	s.emit("rules", source)
	return nil
}

// RuleSet returns the rules contributed by one source.
func (s *GameState) RuleSet(source string) []query.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]query.Rule, len(s.rules[source]))
	copy(out, s.rules[source])
	return out
}

// Uptime returns how long the state has existed.
func (s *GameState) Uptime() time.Duration {
	return time.Since(s.startedAt)
}

// Snapshot returns a consistent copy of the state.
func (s *GameState) Snapshot() Snapshot {
	info, _ := s.ServerInfo()

	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]PlayerInfo, len(s.players))
	copy(players, s.players)
	return Snapshot{
		Info:      info,
		Players:   players,
		RuleCount: len(s.mergedRules()) + 1,
		StartedAt: s.startedAt,
		Uptime:    time.Since(s.startedAt).Truncate(time.Second).String(),
	}
}

func (s *GameState) emit(section, source string) {
	if s.bus == nil {
		return
	}
	s.bus.Emit(context.Background(), events.Event{
		Type:    events.EventStateChanged,
		Source:  source,
		Payload: events.StateChangedPayload{Section: section, Source: source},
	})
}
