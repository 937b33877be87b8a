package query

// ServerInfo is a momentary view of the hosted server.
type ServerInfo struct {
	Name       string `json:"name"`
	Map        string `json:"map"`
	Players    int    `json:"players"`
	MaxPlayers int    `json:"max_players"`
	Version    string `json:"version"`
	GamePort   int    `json:"game_port"`
}

// Player is a connected player as reported to query clients.
type Player struct {
	Name string `json:"name"`
}

// Rule is a diagnostic key/value pair.
type Rule struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// InfoProvider returns the current server snapshot. Implementations must
// answer from resident memory without blocking.
type InfoProvider interface {
	ServerInfo() (ServerInfo, error)
}

// PlayerProvider returns a snapshot of the connected players.
type PlayerProvider interface {
	Players() ([]Player, error)
}

// RuleProvider returns the current rule set.
type RuleProvider interface {
	Rules() ([]Rule, error)
}
