package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Decoding errors.
var (
	ErrShortPacket    = errors.New("packet shorter than header")
	ErrBadMagic       = errors.New("invalid packet magic")
	ErrUnexpectedType = errors.New("unexpected response type")
	ErrTruncated      = errors.New("truncated response")
)

// InfoResponse is a decoded A2S_INFO reply.
type InfoResponse struct {
	Protocol    byte   `json:"protocol"`
	Name        string `json:"name"`
	Map         string `json:"map"`
	Folder      string `json:"folder"`
	Game        string `json:"game"`
	AppID       uint16 `json:"app_id"`
	Players     byte   `json:"players"`
	MaxPlayers  byte   `json:"max_players"`
	Bots        byte   `json:"bots"`
	ServerType  byte   `json:"server_type"`
	Environment byte   `json:"environment"`
	Visibility  byte   `json:"visibility"`
	VAC         byte   `json:"vac"`
	Version     string `json:"version"`
	ExtraFlags  byte   `json:"extra_flags"`
	GamePort    uint16 `json:"game_port,omitempty"`
}

// PlayerEntry is one decoded A2S_PLAYER record.
type PlayerEntry struct {
	Index    byte    `json:"index"`
	Name     string  `json:"name"`
	Score    int32   `json:"score"`
	Duration float32 `json:"duration"`
}

// RuleEntry is one decoded A2S_RULES pair.
type RuleEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// reader walks a response body and remembers the first short read.
type reader struct {
	buf *bytes.Buffer
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	b := r.buf.Next(n)
	if len(b) < n {
		r.err = ErrTruncated
		return make([]byte, n)
	}
	return b
}

func (r *reader) u8() byte {
	return r.next(1)[0]
}

func (r *reader) u16() uint16 {
	return binary.LittleEndian.Uint16(r.next(2))
}

func (r *reader) u32() uint32 {
	return binary.LittleEndian.Uint32(r.next(4))
}

func (r *reader) str() string {
	if r.err != nil {
		return ""
	}
	raw, err := r.buf.ReadBytes(0)
	if err != nil {
		r.err = ErrTruncated
		return ""
	}
	return string(raw[:len(raw)-1])
}

// ResponseKind checks the magic and returns the response type byte.
func ResponseKind(packet []byte) (byte, error) {
	if len(packet) < MinRequestSize {
		return 0, ErrShortPacket
	}
	if binary.LittleEndian.Uint32(packet[:4]) != PacketMagic {
		return 0, ErrBadMagic
	}
	return packet[4], nil
}

func body(packet []byte, want byte) (*reader, error) {
	tag, err := ResponseKind(packet)
	if err != nil {
		return nil, err
	}
	if tag != want {
		return nil, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrUnexpectedType, tag, want)
	}
	return &reader{buf: bytes.NewBuffer(packet[MinRequestSize:])}, nil
}

// DecodeChallenge decodes a challenge response.
func DecodeChallenge(packet []byte) (int32, error) {
	r, err := body(packet, RespChallenge)
	if err != nil {
		return 0, err
	}
	token := int32(r.u32())
	if r.err != nil {
		return 0, fmt.Errorf("challenge: %w", r.err)
	}
	return token, nil
}

// DecodeInfo decodes an A2S_INFO response.
func DecodeInfo(packet []byte) (*InfoResponse, error) {
	r, err := body(packet, RespInfo)
	if err != nil {
		return nil, err
	}

	info := &InfoResponse{}
	info.Protocol = r.u8()
	info.Name = r.str()
	info.Map = r.str()
	info.Folder = r.str()
	info.Game = r.str()
	info.AppID = r.u16()
	info.Players = r.u8()
	info.MaxPlayers = r.u8()
	info.Bots = r.u8()
	info.ServerType = r.u8()
	info.Environment = r.u8()
	info.Visibility = r.u8()
	info.VAC = r.u8()
	info.Version = r.str()
	if r.err != nil {
		return nil, fmt.Errorf("info: %w", r.err)
	}

	// Extra data flag is optional for older servers.
	if r.buf.Len() == 0 {
		return info, nil
	}
	info.ExtraFlags = r.u8()
	if info.ExtraFlags&FlagGamePort != 0 {
		info.GamePort = r.u16()
	}
	if r.err != nil {
		return nil, fmt.Errorf("info extra data: %w", r.err)
	}
	return info, nil
}

// DecodePlayers decodes an A2S_PLAYER response. The declared count must
// match the number of records present.
func DecodePlayers(packet []byte) ([]PlayerEntry, error) {
	r, err := body(packet, RespPlayer)
	if err != nil {
		return nil, err
	}

	count := int(r.u8())
	players := make([]PlayerEntry, 0, count)
	for i := 0; i < count; i++ {
		p := PlayerEntry{}
		p.Index = r.u8()
		p.Name = r.str()
		p.Score = int32(r.u32())
		p.Duration = math.Float32frombits(r.u32())
		if r.err != nil {
			return nil, fmt.Errorf("player %d of %d: %w", i, count, r.err)
		}
		players = append(players, p)
	}
	if r.buf.Len() != 0 {
		return nil, fmt.Errorf("players: %d trailing bytes after %d records", r.buf.Len(), count)
	}
	return players, nil
}

// DecodeRules decodes an A2S_RULES response. The declared count must
// match the number of pairs present.
func DecodeRules(packet []byte) ([]RuleEntry, error) {
	r, err := body(packet, RespRules)
	if err != nil {
		return nil, err
	}

	count := int(r.u16())
	rules := make([]RuleEntry, 0, count)
	for i := 0; i < count; i++ {
		rule := RuleEntry{Name: r.str(), Value: r.str()}
		if r.err != nil {
			return nil, fmt.Errorf("rule %d of %d: %w", i, count, r.err)
		}
		rules = append(rules, rule)
	}
	if r.buf.Len() != 0 {
		return nil, fmt.Errorf("rules: %d trailing bytes after %d pairs", r.buf.Len(), count)
	}
	return rules, nil
}

// EnvironmentName returns a readable label for an environment byte.
func EnvironmentName(env byte) string {
	switch env {
	case EnvLinux:
		return "linux"
	case EnvWindows:
		return "windows"
	case EnvMac, 'o':
		return "mac"
	default:
		return "unknown"
	}
}

// ServerTypeName returns a readable label for a server type byte.
func ServerTypeName(t byte) string {
	switch t {
	case 'd':
		return "dedicated"
	case 'l':
		return "non-dedicated"
	case 'p':
		return "proxy"
	default:
		return "unknown"
	}
}
