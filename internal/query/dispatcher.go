// Package query turns inbound A2S datagrams into response buffers. It
// validates framing, gates player and rules requests behind the
// challenge handshake and serializes data read from the providers.
package query

import (
	"fmt"
	"net/netip"

	"github.com/rs/zerolog"

	"github.com/sourcequery-project/sourcequery/internal/challenge"
	"github.com/sourcequery-project/sourcequery/internal/metrics"
	"github.com/sourcequery-project/sourcequery/internal/protocol"
)

const (
	maxPlayerEntries = 0xFF
	maxRuleEntries   = 0xFFFF
)

// DispatcherConfig holds the static parts of the Info response.
type DispatcherConfig struct {
	GameDir         string
	GameDescription string
	// Environment is the OS identifier byte, resolved once at startup.
	Environment byte
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for build failures.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics records request and response counters.
func WithMetrics(m *metrics.QueryMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// Dispatcher handles a single datagram at a time and keeps no state
// between calls, so one instance can serve many goroutines.
type Dispatcher struct {
	cfg     DispatcherConfig
	engine  *challenge.Engine
	info    InfoProvider
	players PlayerProvider
	rules   RuleProvider
	logger  zerolog.Logger
	metrics *metrics.QueryMetrics
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig, engine *challenge.Engine, info InfoProvider, players PlayerProvider, rules RuleProvider, opts ...Option) *Dispatcher {
	if cfg.Environment == 0 {
		cfg.Environment = protocol.EnvLinux
	}
	d := &Dispatcher{
		cfg:     cfg,
		engine:  engine,
		info:    info,
		players: players,
		rules:   rules,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle returns the response for packet, or nil when nothing should be sent.
func (d *Dispatcher) Handle(packet []byte, from netip.AddrPort) (resp []byte) {
	req, ferr := protocol.ParseRequest(packet)
	if ferr != protocol.FrameOK {
		d.metrics.ObserveDrop(ferr.String())
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn().Msgf("%s response aborted: %v", req.Kind, r)
			d.metrics.ObserveBuildFailure()
			resp = nil
		}
	}()

	var err error
	switch req.Kind {
	case protocol.KindChallenge:
		d.metrics.ObserveRequest(req.Kind.String())
		resp = d.challengeResponse(from)
	case protocol.KindInfo:
		d.metrics.ObserveRequest(req.Kind.String())
		resp, err = d.buildInfo()
	case protocol.KindPlayer, protocol.KindRules:
		d.metrics.ObserveRequest(req.Kind.String())
		resp, err = d.gated(req, from)
	case protocol.KindUnknown:
		d.metrics.ObserveDrop("unknown_type")
		return nil
	default:
		panic(fmt.Sprintf("unhandled request kind %d", req.Kind))
	}

	if err != nil {
		d.logger.Warn().Msgf("%s response failed: %v", req.Kind, err)
		d.metrics.ObserveBuildFailure()
		return nil
	}
	if resp != nil {
		if kind, kerr := protocol.ResponseKind(resp); kerr == nil {
			d.metrics.ObserveResponse(responseLabel(kind), len(resp))
		}
	}
	return resp
}

// gated enforces the challenge handshake for player and rules requests.
func (d *Dispatcher) gated(req protocol.Request, from netip.AddrPort) ([]byte, error) {
	token, ok := req.Challenge()
	if !ok {
		d.metrics.ObserveDrop("missing_challenge")
		return nil, nil
	}
	if !d.engine.Validate(from, token) {
		d.metrics.ObserveChallengeFailure()
		return d.challengeResponse(from), nil
	}

	if req.Kind == protocol.KindPlayer {
		return d.buildPlayers()
	}
	return d.buildRules()
}

func (d *Dispatcher) challengeResponse(from netip.AddrPort) []byte {
	return protocol.ChallengeResponse(d.engine.Generate(from))
}

func (d *Dispatcher) buildInfo() ([]byte, error) {
	info, err := d.info.ServerInfo()
	if err != nil {
		return nil, fmt.Errorf("server info: %w", err)
	}
	if info.GamePort < 0 || info.GamePort > 0xFFFF {
		return nil, fmt.Errorf("game port %d out of range", info.GamePort)
	}

	b := protocol.NewPacketBuilder()
	b.Header(protocol.RespInfo)
	b.WriteByte(protocol.ProtocolVersion)
	b.WriteNullString(info.Name)
	b.WriteNullString(info.Map)
	b.WriteNullString(d.cfg.GameDir)
	b.WriteNullString(d.cfg.GameDescription)
	b.WriteUint16(0)
	b.WriteByte(clampByte(info.Players))
	b.WriteByte(clampByte(info.MaxPlayers))
	b.WriteByte(0) // bots are not tracked
	b.WriteByte(protocol.ServerTypeDedicated)
	b.WriteByte(d.cfg.Environment)
	b.WriteByte(protocol.VisibilityPublic)
	b.WriteByte(protocol.VACUnsecured)
	b.WriteNullString(info.Version)
	b.WriteByte(protocol.FlagGamePort)
	b.WriteUint16(uint16(info.GamePort))
	return b.Build(), nil
}

func (d *Dispatcher) buildPlayers() ([]byte, error) {
	players, err := d.players.Players()
	if err != nil {
		return nil, fmt.Errorf("player list: %w", err)
	}

	b := protocol.NewPacketBuilder()
	b.Header(protocol.RespPlayer)
	countOff := b.Reserve8()

	count := 0
	for _, p := range players {
		if count == maxPlayerEntries {
			break
		}
		mark := b.Len()
		b.WriteByte(byte(count))
		b.WriteNullString(p.Name)
		b.WriteInt32(0)   // score
		b.WriteFloat32(0) // duration
		if b.Len() > protocol.MaxPacketSize {
			b.Truncate(mark)
			break
		}
		count++
	}

	b.PatchUint8(countOff, uint8(count))
	return b.Build(), nil
}

func (d *Dispatcher) buildRules() ([]byte, error) {
	rules, err := d.rules.Rules()
	if err != nil {
		return nil, fmt.Errorf("rules: %w", err)
	}

	b := protocol.NewPacketBuilder()
	b.Header(protocol.RespRules)
	countOff := b.Reserve16()

	count := 0
	for _, r := range rules {
		if count == maxRuleEntries {
			break
		}
		mark := b.Len()
		b.WriteNullString(r.Name)
		b.WriteNullString(r.Value)
		if b.Len() > protocol.MaxPacketSize {
			b.Truncate(mark)
			break
		}
		count++
	}

	b.PatchUint16(countOff, uint16(count))
	return b.Build(), nil
}

func clampByte(n int) byte {
	switch {
	case n < 0:
		return 0
	case n > 0xFF:
		return 0xFF
	default:
		return byte(n)
	}
}

func responseLabel(tag byte) string {
	switch tag {
	case protocol.RespInfo:
		return "info"
	case protocol.RespPlayer:
		return "player"
	case protocol.RespRules:
		return "rules"
	case protocol.RespChallenge:
		return "challenge"
	default:
		return "unknown"
	}
}
