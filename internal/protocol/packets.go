// Package protocol implements the wire format of the Source-engine server
// query protocol (A2S): framing constants, request classification, a
// little-endian packet builder and decoders for the four response types.
// All multi-byte integers are little-endian and strings are zero-terminated.
package protocol

import "encoding/binary"

// PacketMagic prefixes every single-packet request and response.
const PacketMagic uint32 = 0xFFFFFFFF

// Request type bytes (client -> server).
const (
	ReqInfo      byte = 0x54 // 'T' A2S_INFO
	ReqPlayer    byte = 0x55 // 'U' A2S_PLAYER
	ReqRules     byte = 0x56 // 'V' A2S_RULES
	ReqChallenge byte = 0x57 // 'W' A2S_SERVERQUERY_GETCHALLENGE
)

// Response type bytes (server -> client).
const (
	RespInfo      byte = 0x49 // 'I'
	RespPlayer    byte = 0x44 // 'D'
	RespRules     byte = 0x45 // 'E'
	RespChallenge byte = 0x41 // 'A'
)

// Info response flag and identifier bytes.
const (
	ProtocolVersion     byte = 0x11
	FlagGamePort        byte = 0x80 // extra data flag: game port follows
	ServerTypeDedicated byte = 'd'
	EnvLinux            byte = 'l'
	EnvWindows          byte = 'w'
	EnvMac              byte = 'm'
	VisibilityPublic    byte = 0
	VACUnsecured        byte = 0
)

// MinRequestSize is magic plus the request type byte.
const MinRequestSize = 5

// ChallengeSize is the size of a challenge token on the wire.
const ChallengeSize = 4

// MaxPacketSize is the largest single-packet response a client accepts
// without split-packet reassembly.
const MaxPacketSize = 1400

// InfoQueryPayload is the fixed string carried by A2S_INFO requests.
const InfoQueryPayload = "Source Engine Query"

// RequestKind classifies an inbound request.
type RequestKind int

const (
	KindUnknown RequestKind = iota
	KindInfo
	KindPlayer
	KindRules
	KindChallenge
)

// String returns a short label used in logs and metrics.
func (k RequestKind) String() string {
	switch k {
	case KindInfo:
		return "info"
	case KindPlayer:
		return "player"
	case KindRules:
		return "rules"
	case KindChallenge:
		return "challenge"
	default:
		return "unknown"
	}
}

// KindOf maps a request type byte to its kind.
func KindOf(tag byte) RequestKind {
	switch tag {
	case ReqInfo:
		return KindInfo
	case ReqPlayer:
		return KindPlayer
	case ReqRules:
		return KindRules
	case ReqChallenge:
		return KindChallenge
	default:
		return KindUnknown
	}
}

// Request is a framed inbound query. Payload aliases the datagram buffer.
type Request struct {
	Kind    RequestKind
	Tag     byte
	Payload []byte
}

// FrameError describes why a datagram was not a valid request frame.
type FrameError int

const (
	FrameOK FrameError = iota
	FrameShort
	FrameBadMagic
)

// String returns a short label used in metrics.
func (e FrameError) String() string {
	switch e {
	case FrameShort:
		return "short"
	case FrameBadMagic:
		return "bad_magic"
	default:
		return "ok"
	}
}

// ParseRequest validates the framing of a datagram and classifies it.
// Unknown type bytes are returned as KindUnknown with FrameOK.
func ParseRequest(packet []byte) (Request, FrameError) {
	if len(packet) < MinRequestSize {
		return Request{}, FrameShort
	}
	if binary.LittleEndian.Uint32(packet[:4]) != PacketMagic {
		return Request{}, FrameBadMagic
	}
	tag := packet[4]
	return Request{Kind: KindOf(tag), Tag: tag, Payload: packet[MinRequestSize:]}, FrameOK
}

// Challenge extracts the leading little-endian challenge token from the payload.
func (r Request) Challenge() (int32, bool) {
	if len(r.Payload) < ChallengeSize {
		return 0, false
	}
	return int32(binary.LittleEndian.Uint32(r.Payload[:ChallengeSize])), true
}
