package network

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sourcequery-project/sourcequery/internal/protocol"
)

// splitPacketMagic marks a multi-packet response.
const splitPacketMagic uint32 = 0xFFFFFFFE

// ErrSplitResponse is returned when a server answers with a multi-packet response.
var ErrSplitResponse = errors.New("multi-packet responses are not supported")

// QueryClient sends A2S queries to any Source-compatible server, including
// this service's own responder.
type QueryClient struct {
	timeout time.Duration
	dialer  net.Dialer
}

// NewQueryClient creates a client with a per-exchange timeout.
func NewQueryClient(timeout time.Duration) *QueryClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &QueryClient{timeout: timeout}
}

// Info queries server information. Servers that require a challenge for
// A2S_INFO are answered by resending the request with the token appended.
func (c *QueryClient) Info(ctx context.Context, addr string) (*protocol.InfoResponse, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	req := protocol.InfoRequest()
	resp, err := c.exchange(ctx, conn, req)
	if err != nil {
		return nil, err
	}

	if kind, _ := protocol.ResponseKind(resp); kind == protocol.RespChallenge {
		token, err := protocol.DecodeChallenge(resp)
		if err != nil {
			return nil, err
		}
		req = protocol.NewPacketBuilder().WriteBytes(req).WriteInt32(token).Build()
		if resp, err = c.exchange(ctx, conn, req); err != nil {
			return nil, err
		}
	}

	return protocol.DecodeInfo(resp)
}

// Players queries the player list, performing the challenge handshake.
func (c *QueryClient) Players(ctx context.Context, addr string) ([]protocol.PlayerEntry, error) {
	resp, err := c.gated(ctx, addr, protocol.PlayerRequest)
	if err != nil {
		return nil, err
	}
	return protocol.DecodePlayers(resp)
}

// Rules queries the rule set, performing the challenge handshake.
func (c *QueryClient) Rules(ctx context.Context, addr string) ([]protocol.RuleEntry, error) {
	resp, err := c.gated(ctx, addr, protocol.RulesRequest)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeRules(resp)
}

// gated sends a request with an empty challenge, then repeats it with the
// token from the challenge response.
func (c *QueryClient) gated(ctx context.Context, addr string, build func(int32) []byte) ([]byte, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	resp, err := c.exchange(ctx, conn, build(-1))
	if err != nil {
		return nil, err
	}
	kind, err := protocol.ResponseKind(resp)
	if err != nil {
		return nil, err
	}
	if kind != protocol.RespChallenge {
		return resp, nil
	}

	token, err := protocol.DecodeChallenge(resp)
	if err != nil {
		return nil, err
	}
	if resp, err = c.exchange(ctx, conn, build(token)); err != nil {
		return nil, err
	}
	if kind, _ := protocol.ResponseKind(resp); kind == protocol.RespChallenge {
		return nil, errors.New("server rejected the challenge token")
	}
	return resp, nil
}

func (c *QueryClient) dial(ctx context.Context, addr string) (net.Conn, error) {
	conn, err := c.dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return conn, nil
}

func (c *QueryClient) exchange(ctx context.Context, conn net.Conn, req []byte) ([]byte, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("query write failed: %w", err)
	}

	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("query read failed: %w", err)
	}
	resp := buf[:n]

	if len(resp) >= 4 && binary.LittleEndian.Uint32(resp[:4]) == splitPacketMagic {
		return nil, ErrSplitResponse
	}
	return resp, nil
}
