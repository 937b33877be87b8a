// Package challenge issues and checks stateless anti-spoofing tokens for
// A2S player and rules queries. A token is derived from a per-process
// secret, a 30 second time bucket and the sender's address, so nothing
// is stored between the challenge and the follow-up request.
package challenge

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"net/netip"
	"time"
)

const (
	// BucketSize is the granularity of token validity.
	BucketSize = 30 * time.Second
	// WindowBuckets is how many buckets, counting the current one, a token stays valid.
	WindowBuckets = 3
)

// Engine generates and validates challenge tokens. It is safe for
// concurrent use: the secret never changes after construction.
type Engine struct {
	secret uint32
	now    func() time.Time
}

// New creates an Engine with a random secret drawn from the OS.
func New() (*Engine, error) {
	var raw [4]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return nil, fmt.Errorf("failed to generate challenge secret: %w", err)
	}
	return NewWithSecret(binary.LittleEndian.Uint32(raw[:]), time.Now), nil
}

// NewWithSecret creates an Engine with a fixed secret and clock.
func NewWithSecret(secret uint32, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{secret: secret, now: now}
}

// Generate returns the token for addr in the current time bucket.
func (e *Engine) Generate(addr netip.AddrPort) int32 {
	return e.token(addr, e.bucket())
}

// Validate reports whether token was issued to addr within the last
// WindowBuckets buckets.
func (e *Engine) Validate(addr netip.AddrPort, token int32) bool {
	current := e.bucket()
	for i := int64(0); i < WindowBuckets; i++ {
		if e.token(addr, current-i) == token {
			return true
		}
	}
	return false
}

func (e *Engine) bucket() int64 {
	return e.now().UnixMilli() / BucketSize.Milliseconds()
}

func (e *Engine) token(addr netip.AddrPort, bucket int64) int32 {
	return int32(e.secret ^ uint32(bucket) ^ AddressHash(addr.Addr()) ^ uint32(addr.Port()))
}

// AddressHash is FNV-1a over the raw address bytes. IPv4-mapped IPv6
// addresses hash the same as their IPv4 form.
func AddressHash(ip netip.Addr) uint32 {
	h := fnv.New32a()
	h.Write(ip.Unmap().AsSlice())
	return h.Sum32()
}
