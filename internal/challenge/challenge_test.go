package challenge

import (
	"fmt"
	"net/netip"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func newTestEngine(secret uint32) (*Engine, *fakeClock) {
	clock := &fakeClock{t: time.UnixMilli(1_700_000_000_000)}
	return NewWithSecret(secret, clock.now), clock
}

func TestNew(t *testing.T) {
	e, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	addr := netip.MustParseAddrPort("192.0.2.1:27015")
	if !e.Validate(addr, e.Generate(addr)) {
		t.Fatal("token from a fresh engine did not validate")
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	e, _ := newTestEngine(0xDEADBEEF)

	addrs := []string{
		"127.0.0.1:1",
		"10.0.0.1:27015",
		"255.255.255.255:65535",
		"0.0.0.0:0",
		"[::1]:5521",
		"[2001:db8::42]:40000",
	}
	for _, s := range addrs {
		addr := netip.MustParseAddrPort(s)
		if !e.Validate(addr, e.Generate(addr)) {
			t.Errorf("%s: generated token did not validate", s)
		}
	}
}

func TestValidate_Window(t *testing.T) {
	e, clock := newTestEngine(12345)
	addr := netip.MustParseAddrPort("198.51.100.7:5521")
	token := e.Generate(addr)

	for i := 0; i < WindowBuckets; i++ {
		if !e.Validate(addr, token) {
			t.Fatalf("token rejected %d buckets after issue", i)
		}
		clock.t = clock.t.Add(BucketSize)
	}

	if e.Validate(addr, token) {
		t.Fatalf("token still valid %d buckets after issue", WindowBuckets)
	}
}

func TestValidate_WrongToken(t *testing.T) {
	e, _ := newTestEngine(1)
	addr := netip.MustParseAddrPort("203.0.113.9:27015")
	token := e.Generate(addr)

	if e.Validate(addr, token+1<<20) {
		t.Fatal("altered token validated")
	}
}

func TestGenerate_SecretMatters(t *testing.T) {
	// The secrets differ above the bits a bucket step can flip, so the
	// previous-bucket check cannot cancel the difference.
	a, _ := newTestEngine(1)
	b, _ := newTestEngine(1 | 1<<24)
	addr := netip.MustParseAddrPort("203.0.113.9:27015")

	if a.Generate(addr) == b.Generate(addr) {
		t.Fatal("engines with different secrets produced the same token")
	}
	if b.Validate(addr, a.Generate(addr)) {
		t.Fatal("token from another process validated")
	}
}

func TestGenerate_DistinctSenders(t *testing.T) {
	e, _ := newTestEngine(0x5EC2E7)

	const n = 130
	addrs := make([]netip.AddrPort, n)
	tokens := make([]int32, n)
	for i := range addrs {
		addrs[i] = netip.MustParseAddrPort(fmt.Sprintf("10.%d.%d.%d:%d", i%7, i/7, 1+i%13, 20000+i*37))
		tokens[i] = e.Generate(addrs[i])
	}

	for i := range addrs {
		if !e.Validate(addrs[i], tokens[i]) {
			t.Fatalf("%s: own token rejected", addrs[i])
		}
		for j := range addrs {
			if i != j && e.Validate(addrs[j], tokens[i]) {
				t.Fatalf("token for %s accepted from %s", addrs[i], addrs[j])
			}
		}
	}
}

func TestAddressHash_MappedIPv4(t *testing.T) {
	v4 := netip.MustParseAddr("192.0.2.10")
	mapped := netip.MustParseAddr("::ffff:192.0.2.10")
	if AddressHash(v4) != AddressHash(mapped) {
		t.Fatal("mapped IPv4 hashed differently from plain IPv4")
	}
	if AddressHash(v4) == AddressHash(netip.MustParseAddr("192.0.2.11")) {
		t.Fatal("adjacent addresses share a hash")
	}
}
