// Package identity fabricates per-attempt client identities.
//
// Servers that throttle on client-supplied fields (X-Forwarded-For,
// User-Agent) accept them at face value, so a fresh identity per attempt
// keeps each one under the server's per-identity threshold.
package identity

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/vietddude/vaultprobe/internal/core/domain"
)

// Header names carried by a generated identity.
const (
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderUserAgent    = "User-Agent"
)

// DefaultSignatures is the client signature pool.
var DefaultSignatures = []string{
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/135.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/109.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Firefox/109.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.1 Safari/605.1.15",
}

// Options selects which identity fields are rotated.
type Options struct {
	SpoofAddress    bool
	RotateSignature bool
	Signatures      []string
}

// Generate builds an identity from rng. It holds no state of its own, so a
// seeded rng yields a reproducible sequence.
func Generate(rng *rand.Rand, opts Options) domain.Identity {
	pool := opts.Signatures
	if len(pool) == 0 {
		pool = DefaultSignatures
	}

	id := domain.Identity{
		SourceAddress:   Address(rng),
		ClientSignature: pool[0],
		Headers:         make(map[string]string, 2),
	}
	if opts.RotateSignature {
		id.ClientSignature = pool[rng.Intn(len(pool))]
	}

	id.Headers[HeaderUserAgent] = id.ClientSignature
	if opts.SpoofAddress {
		id.Headers[HeaderForwardedFor] = id.SourceAddress
	}
	return id
}

// Address draws a 192.168.x.y address with x in [0,254] and y in [1,253],
// skipping the network, gateway-broadcast and broadcast host values.
func Address(rng *rand.Rand) string {
	third := rng.Intn(255)
	fourth := rng.Intn(253) + 1
	return fmt.Sprintf("192.168.%d.%d", third, fourth)
}

// Rotator hands out a new identity per call from a shared randomness source.
type Rotator struct {
	mu   sync.Mutex
	rng  *rand.Rand
	opts Options
}

// NewRotator creates a rotator. Pass rand.NewSource(seed) for deterministic output.
func NewRotator(src rand.Source, opts Options) *Rotator {
	return &Rotator{
		rng:  rand.New(src),
		opts: opts,
	}
}

// Next returns a fresh identity.
func (r *Rotator) Next() domain.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Generate(r.rng, r.opts)
}
