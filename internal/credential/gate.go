package credential

import (
	"errors"
	"sync"
)

// ErrMissing is returned when an operation requires the access secret
// before one has been supplied. Callers treat it as a precondition
// failure, not a user-visible error.
var ErrMissing = errors.New("credential not set")

// Gate holds the opaque access secret and gates dependent components
// until it is set. The secret is write-once: the first Set wins and
// later calls are ignored for the lifetime of the process.
type Gate struct {
	mu     sync.RWMutex
	secret string
	set    bool
	ready  chan struct{}
}

// NewGate creates an empty credential gate.
func NewGate() *Gate {
	return &Gate{
		ready: make(chan struct{}),
	}
}

// Set stores the secret exactly once per session. Subsequent calls are
// no-ops. An empty secret is ignored.
func (g *Gate) Set(secret string) {
	if secret == "" {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.set {
		return
	}
	g.secret = secret
	g.set = true
	close(g.ready)
}

// Get returns the secret, or ErrMissing if none has been set.
func (g *Gate) Get() (string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.set {
		return "", ErrMissing
	}
	return g.secret, nil
}

// Ready returns a channel that is closed once a secret becomes
// available. Dependent components block on it before their first call.
func (g *Gate) Ready() <-chan struct{} {
	return g.ready
}
