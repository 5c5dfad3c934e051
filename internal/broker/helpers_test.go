package broker

import (
	"sync"
	"testing"
	"time"
)

// envelopeCollector records delivered envelopes for assertions.
type envelopeCollector struct {
	mu   sync.Mutex
	envs []Envelope
}

func (c *envelopeCollector) handle(env Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

func (c *envelopeCollector) snapshot() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, len(c.envs))
	copy(out, c.envs)
	return out
}

// waitFor polls until the collector holds n envelopes.
func (c *envelopeCollector) waitFor(t *testing.T, n int) []Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d envelopes, have %d", n, len(c.snapshot()))
	return nil
}

func mustEnvelope(t *testing.T, typ MessageType, payload any) Envelope {
	t.Helper()
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	return env
}
