// Package reassembly parks control messages that reference not-yet-arrived
// binary payloads and reassembles them as the matching binary frames land.
package reassembly

import (
	"context"
	"sync"
	"time"

	"github.com/meshbotics/gateway/internal/metrics"
	"github.com/meshbotics/gateway/internal/protocol"
)

// PartialMessage is a control envelope waiting on one or more binary
// frames before it can be delivered to its destination interface.
type PartialMessage struct {
	Envelope  *protocol.Envelope
	Missing   []protocol.Placeholder
	ArrivedAt time.Time
}

// Buffer holds the partial messages for a single avatar session, indexed
// by the URI of every slot still outstanding. A message with N missing
// slots appears under N URIs until the last one resolves.
type Buffer struct {
	mu    sync.Mutex
	byURI map[string]*PartialMessage
	nowFn func() time.Time
}

// New creates an empty reassembly buffer.
func New() *Buffer {
	return &Buffer{
		byURI: make(map[string]*PartialMessage),
		nowFn: time.Now,
	}
}

// Park scans env's data for URI placeholders and, if any are found,
// stores env until every placeholder resolves and returns true. It
// returns false, storing nothing, if env has no placeholders (the
// caller should deliver it immediately in that case).
func (b *Buffer) Park(env *protocol.Envelope) (parked bool) {
	placeholders := protocol.ScanPlaceholders(map[string]interface{}(env.Data))
	if len(placeholders) == 0 {
		return false
	}

	pm := &PartialMessage{
		Envelope:  env,
		Missing:   placeholders,
		ArrivedAt: b.nowFn(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range placeholders {
		b.byURI[p.URI] = pm
	}
	return true
}

// Resolve installs payload for the binary frame addressed by uri. It
// returns the completed envelope and true once every placeholder the
// envelope was waiting on has arrived; otherwise it returns nil, false.
// An unknown uri (no parked message, or a duplicate/late frame for an
// already-completed message) is reported via complete=false with a nil
// envelope and no error — callers treat it as a no-op, matching §4.1's
// "silently discard unmatched binary frames" guidance for the common
// case of a frame that arrived after its owner was evicted by Sweep.
func (b *Buffer) Resolve(uri string, payload []byte) (env *protocol.Envelope, complete bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pm, ok := b.byURI[uri]
	if !ok {
		return nil, false
	}
	delete(b.byURI, uri)

	for i := range pm.Missing {
		if pm.Missing[i].URI == uri {
			protocol.InstallBinary(pm.Missing[i], payload)
			pm.Missing = append(pm.Missing[:i], pm.Missing[i+1:]...)
			break
		}
	}

	if len(pm.Missing) > 0 {
		return nil, false
	}
	return pm.Envelope, true
}

// Sweep drops every parked message whose ArrivedAt is older than
// maxAge, as measured against now. It returns the number of distinct
// messages evicted. This removes all outstanding placeholders for an
// evicted message, never just the expired one (§9: the source's sweep
// dropped the wrong side of this distinction).
func (b *Buffer) Sweep(now time.Time, maxAge time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[*PartialMessage]bool)
	evicted := 0
	for uri, pm := range b.byURI {
		if seen[pm] {
			delete(b.byURI, uri)
			continue
		}
		if now.Sub(pm.ArrivedAt) > maxAge {
			seen[pm] = true
			evicted++
			delete(b.byURI, uri)
		}
	}
	if evicted > 0 {
		metrics.ReassemblyBufferEvicted.Add(float64(evicted))
	}
	return evicted
}

// Len reports the number of distinct outstanding URIs, not distinct
// messages (a message with two missing slots counts twice).
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byURI)
}

// StartSweeper runs Sweep on interval until ctx is cancelled.
func (b *Buffer) StartSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				b.Sweep(t, maxAge)
			}
		}
	}()
}
