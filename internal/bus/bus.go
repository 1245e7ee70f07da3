// Package bus fans typed radio events out to every connected TCP client as
// rendered text lines, honoring a configurable backpressure policy for
// slow readers. Grounded directly on the teacher's internal/hub.Hub:
// client set, its locking shape, and the snapshot-then-send backpressure
// loop, generalized from a broadcast-only CAN frame hub to one that also
// supports addressing a single client (needed for GetResult/SetResult,
// which spec.md routes only to the current control holder).
package bus

import (
	"sync"

	"github.com/kstaniek/sircond/internal/arbiter"
	"github.com/kstaniek/sircond/internal/logging"
	"github.com/kstaniek/sircond/internal/metrics"
)

// BackpressurePolicy selects what happens when a client's outbound queue
// is full at broadcast time.
type BackpressurePolicy int

const (
	PolicyDrop BackpressurePolicy = iota
	PolicyKick
)

// Client is one connected TCP client's outbound side: a buffered line
// queue drained by the server's writer goroutine, and a Closed channel
// the bus signals to force a disconnect under the kick policy.
type Client struct {
	ID        arbiter.ClientID
	Out       chan string
	Closed    chan struct{}
	closeOnce sync.Once
}

// NewClient allocates a Client with a buffered Out channel of size buf.
func NewClient(id arbiter.ClientID, buf int) *Client {
	return &Client{ID: id, Out: make(chan string, buf), Closed: make(chan struct{})}
}

// Close signals the client is closed (idempotent).
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.Closed)
	})
}

// Bus is the set of connected clients and the broadcast/unicast fanout
// logic over them.
type Bus struct {
	mu         sync.RWMutex
	clients    map[*Client]struct{}
	OutBufSize int
	Policy     BackpressurePolicy
}

// New creates a Bus with default settings.
func New() *Bus { return &Bus{clients: make(map[*Client]struct{})} }

// Add registers a client with the bus.
func (b *Bus) Add(c *Client) {
	b.mu.Lock()
	prev := len(b.clients)
	b.clients[c] = struct{}{}
	cur := len(b.clients)
	b.mu.Unlock()
	metrics.SetActiveClients(cur)
	if prev == 0 && cur == 1 {
		logging.L().Info("clients_first_connected")
	}
}

// Remove unregisters a client; safe to call multiple times.
func (b *Bus) Remove(c *Client) {
	b.mu.Lock()
	_, existed := b.clients[c]
	if existed {
		delete(b.clients, c)
	}
	cur := len(b.clients)
	b.mu.Unlock()
	select {
	case <-c.Closed:
	default:
		c.Close()
	}
	metrics.SetActiveClients(cur)
	if existed && cur == 0 {
		logging.L().Info("clients_last_disconnected")
	}
}

// Broadcast sends line to every connected client, honoring the
// backpressure policy for any whose queue is full.
func (b *Bus) Broadcast(line string) {
	clients := b.Snapshot()
	metrics.SetBroadcastFanout(len(clients))
	b.sampleQueueDepth(clients)
	for _, c := range clients {
		b.deliver(c, line)
	}
}

// Unicast sends line to the single client identified by id, if still
// connected. It reports whether a matching client was found.
func (b *Bus) Unicast(id arbiter.ClientID, line string) bool {
	b.mu.RLock()
	var target *Client
	for c := range b.clients {
		if c.ID == id {
			target = c
			break
		}
	}
	b.mu.RUnlock()
	if target == nil {
		return false
	}
	b.deliver(target, line)
	return true
}

func (b *Bus) deliver(c *Client, line string) {
	select {
	case c.Out <- line:
	default:
		if b.Policy == PolicyKick {
			metrics.IncBusKick()
			c.Close() // signal writer to exit; server will Remove on disconnect
		} else {
			metrics.IncBusDrop()
		}
	}
}

func (b *Bus) sampleQueueDepth(clients []*Client) {
	if len(clients) == 0 {
		return
	}
	max, sum := 0, 0
	for _, c := range clients {
		l := len(c.Out)
		if l > max {
			max = l
		}
		sum += l
	}
	metrics.SetQueueDepth(max, sum/len(clients))
}

// Snapshot returns a slice copy of current clients (read-only use).
func (b *Bus) Snapshot() []*Client {
	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()
	return clients
}

// Count returns the number of active clients.
func (b *Bus) Count() int { b.mu.RLock(); n := len(b.clients); b.mu.RUnlock(); return n }
