package ws

import (
	"encoding/json"
	"sync"

	"voxeldiagram.app/internal/metrics"
	"voxeldiagram.app/internal/protocol"
	"voxeldiagram.app/internal/sim/diagram"
	"voxeldiagram.app/internal/sim/session"
)

// Feed fans commits and preview updates out to connected clients. Its
// callbacks run on the session loop goroutine and never block. A client
// whose queue is full for a CHANGE is disconnected, since it can no longer
// follow the diagram. PREVIEW goes to a one-slot channel that keeps only the
// latest overlay.
type Feed struct {
	mu      sync.Mutex
	clients map[string]*feedClient
}

type feedClient struct {
	out     chan []byte
	preview chan []byte
	lagged  chan struct{}
	lagOnce sync.Once
}

func NewFeed() *Feed {
	return &Feed{clients: map[string]*feedClient{}}
}

// Add registers a client. preview may be nil when the client does not want
// overlays. lagged is closed if the client falls behind.
func (f *Feed) Add(id string, out, preview chan []byte) (lagged <-chan struct{}) {
	c := &feedClient{out: out, preview: preview, lagged: make(chan struct{})}
	f.mu.Lock()
	f.clients[id] = c
	n := len(f.clients)
	f.mu.Unlock()
	metrics.FeedClients.Set(float64(n))
	return c.lagged
}

func (f *Feed) Remove(id string) {
	f.mu.Lock()
	delete(f.clients, id)
	n := len(f.clients)
	f.mu.Unlock()
	metrics.FeedClients.Set(float64(n))
}

func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// WriteCommit broadcasts one CHANGE per commit.
func (f *Feed) WriteCommit(e session.CommitEntry) error {
	b, err := json.Marshal(protocol.ChangeMsg{
		Type:            protocol.TypeChange,
		ProtocolVersion: protocol.Version,
		Seq:             e.Seq,
		Action:          e.Action,
		Removed:         e.Removed,
		Added:           e.Added,
	})
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		select {
		case c.out <- b:
		default:
			metrics.FeedDroppedTotal.Inc()
			c.lagOnce.Do(func() { close(c.lagged) })
		}
	}
	return nil
}

// DiagramChanged is a no-op; CHANGE is sent from WriteCommit, which carries
// the sequence number and action name.
func (f *Feed) DiagramChanged(*diagram.Transaction) {}

func (f *Feed) PreviewChanged(tx *diagram.Transaction) {
	msg := protocol.PreviewMsg{Type: protocol.TypePreview, ProtocolVersion: protocol.Version}
	if tx == nil {
		msg.Cleared = true
	} else {
		msg.Removed = session.BlocksFromInstances(tx.Removed())
		msg.Added = session.BlocksFromInstances(tx.Added())
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.clients {
		if c.preview == nil {
			continue
		}
		if !sendLatest(c.preview, b) {
			metrics.FeedDroppedTotal.Inc()
		}
	}
}

// sendLatest pushes b, dropping the oldest queued message if the channel is
// full. It reports whether b was queued.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}
