package events

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"fraudproof/core/types"
)

const defaultStreamHistory = 1024

// StreamUpdate is one event published through a Stream, tagged with its
// position so reconnecting subscribers can resume after a cursor.
type StreamUpdate struct {
	Sequence uint64       `json:"sequence"`
	Cursor   string       `json:"cursor"`
	Event    *types.Event `json:"event"`
}

// Stream is an Emitter that keeps a bounded history and fans events out to
// live subscribers. Slow subscribers miss updates rather than blocking
// emitters.
type Stream struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	limit   int
	history []StreamUpdate
	subs    map[uint64]chan StreamUpdate
}

// NewStream returns a stream retaining up to historyLimit events. A
// non-positive limit uses the default.
func NewStream(historyLimit int) *Stream {
	if historyLimit <= 0 {
		historyLimit = defaultStreamHistory
	}
	return &Stream{limit: historyLimit, subs: make(map[uint64]chan StreamUpdate)}
}

// Emit implements the Emitter interface.
func (s *Stream) Emit(evt Event) {
	if s == nil || evt == nil || evt.Event() == nil {
		return
	}
	s.mu.Lock()
	s.seq++
	update := StreamUpdate{
		Sequence: s.seq,
		Cursor:   strconv.FormatUint(s.seq, 10),
		Event:    evt.Event().Clone(),
	}
	s.history = append(s.history, update)
	if len(s.history) > s.limit {
		trimmed := make([]StreamUpdate, s.limit)
		copy(trimmed, s.history[len(s.history)-s.limit:])
		s.history = trimmed
	}
	// Sends happen under the lock so cancel cannot close a channel mid-send.
	for _, ch := range s.subs {
		select {
		case ch <- cloneUpdate(update):
		default:
		}
	}
	s.mu.Unlock()
}

// Subscribe registers a subscriber for events after cursor. It returns the
// live channel, a cancel func and the retained backlog past the cursor. The
// subscription also ends when ctx is done.
func (s *Stream) Subscribe(ctx context.Context, cursor string) (<-chan StreamUpdate, func(), []StreamUpdate) {
	updates := make(chan StreamUpdate, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]StreamUpdate, 0, len(s.history))
	for _, entry := range s.history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneUpdate(entry))
		}
	}
	s.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return updates, cancel, backlog
}

func cloneUpdate(u StreamUpdate) StreamUpdate {
	u.Event = u.Event.Clone()
	return u
}
