package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pavelanni/parley/internal/model"
)

// tagged is a sample together with the session it was pushed for.
type tagged struct {
	ticket Ticket
	sample model.EmotionSample
}

// Feed is a channel-backed EmotionSource. Producers such as the websocket
// handler call Push with the ticket of the session they were opened for;
// the consumer registered with Start receives samples in order on a single
// goroutine. Samples tagged with any ticket other than the bound one are
// dropped, so a producer that outlives its session cannot leak samples into
// the next one.
type Feed struct {
	samples chan tagged

	mu     sync.Mutex
	ticket Ticket
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFeed creates a feed buffering up to size samples.
func NewFeed(size int) *Feed {
	if size <= 0 {
		size = HistoryLimit
	}
	return &Feed{samples: make(chan tagged, size)}
}

// Bind ties the feed to session t. Call it before Start.
func (f *Feed) Bind(t Ticket) {
	f.mu.Lock()
	f.ticket = t
	f.mu.Unlock()
}

// current returns the bound ticket and whether a consumer is running.
func (f *Feed) current() (Ticket, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticket, f.cancel != nil
}

// Start delivers samples to fn until ctx is cancelled or Stop is called.
func (f *Feed) Start(ctx context.Context, fn func(model.EmotionSample)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		return ErrFeedRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	f.cancel = cancel
	f.done = done

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-f.samples:
				if t, _ := f.current(); m.ticket != t {
					slog.Debug("stale emotion sample dropped", "session_id", m.ticket.SessionID)
					continue
				}
				fn(m.sample)
			}
		}
	}()
	return nil
}

// Stop halts delivery, waits for the consumer to return, and unbinds the
// session. Samples still buffered are discarded.
func (f *Feed) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.ticket = Ticket{}
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	for {
		select {
		case <-f.samples:
		default:
			return
		}
	}
}

// Push queues a sample for session t without blocking. It returns
// ErrNotActive while no consumer runs, ErrStaleTicket when t is not the
// bound session, and ErrFeedFull when the buffer has no room.
func (f *Feed) Push(t Ticket, s model.EmotionSample) error {
	cur, running := f.current()
	if !running {
		return ErrNotActive
	}
	if t != cur {
		return ErrStaleTicket
	}
	select {
	case f.samples <- tagged{ticket: t, sample: s}:
		return nil
	default:
		slog.Warn("emotion feed full, dropping sample", "emotion", s.Emotion)
		return ErrFeedFull
	}
}
