package session

import (
	"sync"
	"time"

	"github.com/eapache/queue"
)

// StandaloneStream tags events delivered over the long-lived GET stream.
const StandaloneStream = "standalone"

const subscriberBuffer = 64

type Event struct {
	Seq       int64
	Stream    string
	Data      []byte
	Timestamp time.Time
}

// EventLog keeps a sequence-numbered history of outbound messages and fans
// published events out to live subscribers of the same stream. Each stream
// retains at most limit events; sequence numbers are shared by all streams.
type EventLog struct {
	mu      sync.Mutex
	nextSeq int64
	limit   int
	history map[string]*queue.Queue
	subs    map[int]subscriber
	nextSub int
	closed  bool
}

type subscriber struct {
	stream string
	ch     chan Event
}

func NewEventLog(limit int) *EventLog {
	if limit < 1 {
		limit = 1
	}
	return &EventLog{
		limit:   limit,
		history: make(map[string]*queue.Queue),
		subs:    make(map[int]subscriber),
	}
}

// Publish records data and delivers it to subscribers of stream. Subscribers
// that cannot keep up are dropped.
func (l *EventLog) Publish(stream string, data []byte) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Event{}, ErrClosed
	}

	l.nextSeq++
	event := Event{
		Seq:       l.nextSeq,
		Stream:    stream,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	ring, ok := l.history[stream]
	if !ok {
		ring = queue.New()
		l.history[stream] = ring
	}
	ring.Add(event)
	for ring.Length() > l.limit {
		ring.Remove()
	}

	for id, sub := range l.subs {
		if sub.stream != stream {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			close(sub.ch)
			delete(l.subs, id)
		}
	}
	return event, nil
}

// Subscribe returns the retained events of stream newer than afterSeq and a
// channel of live events. The channel is closed when the log closes, when the
// subscriber falls behind, or when cancel is called.
func (l *EventLog) Subscribe(stream string, afterSeq int64) ([]Event, <-chan Event, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	replay := make([]Event, 0)
	if ring, ok := l.history[stream]; ok {
		for i := 0; i < ring.Length(); i++ {
			if event := ring.Get(i).(Event); event.Seq > afterSeq {
				replay = append(replay, event)
			}
		}
	}

	ch := make(chan Event, subscriberBuffer)
	if l.closed {
		close(ch)
		return replay, ch, func() {}
	}
	id := l.nextSub
	l.nextSub++
	l.subs[id] = subscriber{stream: stream, ch: ch}

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if sub, ok := l.subs[id]; ok {
			close(sub.ch)
			delete(l.subs, id)
		}
	}
	return replay, ch, cancel
}

// Len reports the number of retained events across all streams.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ring := range l.history {
		n += ring.Length()
	}
	return n
}

func (l *EventLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, sub := range l.subs {
		close(sub.ch)
		delete(l.subs, id)
	}
}
