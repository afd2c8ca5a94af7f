package events

import (
	"sync"

	"lendledger/core/types"
)

const (
	defaultFeedBacklog    = 256
	defaultSubscriberSize = 64
)

// Record pairs an emitted payload with its position in the feed.
type Record struct {
	Sequence uint64       `json:"sequence"`
	Event    *types.Event `json:"event"`
}

// Feed is an Emitter that fans payload events out to live subscribers and
// keeps a bounded backlog so late subscribers can resume from a cursor.
// Slow subscribers drop events rather than block the emitting operation.
type Feed struct {
	mu      sync.Mutex
	seq     uint64
	backlog []Record
	limit   int
	subs    map[uint64]chan Record
	nextSub uint64
	dropped uint64
}

// NewFeed constructs a feed retaining up to backlog records.
func NewFeed(backlog int) *Feed {
	if backlog <= 0 {
		backlog = defaultFeedBacklog
	}
	return &Feed{limit: backlog, subs: make(map[uint64]chan Record)}
}

// Emit implements the Emitter interface. Events that do not implement Payload
// are ignored.
func (f *Feed) Emit(evt Event) {
	if f == nil || evt == nil {
		return
	}
	payload, ok := evt.(Payload)
	if !ok {
		return
	}
	rendered := payload.Event()
	if rendered == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	record := Record{Sequence: f.seq, Event: rendered.Clone()}
	f.backlog = append(f.backlog, record)
	if len(f.backlog) > f.limit {
		f.backlog = append([]Record(nil), f.backlog[len(f.backlog)-f.limit:]...)
	}
	for _, ch := range f.subs {
		select {
		case ch <- record:
		default:
			f.dropped++
		}
	}
}

// Subscribe registers a subscriber and returns the backlog after cursor, the
// live channel and a cancel function releasing the subscription.
func (f *Feed) Subscribe(cursor uint64) ([]Record, <-chan Record, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	backlog := make([]Record, 0, len(f.backlog))
	for _, record := range f.backlog {
		if record.Sequence > cursor {
			backlog = append(backlog, record)
		}
	}
	f.nextSub++
	id := f.nextSub
	ch := make(chan Record, defaultSubscriberSize)
	f.subs[id] = ch
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
		})
	}
	return backlog, ch, cancel
}

// Sequence returns the sequence number of the latest emitted record.
func (f *Feed) Sequence() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (f *Feed) Dropped() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
