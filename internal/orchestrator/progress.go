package orchestrator

import (
	"sync"
	"time"

	"github.com/tokenlens/tokenlens/internal/monitoring"
)

// Event types carried over the progress stream.
const (
	EventProgress  = "progress"
	EventCompleted = "completed"
	EventFailed    = "failed"
)

// Event is one progress update for a scan. Steps are assigned by the bus
// and strictly increase per scan, so they double as SSE event IDs.
type Event struct {
	Type       string    `json:"type"`
	ScanID     string    `json:"scanId"`
	Step       int       `json:"step"`
	TotalSteps int       `json:"totalSteps"`
	Phase      string    `json:"phase"`
	Message    string    `json:"message"`
	Details    []string  `json:"details,omitempty"`
	Time       time.Time `json:"time"`
}

// Terminal reports whether the event ends its scan's stream.
func (e Event) Terminal() bool { return e.Type != EventProgress }

// subscriberBuffer bounds a live subscriber channel. Slow consumers lose
// intermediate progress events but never the terminal one: the bus closes
// their channel and the full history stays replayable.
const subscriberBuffer = 64

// estimatedSteps sizes progress bars; streams may emit fewer or more.
const estimatedSteps = 32

type subscriber struct {
	ch chan Event
}

type stream struct {
	events     []Event
	subs       map[int]*subscriber
	nextSubID  int
	terminalAt time.Time
}

// Bus fans scan progress out to SSE subscribers. Every event is retained
// until the janitor reaps the stream, ReplayRetention after its terminal
// event, which gives late and reconnecting subscribers a full replay.
type Bus struct {
	mu        sync.Mutex
	streams   map[string]*stream
	retention time.Duration
	metrics   *monitoring.MetricsCollector
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewBus creates the bus and starts its cleanup janitor.
func NewBus(retention time.Duration, metrics *monitoring.MetricsCollector) *Bus {
	b := &Bus{
		streams:   make(map[string]*stream),
		retention: retention,
		metrics:   metrics,
		stop:      make(chan struct{}),
	}
	b.wg.Add(1)
	go b.janitor()
	return b
}

// Close stops the janitor and closes every live subscriber.
func (b *Bus) Close() {
	close(b.stop)
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.streams {
		for _, sub := range s.subs {
			close(sub.ch)
		}
		s.subs = map[int]*subscriber{}
	}
}

// Publish appends an event to the scan's stream and fans it out. Progress
// events are droppable per subscriber; a terminal event closes all live
// channels, forcing subscribers to drain the rest from the retained history.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.streams[ev.ScanID]
	if s == nil {
		s = &stream{subs: map[int]*subscriber{}}
		b.streams[ev.ScanID] = s
	}
	if !s.terminalAt.IsZero() {
		return // stream already ended
	}

	ev.Step = len(s.events) + 1
	if ev.TotalSteps == 0 {
		ev.TotalSteps = estimatedSteps
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.events = append(s.events, ev)

	for _, sub := range s.subs {
		select {
		case sub.ch <- ev:
		default:
			if b.metrics != nil {
				b.metrics.RecordEventDropped()
			}
		}
	}
	if ev.Terminal() {
		s.terminalAt = ev.Time
		for _, sub := range s.subs {
			close(sub.ch)
		}
		s.subs = map[int]*subscriber{}
	}
}

// Events returns the retained history after the given step.
func (b *Bus) Events(scanID string, afterStep int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.streams[scanID]
	if s == nil || afterStep >= len(s.events) {
		return nil
	}
	out := make([]Event, len(s.events)-afterStep)
	copy(out, s.events[afterStep:])
	return out
}

// Subscribe attaches to a scan's stream. It returns the replay of events
// after afterStep and a live channel that closes when the stream ends (the
// caller then drains the remainder via Events). ok is false when the scan
// has no retained stream at all.
func (b *Bus) Subscribe(scanID string, afterStep int) (replay []Event, live <-chan Event, cancel func(), ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.streams[scanID]
	if s == nil {
		return nil, nil, nil, false
	}
	if afterStep < len(s.events) {
		replay = make([]Event, len(s.events)-afterStep)
		copy(replay, s.events[afterStep:])
	}

	ch := make(chan Event, subscriberBuffer)
	if !s.terminalAt.IsZero() {
		// Ended stream: replay carries everything, nothing live follows.
		close(ch)
		return replay, ch, func() {}, true
	}

	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = &subscriber{ch: ch}

	cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, exists := s.subs[id]; exists {
			delete(s.subs, id)
			close(sub.ch)
		}
	}
	return replay, ch, cancel, true
}

// Track registers a stream before its first event so subscribers arriving
// between accept and queue drain find it.
func (b *Bus) Track(scanID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams[scanID] == nil {
		b.streams[scanID] = &stream{subs: map[int]*subscriber{}}
	}
}

func (b *Bus) janitor() {
	defer b.wg.Done()
	interval := b.retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case now := <-ticker.C:
			b.mu.Lock()
			for id, s := range b.streams {
				if !s.terminalAt.IsZero() && now.Sub(s.terminalAt) > b.retention {
					delete(b.streams, id)
				}
			}
			b.mu.Unlock()
		}
	}
}
