package task

import (
	"sync"
)

type EventType string

const (
	EventUpsert EventType = "upsert"
	EventRemove EventType = "remove"
)

type Event struct {
	Type EventType `json:"type"`
	ID   string    `json:"id"`
	Task *Record   `json:"task,omitempty"`
}

// Bus fans events out to subscriptions. Publishing never blocks on a subscriber.
type Bus struct {
	mux  sync.Mutex
	subs map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{
		mux:  sync.Mutex{},
		subs: make(map[*Subscription]struct{}),
	}
}

func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:       b,
		mux:       sync.Mutex{},
		queue:     nil,
		notify:    make(chan struct{}, 1),
		out:       make(chan Event),
		done:      make(chan struct{}),
		closeOnce: sync.Once{},
	}
	b.mux.Lock()
	b.subs[s] = struct{}{}
	b.mux.Unlock()
	go s.pump()
	return s
}

// SubscribeFunc calls fn for every event, in order, from a dedicated goroutine.
func (b *Bus) SubscribeFunc(fn func(Event)) (unsubscribe func()) {
	s := b.Subscribe()
	go func() {
		for ev := range s.Events() {
			fn(ev)
		}
	}()
	return s.Close
}

func (b *Bus) publish(ev Event) {
	b.mux.Lock()
	defer b.mux.Unlock()
	for s := range b.subs {
		out := ev
		if nil != ev.Task {
			rec := ev.Task.Clone()
			out.Task = &rec
		}
		s.push(out)
	}
}

func (b *Bus) remove(s *Subscription) {
	b.mux.Lock()
	delete(b.subs, s)
	b.mux.Unlock()
}

// Subscription owns an unbounded ordered queue of events.
type Subscription struct {
	bus       *Bus
	mux       sync.Mutex
	queue     []Event
	notify    chan struct{}
	out       chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// Events is closed after Close is called.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s)
		close(s.done)
	})
}

func (s *Subscription) push(ev Event) {
	s.mux.Lock()
	s.queue = append(s.queue, ev)
	s.mux.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mux.Lock()
		if len(s.queue) == 0 {
			s.mux.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{} //nolint:exhaustruct
		s.queue = s.queue[1:]
		s.mux.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
