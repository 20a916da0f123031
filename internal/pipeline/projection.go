package pipeline

import (
	"log/slog"
	"sync"
)

const defaultSubscriberCapacity = 256

// EventKind distinguishes projection events.
type EventKind string

const (
	EventStatus  EventKind = "status"
	EventPackage EventKind = "package"
)

// Event is one observer notification as seen by projection subscribers.
type Event struct {
	Kind        EventKind      `json:"kind"`
	Sequence    int64          `json:"sequence"`
	Name        string         `json:"name"`
	Status      ContractStatus `json:"status"`
	PackageName string         `json:"package,omitempty"`
}

// Snapshot is a point-in-time copy of a projection.
type Snapshot struct {
	Sequence int64                     `json:"sequence"`
	Statuses map[string]ContractStatus `json:"statuses"`
	Packages map[string]string         `json:"packages,omitempty"`
	Closed   bool                      `json:"closed"`
}

// ProjectionOption customizes Projection construction.
type ProjectionOption func(*Projection)

// ProjectionWithSubscriberCapacity overrides the buffered channel size per
// subscriber.
func ProjectionWithSubscriberCapacity(capacity int) ProjectionOption {
	return func(p *Projection) {
		if capacity > 0 {
			p.channelSize = capacity
		}
	}
}

// ProjectionWithLogger injects a logger for drop diagnostics.
func ProjectionWithLogger(logger *slog.Logger) ProjectionOption {
	return func(p *Projection) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Projection is an Observer that keeps the latest status of every artifact
// for concurrent readers and pushes each change to subscribers. Slow
// subscribers lose their oldest queued events; Snapshot always reflects every
// change.
type Projection struct {
	mu          sync.RWMutex
	statuses    map[string]ContractStatus
	packages    map[string]string
	subscribers map[*subscriber]struct{}
	sequence    int64
	closed      bool
	channelSize int
	logger      *slog.Logger
}

// NewProjection constructs an empty projection.
func NewProjection(opts ...ProjectionOption) *Projection {
	p := &Projection{
		statuses:    map[string]ContractStatus{},
		packages:    map[string]string{},
		subscribers: map[*subscriber]struct{}{},
		channelSize: defaultSubscriberCapacity,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Seed records the initial statuses of a run without notifying subscribers.
func (p *Projection) Seed(names []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range names {
		if _, ok := p.statuses[name]; !ok {
			p.statuses[name] = ContractStatus{Name: name, State: StateWaiting}
		}
	}
}

// OnStatusChange satisfies Observer.
func (p *Projection) OnStatusChange(name string, status ContractStatus) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.statuses[name] = status
	p.sequence++
	event := Event{Kind: EventStatus, Sequence: p.sequence, Name: name, Status: status}
	subs := p.snapshotSubscribers()
	p.mu.Unlock()
	for _, sub := range subs {
		sub.deliver(event)
	}
}

// OnPackageNameDiscovered satisfies Observer.
func (p *Projection) OnPackageNameDiscovered(name, packageName string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.packages[name] = packageName
	p.sequence++
	event := Event{Kind: EventPackage, Sequence: p.sequence, Name: name, Status: p.statuses[name], PackageName: packageName}
	subs := p.snapshotSubscribers()
	p.mu.Unlock()
	for _, sub := range subs {
		sub.deliver(event)
	}
}

// Get returns the latest status of name.
func (p *Projection) Get(name string) (ContractStatus, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	status, ok := p.statuses[name]
	return status, ok
}

// Snapshot copies the current state.
func (p *Projection) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	packages := make(map[string]string, len(p.packages))
	for name, pkg := range p.packages {
		packages[name] = pkg
	}
	return Snapshot{
		Sequence: p.sequence,
		Statuses: cloneStatuses(p.statuses),
		Packages: packages,
		Closed:   p.closed,
	}
}

// Subscription represents an active projection subscription. Events closes
// when the subscription or the projection is closed.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Subscribe registers for every subsequent change. Subscribing to a closed
// projection yields an already closed channel.
func (p *Projection) Subscribe() Subscription {
	sub := newSubscriber(p.channelSize, p.logger)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sub.close()
		return Subscription{Events: sub.ch}
	}
	p.subscribers[sub] = struct{}{}
	p.mu.Unlock()
	return Subscription{
		Events: sub.ch,
		cancel: func() {
			p.removeSubscriber(sub)
		},
	}
}

// Close ends the projection: further changes are ignored and every
// subscription channel is closed.
func (p *Projection) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	subs := p.snapshotSubscribers()
	p.subscribers = map[*subscriber]struct{}{}
	p.mu.Unlock()
	for _, sub := range subs {
		sub.close()
	}
}

func (p *Projection) snapshotSubscribers() []*subscriber {
	if len(p.subscribers) == 0 {
		return nil
	}
	items := make([]*subscriber, 0, len(p.subscribers))
	for sub := range p.subscribers {
		items = append(items, sub)
	}
	return items
}

func (p *Projection) removeSubscriber(sub *subscriber) {
	p.mu.Lock()
	delete(p.subscribers, sub)
	p.mu.Unlock()
	sub.close()
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
	logger *slog.Logger
}

func newSubscriber(capacity int, logger *slog.Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{ch: make(chan Event, capacity), logger: logger}
}

// deliver never blocks. A full queue drops its oldest event to make room.
func (s *subscriber) deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
		return
	default:
	}
	select {
	case oldest := <-s.ch:
		s.logger.Debug("projection: dropped event", "artifact", oldest.Name, "sequence", oldest.Sequence)
	default:
	}
	select {
	case s.ch <- event:
	default:
		s.logger.Debug("projection: dropped event", "artifact", event.Name, "sequence", event.Sequence)
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
