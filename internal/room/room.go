package room

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultInboxSize bounds each participant's pending event queue.
const DefaultInboxSize = 256

// Envelope wraps a broadcast event with its publisher identity so
// receivers can apply origin guards.
type Envelope struct {
	Origin string
	Event  Event
}

// Handler consumes events delivered to a participant. Handlers for one
// participant run sequentially on a dedicated goroutine, so a publisher's
// events are observed in publish order.
type Handler func(Envelope)

// Room is an in-process broadcast channel. Every published event is
// fanned out to all participants except the publisher, which keeps
// actors from reacting to their own broadcasts.
type Room struct {
	name   string
	logger *zap.Logger

	mu           sync.RWMutex
	participants map[string]*Participant
	closed       bool

	inboxSize int
	published func(ev Event)
	dropped   func(identity string, ev Event)
}

// Option configures a Room.
type Option func(*Room)

// WithLogger sets the room logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Room) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithInboxSize overrides the per-participant queue depth.
func WithInboxSize(n int) Option {
	return func(r *Room) {
		if n > 0 {
			r.inboxSize = n
		}
	}
}

// WithPublishHook registers a callback invoked once per accepted
// publish, after validation. Used to count channel traffic.
func WithPublishHook(fn func(ev Event)) Option {
	return func(r *Room) { r.published = fn }
}

// WithDropHook registers a callback invoked when a slow participant's
// queue overflows and an event is discarded.
func WithDropHook(fn func(identity string, ev Event)) Option {
	return func(r *Room) { r.dropped = fn }
}

// New creates an empty room.
func New(name string, opts ...Option) *Room {
	r := &Room{
		name:         name,
		logger:       zap.NewNop(),
		participants: make(map[string]*Participant),
		inboxSize:    DefaultInboxSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

// Join registers a participant under a unique identity. The participant
// receives nothing until OnEvent installs a handler.
func (r *Room) Join(identity string) (*Participant, error) {
	if identity == "" {
		return nil, fmt.Errorf("participant identity cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("room %s is closed", r.name)
	}
	if _, exists := r.participants[identity]; exists {
		return nil, fmt.Errorf("participant %s already joined room %s", identity, r.name)
	}

	p := &Participant{
		identity: identity,
		room:     r,
		inbox:    make(chan Envelope, r.inboxSize),
		done:     make(chan struct{}),
	}
	r.participants[identity] = p
	go p.dispatch()

	r.logger.Debug("participant joined",
		zap.String("room", r.name),
		zap.String("identity", identity))
	return p, nil
}

// Participants lists the identities currently in the room.
func (r *Room) Participants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.participants))
	for id := range r.participants {
		names = append(names, id)
	}
	return names
}

// Has reports whether the identity is present.
func (r *Room) Has(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.participants[identity]
	return ok
}

// Close removes all participants and stops their dispatch goroutines.
func (r *Room) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	leaving := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		leaving = append(leaving, p)
	}
	r.participants = make(map[string]*Participant)
	r.mu.Unlock()

	for _, p := range leaving {
		p.stop()
	}
	r.logger.Debug("room closed", zap.String("room", r.name))
}

// publish fans the event out to every participant except origin. Events
// that carry a Validator are checked here so a malformed broadcast never
// reaches a handler.
func (r *Room) publish(origin string, ev Event) error {
	if v, ok := ev.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("rejected %s from %s: %w", ev.EventType(), origin, err)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("room %s is closed", r.name)
	}

	if r.published != nil {
		r.published(ev)
	}

	env := Envelope{Origin: origin, Event: ev}
	for id, p := range r.participants {
		if id == origin {
			continue
		}
		select {
		case p.inbox <- env:
		default:
			r.logger.Warn("participant queue full, dropping event",
				zap.String("room", r.name),
				zap.String("identity", id),
				zap.String("event", string(ev.EventType())))
			if r.dropped != nil {
				r.dropped(id, ev)
			}
		}
	}
	return nil
}

// Participant is one endpoint on the room channel.
type Participant struct {
	identity string
	room     *Room
	inbox    chan Envelope
	done     chan struct{}

	mu      sync.RWMutex
	handler Handler

	stopOnce sync.Once
}

// Identity returns the participant's identity.
func (p *Participant) Identity() string { return p.identity }

// OnEvent installs the receive handler. Events delivered while no
// handler is installed are discarded.
func (p *Participant) OnEvent(h Handler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Publish broadcasts an event to every other participant.
func (p *Participant) Publish(ev Event) error {
	return p.room.publish(p.identity, ev)
}

// Leave removes the participant from the room.
func (p *Participant) Leave() {
	p.room.mu.Lock()
	if p.room.participants[p.identity] == p {
		delete(p.room.participants, p.identity)
	}
	p.room.mu.Unlock()
	p.stop()
}

func (p *Participant) stop() {
	p.stopOnce.Do(func() { close(p.done) })
}

func (p *Participant) dispatch() {
	for {
		select {
		case <-p.done:
			return
		case env := <-p.inbox:
			p.mu.RLock()
			h := p.handler
			p.mu.RUnlock()
			if h != nil {
				h(env)
			}
		}
	}
}
