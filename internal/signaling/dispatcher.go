package signaling

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hezronokwach/harvest/internal/actor"
	"github.com/hezronokwach/harvest/internal/contract"
	"github.com/hezronokwach/harvest/internal/orchestrator"
	"github.com/hezronokwach/harvest/internal/policy"
	"github.com/hezronokwach/harvest/internal/room"
	"github.com/hezronokwach/harvest/internal/state"
)

// GeneratorFactory builds a fresh generation engine per call, one per
// persona side.
type GeneratorFactory func() actor.Generator

// RoomEventCounter is implemented by observers that also track channel
// traffic. The metrics collector satisfies it; plain orchestration
// observers ignore it.
type RoomEventCounter interface {
	EventPublished(eventType string)
	EventDropped(eventType string)
}

// InProcessDispatcher hosts both actor runtimes, the contract
// coordinator, and the orchestrator inside this process, one assembly
// per call room.
type InProcessDispatcher struct {
	orchCfg   orchestrator.Config
	polCfg    policy.Config
	sellerGen GeneratorFactory
	buyerGen  GeneratorFactory
	store     state.SessionStore
	obs       orchestrator.Observer
	product   string
	logger    *zap.Logger

	mu    sync.Mutex
	calls map[string]*call
}

type call struct {
	room   *room.Room
	bridge *room.Bridge
	coord  *contract.Coordinator
	orch   *orchestrator.Orchestrator
	cancel context.CancelFunc
}

// DispatcherOption configures an InProcessDispatcher.
type DispatcherOption func(*InProcessDispatcher)

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *InProcessDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithSessionStore records terminal summaries per call room.
func WithSessionStore(store state.SessionStore) DispatcherOption {
	return func(d *InProcessDispatcher) { d.store = store }
}

// WithObserver attaches orchestration telemetry to every call.
func WithObserver(obs orchestrator.Observer) DispatcherOption {
	return func(d *InProcessDispatcher) { d.obs = obs }
}

// WithProduct sets the commodity named in drafted contracts.
func WithProduct(product string) DispatcherOption {
	return func(d *InProcessDispatcher) { d.product = product }
}

// NewInProcessDispatcher creates the dispatcher.
func NewInProcessDispatcher(orchCfg orchestrator.Config, polCfg policy.Config, sellerGen, buyerGen GeneratorFactory, opts ...DispatcherOption) *InProcessDispatcher {
	d := &InProcessDispatcher{
		orchCfg:   orchCfg,
		polCfg:    polCfg,
		sellerGen: sellerGen,
		buyerGen:  buyerGen,
		product:   "White Maize",
		logger:    zap.NewNop(),
		calls:     make(map[string]*call),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch assembles and starts a negotiation in the named room: the
// seller runtime with its mirror state, the buyer runtime with the
// authoritative state, the contract coordinator, the observer bridge,
// and the orchestrator's round loop on its own goroutine.
func (d *InProcessDispatcher) Dispatch(ctx context.Context, roomName string) error {
	// Assembly is in-memory and quick, so the lock is held end to end;
	// releasing it between the exists check and the insert would let two
	// dispatches for the same room both pass the check.
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.calls[roomName]; exists {
		return fmt.Errorf("call %s is already running", roomName)
	}

	roomOpts := []room.Option{room.WithLogger(d.logger)}
	if counter, ok := d.obs.(RoomEventCounter); ok {
		roomOpts = append(roomOpts,
			room.WithPublishHook(func(ev room.Event) {
				counter.EventPublished(string(ev.EventType()))
			}),
			room.WithDropHook(func(identity string, ev room.Event) {
				counter.EventDropped(string(ev.EventType()))
			}))
	}
	rm := room.New(roomName, roomOpts...)

	bridge, err := room.NewBridge(rm, "frontend", d.logger)
	if err != nil {
		rm.Close()
		return fmt.Errorf("failed to open observer bridge: %w", err)
	}

	sellerPart, err := rm.Join(d.orchCfg.SellerIdentity)
	if err != nil {
		bridge.Close()
		rm.Close()
		return fmt.Errorf("failed to seat seller: %w", err)
	}
	sellerMirror := state.NewNegotiation(d.orchCfg.MaxRounds, d.logger)
	sellerRT := actor.NewRuntime(d.orchCfg.SellerPersona, state.SideSeller, sellerMirror, sellerPart, d.sellerGen(),
		actor.WithRuntimeLogger(d.logger))
	sellerRT.Attach()

	buyerPart, err := rm.Join(strings.ToLower(d.orchCfg.BuyerPersona))
	if err != nil {
		bridge.Close()
		rm.Close()
		return fmt.Errorf("failed to seat buyer: %w", err)
	}
	neg := state.NewNegotiation(d.orchCfg.MaxRounds, d.logger)
	buyerRT := actor.NewRuntime(d.orchCfg.BuyerPersona, state.SideBuyer, neg, buyerPart, d.buyerGen(),
		actor.WithRuntimeLogger(d.logger))

	coord, err := contract.NewCoordinator(rm, "contract", d.orchCfg.SellerPersona,
		contract.NewNegotiationExtractor(neg, d.orchCfg.BuyerPersona, d.product),
		contract.WithLogger(d.logger))
	if err != nil {
		bridge.Close()
		rm.Close()
		return fmt.Errorf("failed to start contract coordinator: %w", err)
	}

	orchOpts := []orchestrator.Option{orchestrator.WithLogger(d.logger)}
	if d.store != nil {
		orchOpts = append(orchOpts, orchestrator.WithSessionStore(d.store))
	}
	if d.obs != nil {
		orchOpts = append(orchOpts, orchestrator.WithObserver(d.obs))
	}
	orch := orchestrator.New(d.orchCfg, neg, policy.New(d.polCfg), buyerRT, buyerPart, rm, orchOpts...)

	runCtx, cancel := context.WithCancel(context.Background())
	c := &call{room: rm, bridge: bridge, coord: coord, orch: orch, cancel: cancel}
	d.calls[roomName] = c

	go func() {
		outcome, err := orch.Run(runCtx)
		if err != nil {
			d.logger.Error("negotiation ended with error",
				zap.String("room", roomName),
				zap.String("outcome", string(outcome)),
				zap.Error(err))
			return
		}
		d.logger.Info("negotiation finished",
			zap.String("room", roomName),
			zap.String("outcome", string(outcome)))
	}()

	d.logger.Info("negotiation dispatched", zap.String("room", roomName))
	return nil
}

// End stops the call's round loop and tears the room down.
func (d *InProcessDispatcher) End(roomName string) {
	d.mu.Lock()
	c, ok := d.calls[roomName]
	delete(d.calls, roomName)
	d.mu.Unlock()
	if !ok {
		return
	}

	c.orch.Stop()
	c.cancel()
	c.coord.Close()
	c.bridge.Close()
	c.room.Close()
}

// Bridge returns the observer bridge for a running call room.
func (d *InProcessDispatcher) Bridge(roomName string) (*room.Bridge, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.calls[roomName]
	if !ok {
		return nil, false
	}
	return c.bridge, true
}

// Close ends every running call.
func (d *InProcessDispatcher) Close() {
	d.mu.Lock()
	names := make([]string, 0, len(d.calls))
	for name := range d.calls {
		names = append(names, name)
	}
	d.mu.Unlock()
	for _, name := range names {
		d.End(name)
	}
}
