// Package signaling implements the call control plane: per-persona
// presence rooms, call offer/accept/decline relaying, and the
// idempotent registry of active negotiation calls.
package signaling

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hezronokwach/harvest/internal/room"
)

// Dispatcher places both personas into a call room and runs the
// negotiation until ended. Implementations decide where the actors
// live; InProcessDispatcher hosts everything in this process.
type Dispatcher interface {
	Dispatch(ctx context.Context, roomName string) error
	End(roomName string)
}

// Statuses returned by the call operations, part of the HTTP contract.
const (
	StatusStarted        = "started"
	StatusAlreadyRunning = "already_running"
	StatusOfferSent      = "offer_sent"
	StatusOffline        = "offline"
	StatusAccepted       = "accepted"
	StatusDeclined       = "declined"
)

// presenceChannel is one persona's standing room plus the signaling
// participant used to push call events into it.
type presenceChannel struct {
	room   *room.Room
	bridge *room.Bridge
	part   *room.Participant
}

// Service tracks presence and active calls.
type Service struct {
	dispatcher Dispatcher
	logger     *zap.Logger

	mu          sync.Mutex
	activeCalls map[string]struct{}
	presence    map[string]*presenceChannel
}

// NewService creates the signaling service.
func NewService(dispatcher Dispatcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		dispatcher:  dispatcher,
		logger:      logger,
		activeCalls: make(map[string]struct{}),
		presence:    make(map[string]*presenceChannel),
	}
}

// PresenceRoomName returns a persona's standing room name.
func PresenceRoomName(persona string) string {
	return "presence-" + strings.ToLower(persona)
}

// CallRoomName derives the shared call room from a meeting id.
func CallRoomName(meetingID string) string {
	return "call-" + strings.ReplaceAll(strings.ToLower(meetingID), " ", "_")
}

// PresenceBridge returns the websocket bridge for a persona's presence
// room, creating the room on first use.
func (s *Service) PresenceBridge(persona string) (*room.Bridge, error) {
	ch, err := s.presenceChannel(persona)
	if err != nil {
		return nil, err
	}
	return ch.bridge, nil
}

func (s *Service) presenceChannel(persona string) (*presenceChannel, error) {
	key := strings.ToLower(persona)

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.presence[key]; ok {
		return ch, nil
	}

	rm := room.New(PresenceRoomName(persona), room.WithLogger(s.logger))
	bridge, err := room.NewBridge(rm, "frontend", s.logger)
	if err != nil {
		rm.Close()
		return nil, fmt.Errorf("failed to open presence room for %s: %w", persona, err)
	}
	part, err := rm.Join("signaling")
	if err != nil {
		bridge.Close()
		rm.Close()
		return nil, fmt.Errorf("failed to join presence room for %s: %w", persona, err)
	}

	ch := &presenceChannel{room: rm, bridge: bridge, part: part}
	s.presence[key] = ch
	s.logger.Info("presence room opened", zap.String("persona", persona))
	return ch, nil
}

// PersonaOnline reports whether any client is connected to the
// persona's presence room.
func (s *Service) PersonaOnline(persona string) bool {
	s.mu.Lock()
	ch, ok := s.presence[strings.ToLower(persona)]
	s.mu.Unlock()
	return ok && ch.bridge.ClientCount() > 0
}

// StartCall dispatches both personas into the named room. Repeated
// starts for the same room are ignored.
func (s *Service) StartCall(ctx context.Context, roomName string) (string, error) {
	s.mu.Lock()
	if _, running := s.activeCalls[roomName]; running {
		s.mu.Unlock()
		s.logger.Info("call already active, skipping dispatch", zap.String("room", roomName))
		return StatusAlreadyRunning, nil
	}
	s.activeCalls[roomName] = struct{}{}
	s.mu.Unlock()

	if err := s.dispatcher.Dispatch(ctx, roomName); err != nil {
		s.mu.Lock()
		delete(s.activeCalls, roomName)
		s.mu.Unlock()
		return "", fmt.Errorf("failed to dispatch call %s: %w", roomName, err)
	}

	s.logger.Info("call started", zap.String("room", roomName))
	return StatusStarted, nil
}

// EndCall tears the call down. Ending an unknown room is a no-op.
func (s *Service) EndCall(roomName string) {
	s.mu.Lock()
	_, running := s.activeCalls[roomName]
	delete(s.activeCalls, roomName)
	s.mu.Unlock()

	if running {
		s.dispatcher.End(roomName)
		s.logger.Info("call ended", zap.String("room", roomName))
	}
}

// ActiveCalls lists the rooms with a running negotiation.
func (s *Service) ActiveCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	rooms := make([]string, 0, len(s.activeCalls))
	for name := range s.activeCalls {
		rooms = append(rooms, name)
	}
	sort.Strings(rooms)
	return rooms
}

// Offer rings the target persona in its presence room. Offline targets
// are reported, not treated as errors.
func (s *Service) Offer(ctx context.Context, fromPersona, toPersona string) (string, error) {
	if !s.PersonaOnline(toPersona) {
		s.logger.Info("call offer to offline persona",
			zap.String("from", fromPersona), zap.String("to", toPersona))
		return StatusOffline, nil
	}

	ch, err := s.presenceChannel(toPersona)
	if err != nil {
		return "", err
	}
	if err := ch.part.Publish(room.CallOffer{From: fromPersona}); err != nil {
		return "", fmt.Errorf("failed to deliver call offer: %w", err)
	}
	return StatusOfferSent, nil
}

// Accept creates the call room, dispatches both personas, and notifies
// the caller which room to join.
func (s *Service) Accept(ctx context.Context, fromPersona, toPersona, meetingID string) (string, string, error) {
	callRoom := CallRoomName(meetingID)

	status, err := s.StartCall(ctx, callRoom)
	if err != nil {
		return "", callRoom, err
	}
	if status == StatusAlreadyRunning {
		return StatusAlreadyRunning, callRoom, nil
	}

	ch, perr := s.presenceChannel(fromPersona)
	if perr != nil {
		return "", callRoom, perr
	}
	if err := ch.part.Publish(room.CallAccepted{By: toPersona, Room: callRoom}); err != nil {
		s.logger.Warn("failed to notify caller of acceptance", zap.Error(err))
	}
	return StatusAccepted, callRoom, nil
}

// Decline notifies the caller the callee refused.
func (s *Service) Decline(ctx context.Context, fromPersona, toPersona string) error {
	ch, err := s.presenceChannel(fromPersona)
	if err != nil {
		return err
	}
	if err := ch.part.Publish(room.CallDeclined{By: toPersona}); err != nil {
		return fmt.Errorf("failed to deliver decline: %w", err)
	}
	return nil
}

// Close tears down presence rooms.
func (s *Service) Close() {
	s.mu.Lock()
	channels := make([]*presenceChannel, 0, len(s.presence))
	for _, ch := range s.presence {
		channels = append(channels, ch)
	}
	s.presence = make(map[string]*presenceChannel)
	s.mu.Unlock()

	for _, ch := range channels {
		ch.bridge.Close()
		ch.room.Close()
	}
}
