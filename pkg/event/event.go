// pkg/event/event.go
package event

import (
	"sync"
)

// Type represents the type of event
type Type string

// Simulation event types
const (
	CraftAdded          Type = "craft_added"
	CraftRemoved        Type = "craft_removed"
	ModeChanged         Type = "autopilot_mode_changed"
	PhaseChanged        Type = "docking_phase_changed"
	Docked              Type = "docked"
	Undocked            Type = "undocked"
	ClusterLeaderChosen Type = "cluster_leader_chosen"
	AllocationRebuilt   Type = "allocation_rebuilt"
	AllocationFailed    Type = "allocation_failed"
)

// Event is the base interface for all events
type Event interface {
	GetType() Type
	GetSource() interface{}
}

// BaseEvent provides common functionality for all events
type BaseEvent struct {
	EventType Type
	Source    interface{}
}

// GetType returns the event type
func (e *BaseEvent) GetType() Type {
	return e.EventType
}

// GetSource returns the event source
func (e *BaseEvent) GetSource() interface{} {
	return e.Source
}

// Handler is a function that handles events
type Handler func(Event)

// Subscription is returned by Subscribe. Cancel removes the handler.
type Subscription struct {
	ID     uint64
	Cancel func()
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus manages event subscriptions and dispatching
type Bus struct {
	handlers map[Type][]subscriber
	nextID   uint64
	mu       sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]subscriber),
		nextID:   1,
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType Type, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], subscriber{id: id, handler: handler})

	return &Subscription{
		ID:     id,
		Cancel: func() { b.unsubscribe(eventType, id) },
	}
}

func (b *Bus) unsubscribe(eventType Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			// copy so that a Publish holding the old slice is unaffected
			next := make([]subscriber, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			b.handlers[eventType] = append(next, subs[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribed handlers. A nil bus drops the
// event.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.handlers[event.GetType()]
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(event)
	}
}

// Specific event implementations

// CraftEvent reports a spacecraft joining or leaving the simulation.
type CraftEvent struct {
	BaseEvent
	CraftID uint64
	Name    string
}

// NewCraftEvent creates a new craft event
func NewCraftEvent(eventType Type, source interface{}, craftID uint64, name string) *CraftEvent {
	return &CraftEvent{
		BaseEvent: BaseEvent{EventType: eventType, Source: source},
		CraftID:   craftID,
		Name:      name,
	}
}

// ModeEvent reports an autopilot mode being switched on or off.
type ModeEvent struct {
	BaseEvent
	CraftID uint64
	Mode    string
	Active  bool
}

// NewModeEvent creates a new mode change event
func NewModeEvent(source interface{}, craftID uint64, mode string, active bool) *ModeEvent {
	return &ModeEvent{
		BaseEvent: BaseEvent{EventType: ModeChanged, Source: source},
		CraftID:   craftID,
		Mode:      mode,
		Active:    active,
	}
}

// PhaseEvent reports a docking controller transition.
type PhaseEvent struct {
	BaseEvent
	CraftID  uint64
	TargetID uint64
	From     string
	To       string
	Reason   string
}

// NewPhaseEvent creates a new docking phase event
func NewPhaseEvent(source interface{}, craftID, targetID uint64, from, to, reason string) *PhaseEvent {
	return &PhaseEvent{
		BaseEvent: BaseEvent{EventType: PhaseChanged, Source: source},
		CraftID:   craftID,
		TargetID:  targetID,
		From:      from,
		To:        to,
		Reason:    reason,
	}
}

// DockEvent reports two ports being joined or released.
type DockEvent struct {
	BaseEvent
	CraftA uint64
	PortA  string
	CraftB uint64
	PortB  string
}

// NewDockEvent creates a docked or undocked event
func NewDockEvent(eventType Type, source interface{}, craftA uint64, portA string, craftB uint64, portB string) *DockEvent {
	return &DockEvent{
		BaseEvent: BaseEvent{EventType: eventType, Source: source},
		CraftA:    craftA,
		PortA:     portA,
		CraftB:    craftB,
		PortB:     portB,
	}
}

// ClusterEvent reports the leader elected for a docked cluster.
type ClusterEvent struct {
	BaseEvent
	LeaderID  uint64
	Members   []uint64
	TotalMass float64
}

// NewClusterEvent creates a new cluster leader event
func NewClusterEvent(source interface{}, leaderID uint64, members []uint64, totalMass float64) *ClusterEvent {
	return &ClusterEvent{
		BaseEvent: BaseEvent{EventType: ClusterLeaderChosen, Source: source},
		LeaderID:  leaderID,
		Members:   members,
		TotalMass: totalMass,
	}
}

// AllocationEvent reports a thruster allocation rebuild or failure.
type AllocationEvent struct {
	BaseEvent
	CraftID uint64
	Rank    int
	Cached  bool
	Err     error
}

// NewAllocationEvent creates a new allocation event
func NewAllocationEvent(eventType Type, source interface{}, craftID uint64, rank int, cached bool, err error) *AllocationEvent {
	return &AllocationEvent{
		BaseEvent: BaseEvent{EventType: eventType, Source: source},
		CraftID:   craftID,
		Rank:      rank,
		Cached:    cached,
		Err:       err,
	}
}
