package state

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Phase is the tool-sequencing state of one negotiation session.
//
//	idle -> awaiting_price_snapshot   (send_message got a vendor reply)
//	any  -> awaiting_vendor_message   (record_state)
//	any  -> concluded                 (finish_negotiation)
type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseAwaitingPriceSnapshot Phase = "awaiting_price_snapshot"
	PhaseAwaitingVendorMessage Phase = "awaiting_vendor_message"
	PhaseConcluded             Phase = "concluded"
)

type Event string

const (
	EventMessageSent   Event = "message_sent"
	EventStateRecorded Event = "state_recorded"
	EventFinished      Event = "finished"
)

var (
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseIdle, PhaseAwaitingPriceSnapshot, PhaseAwaitingVendorMessage, PhaseConcluded:
		return true
	default:
		return false
	}
}

// Machine is safe for concurrent use, although a session only drives it from
// the goroutine running its turn.
type Machine struct {
	mu        sync.Mutex
	phase     Phase
	updatedAt time.Time
}

func NewMachine(phase Phase, now time.Time) *Machine {
	if !phase.Valid() {
		phase = PhaseIdle
	}
	return &Machine{phase: phase, updatedAt: now.UTC()}
}

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Machine) UpdatedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatedAt
}

// Apply moves the machine for ev and returns the new phase.
func (m *Machine) Apply(ev Event, now time.Time) (Phase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := transition(m.phase, ev)
	if err != nil {
		return m.phase, err
	}
	m.phase = next
	m.updatedAt = now.UTC()
	return next, nil
}

// CanFinish reports whether finish_negotiation is allowed right now. Without
// strict sequencing only a concluded session is refused.
func (m *Machine) CanFinish(strict bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == PhaseConcluded {
		return fmt.Errorf("%w: session already concluded", ErrInvalidTransition)
	}
	if strict && m.phase == PhaseAwaitingVendorMessage {
		return fmt.Errorf("%w: the recorded price has not been sent to the vendor yet", ErrInvalidTransition)
	}
	return nil
}

// Guidance is the instruction returned to the model for the current phase.
func (m *Machine) Guidance() string {
	switch m.Phase() {
	case PhaseAwaitingVendorMessage:
		return "You MUST now call send_message to reply to the vendor before doing anything else."
	case PhaseAwaitingPriceSnapshot:
		return "If the vendor's last reply contains a price, call record_state with it before replying."
	case PhaseConcluded:
		return "The negotiation is concluded. Do not call any more tools."
	default:
		return "Open the negotiation by calling send_message."
	}
}

func transition(from Phase, ev Event) (Phase, error) {
	if from == PhaseConcluded {
		return from, fmt.Errorf("%w: %s after conclusion", ErrInvalidTransition, ev)
	}
	switch ev {
	case EventMessageSent:
		return PhaseAwaitingPriceSnapshot, nil
	case EventStateRecorded:
		return PhaseAwaitingVendorMessage, nil
	case EventFinished:
		return PhaseConcluded, nil
	default:
		return from, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, ev)
	}
}

/* ------------------------------- Checkpoint ------------------------------ */

// Checkpoint lets a session be rebuilt after a restart without reopening the
// vendor conversation.
type Checkpoint struct {
	NegotiationID  string `json:"negotiation_id"`
	GroupID        string `json:"group_id,omitempty"`
	VendorID       string `json:"vendor_id"`
	ConversationID string `json:"conversation_id"`
	Instructions   string `json:"instructions"`

	Phase Phase `json:"phase"`
	Turns int   `json:"turns"`

	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Checkpoint) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil checkpoint", ErrInvalidCheckpoint)
	}
	if strings.TrimSpace(c.NegotiationID) == "" {
		return fmt.Errorf("%w: negotiation id is empty", ErrInvalidCheckpoint)
	}
	if strings.TrimSpace(c.ConversationID) == "" {
		return fmt.Errorf("%w: conversation id is empty", ErrInvalidCheckpoint)
	}
	if !c.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidCheckpoint, c.Phase)
	}
	if c.Turns < 0 {
		return fmt.Errorf("%w: turns must be >= 0", ErrInvalidCheckpoint)
	}
	return nil
}
