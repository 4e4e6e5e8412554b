package sessionnode

import (
	"errors"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
	statex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/state"
	toolx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/tool"
)

var (
	ErrInvalidMessage = errors.New("turn text is empty")
	ErrNotInitialized = errors.New("session is not initialized")
)

type GraphInput struct {
	Text string
}

type GraphOutput struct {
	Output   contractx.TurnOutput
	Leverage string
	Phase    statex.Phase
	Turn     int
}

type GraphState struct {
	Text    string
	Now     time.Time
	Binding toolx.Binding
	Turn    int

	Announcement string
	Instructions string

	Output contractx.TurnOutput
	Phase  statex.Phase
}

func ValidateTurn(in GraphInput, binding toolx.Binding, turn int, nowFn func() time.Time) (*GraphState, error) {
	if strings.TrimSpace(binding.ConversationID) == "" {
		return nil, ErrNotInitialized
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrInvalidMessage
	}

	return &GraphState{
		Text:    text,
		Now:     nowFn().UTC(),
		Binding: binding,
		Turn:    turn + 1,
	}, nil
}
