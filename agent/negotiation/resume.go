package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	statex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/state"
	toolx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/tool"
)

// Resume rebuilds a session from its last checkpoint without reopening the
// vendor conversation. The model history of earlier turns is not restored;
// the transcript stays in the store.
func Resume(ctx context.Context, deps Deps, cfg Config, negotiationID string) (*Session, error) {
	if deps.Checkpoints == nil {
		return nil, errors.New("checkpoint store is required to resume")
	}
	cp, err := deps.Checkpoints.Load(ctx, negotiationID)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return ResumeFrom(ctx, deps, cfg, cp)
}

func ResumeFrom(ctx context.Context, deps Deps, cfg Config, cp *statex.Checkpoint) (*Session, error) {
	if err := cp.Validate(); err != nil {
		return nil, err
	}

	s, err := New(deps, cfg)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	binding := toolx.Binding{
		NegotiationID:  cp.NegotiationID,
		GroupID:        cp.GroupID,
		ConversationID: cp.ConversationID,
	}
	instructions := cp.Instructions
	if strings.TrimSpace(instructions) == "" {
		instructions = deps.Strategy
	}
	phase := statex.NewMachine(cp.Phase, cp.UpdatedAt)
	if err := s.bind(ctx, cp.VendorID, instructions, binding, phase, cp.Turns); err != nil {
		return nil, err
	}
	saved := *cp
	s.saved = &saved

	log.Info().
		Str("negotiation_id", cp.NegotiationID).
		Str("group_id", cp.GroupID).
		Int("turns", cp.Turns).
		Str("phase", string(cp.Phase)).
		Msg("negotiation session resumed")
	return s, nil
}
