package sessionnode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
	toolx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/tool"
)

// ComputeLeverage looks up a sibling's better price for this turn. Sessions
// outside a group never get leverage.
func ComputeLeverage(ctx context.Context, in *GraphState, leverage toolx.Leverage) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if in.Binding.GroupID == "" || in.Binding.NegotiationID == "" {
		return in, nil
	}

	announcement, ok := leverage.Announcement(ctx, in.Binding.GroupID, in.Binding.NegotiationID)
	if !ok {
		return in, nil
	}
	in.Announcement = announcement

	log.Debug().
		Str("negotiation_id", in.Binding.NegotiationID).
		Str("group_id", in.Binding.GroupID).
		Int("turn", in.Turn).
		Msg("leverage applied to turn")
	return in, nil
}
