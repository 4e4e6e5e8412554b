package sessionnode

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
	statex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/state"
)

// FinalizeTurn reports an exhausted step budget; the turn itself still
// succeeds.
func FinalizeTurn(ctx context.Context, in *GraphState, phase statex.Phase, reporter contractx.Reporter) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Phase = phase

	ev := log.Info()
	if in.Output.StepLimitReached {
		ev = log.Warn().Bool("step_limit_reached", true)
		if reporter != nil {
			reporter.Report(ctx, contractx.Scope{
				Operation:     "run_agent",
				NegotiationID: in.Binding.NegotiationID,
				GroupID:       in.Binding.GroupID,
			}, fmt.Errorf("%w: turn %d stopped after %d steps", contractx.ErrStepBudget, in.Turn, in.Output.Steps))
		}
	}
	ev.Str("negotiation_id", in.Binding.NegotiationID).
		Str("group_id", in.Binding.GroupID).
		Int("turn", in.Turn).
		Int("steps", in.Output.Steps).
		Str("phase", string(phase)).
		Msg("negotiation turn completed")

	return GraphOutput{
		Output:   in.Output,
		Leverage: in.Announcement,
		Phase:    phase,
		Turn:     in.Turn,
	}, nil
}
