package sessionnode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
	statex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/state"
)

// SaveCheckpoint stores the session position after the turn. A nil store
// disables checkpoints; a failed save is reported and the turn still succeeds.
func SaveCheckpoint(
	ctx context.Context,
	in *GraphState,
	store statex.CheckpointStore,
	build func(*GraphState) *statex.Checkpoint,
	reporter contractx.Reporter,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if store == nil || build == nil {
		return in, nil
	}

	cp := build(in)
	if err := store.Save(ctx, cp); err != nil {
		reporter.Report(ctx, contractx.Scope{
			Operation:     "save_checkpoint",
			NegotiationID: in.Binding.NegotiationID,
			GroupID:       in.Binding.GroupID,
		}, err)
	}
	return in, nil
}
