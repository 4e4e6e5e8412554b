package sessionnode

import (
	"fmt"

	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
	promptx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/prompt"
)

// ComposeTurnInstructions never modifies base; the leverage note only lives
// for the current turn.
func ComposeTurnInstructions(in *GraphState, base string) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	in.Instructions = promptx.WithLeverage(base, in.Announcement)
	return in, nil
}
