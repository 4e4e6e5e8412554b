package sessionnode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
)

func RunAgent(ctx context.Context, in *GraphState, runtime contractx.AgentRuntime, maxSteps int) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	out, err := runtime.Invoke(ctx, contractx.TurnInput{
		Instructions: in.Instructions,
		Text:         in.Text,
	}, contractx.InvokeOptions{MaxSteps: maxSteps})
	if err != nil {
		return nil, err
	}
	in.Output = out
	return in, nil
}
