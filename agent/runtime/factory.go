package runtime

import (
	"context"
	"errors"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	einotool "github.com/cloudwego/eino/components/tool"
	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
	openrouterx "github.com/tanpawarit/Vendor-Negotiation-Agent/pkg/openrouter"
)

var _ contractx.RuntimeFactory = (*Factory)(nil)

// Factory hands every session its own Runtime over a shared chat model.
type Factory struct {
	model einomodel.ToolCallingChatModel
}

func NewFactory(chatModel einomodel.ToolCallingChatModel) (*Factory, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	return &Factory{model: chatModel}, nil
}

func NewFactoryFromBuilder(ctx context.Context, builder openrouterx.LLMBuilder) (*Factory, error) {
	if builder == nil {
		return nil, errors.New("llm builder is required")
	}
	m, err := builder.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: build chat model: %v", contractx.ErrModelInvoke, err)
	}
	return NewFactory(m)
}

func (f *Factory) NewRuntime(ctx context.Context, instructions string, tools []einotool.InvokableTool) (contractx.AgentRuntime, error) {
	return New(ctx, f.model, instructions, tools)
}
