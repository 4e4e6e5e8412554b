package contract

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
)

// AgentRuntime is one configured tool-calling model conversation.
type AgentRuntime interface {
	Invoke(ctx context.Context, in TurnInput, opts InvokeOptions) (TurnOutput, error)
}

// RuntimeFactory creates runtimes bound to a tool set and base instructions.
type RuntimeFactory interface {
	NewRuntime(ctx context.Context, instructions string, tools []tool.InvokableTool) (AgentRuntime, error)
}

// Channel is the vendor-facing messaging transport.
type Channel interface {
	OpenConversation(ctx context.Context, vendorExternalID string) (string, error)
	SendAndAwaitReply(ctx context.Context, conversationID string, body string) (string, error)
}

// Reporter absorbs recoverable failures.
type Reporter interface {
	Report(ctx context.Context, scope Scope, err error)
}

type NopReporter struct{}

func (NopReporter) Report(context.Context, Scope, error) {}
