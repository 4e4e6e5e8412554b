package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	einomodel "github.com/cloudwego/eino/components/model"
	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
)

const DefaultMaxSteps = 12

var _ contractx.AgentRuntime = (*Runtime)(nil)

// Runtime is a tool-calling loop over one chat model. History is kept across
// turns so each turn continues the same conversation with the model.
type Runtime struct {
	model        einomodel.ToolCallingChatModel
	tools        map[string]einotool.InvokableTool
	instructions string

	mu      sync.Mutex
	history []*schema.Message
}

func New(
	ctx context.Context,
	chatModel einomodel.ToolCallingChatModel,
	instructions string,
	tools []einotool.InvokableTool,
) (*Runtime, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}

	infos := make([]*schema.ToolInfo, 0, len(tools))
	byName := make(map[string]einotool.InvokableTool, len(tools))
	for _, t := range tools {
		if t == nil {
			continue
		}
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: read tool info: %v", contractx.ErrValidation, err)
		}
		name := strings.TrimSpace(info.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tool name is empty", contractx.ErrValidation)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate tool %s", contractx.ErrValidation, name)
		}
		byName[name] = t
		infos = append(infos, info)
	}

	bound := chatModel
	if len(infos) > 0 {
		m, err := chatModel.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools: %v", contractx.ErrModelInvoke, err)
		}
		bound = m
	}

	return &Runtime{
		model:        bound,
		tools:        byName,
		instructions: instructions,
	}, nil
}

// Invoke runs one turn. Each model call is a step; the turn ends when the
// model answers without tool calls or the step budget runs out.
func (r *Runtime) Invoke(ctx context.Context, in contractx.TurnInput, opts contractx.InvokeOptions) (contractx.TurnOutput, error) {
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	instructions := r.instructions
	if strings.TrimSpace(in.Instructions) != "" {
		instructions = in.Instructions
	}

	user := schema.UserMessage(in.Text)
	turn := []*schema.Message{user}
	out := contractx.TurnOutput{
		Messages: []contractx.TurnMessage{{Role: contractx.RoleUser, Content: in.Text}},
	}

	pending := false
	for out.Steps < maxSteps {
		input := make([]*schema.Message, 0, len(r.history)+len(turn)+1)
		input = append(input, schema.SystemMessage(instructions))
		input = append(input, r.history...)
		input = append(input, turn...)

		msg, err := r.model.Generate(ctx, input)
		if err != nil {
			return out, fmt.Errorf("%w: %v", contractx.ErrModelInvoke, err)
		}
		if msg == nil {
			return out, fmt.Errorf("%w: empty model response", contractx.ErrSchemaViolation)
		}
		out.Steps++

		msg.Role = schema.Assistant
		turn = append(turn, msg)
		out.Messages = append(out.Messages, contractx.TurnMessage{Role: contractx.RoleAssistant, Content: msg.Content})

		if len(msg.ToolCalls) == 0 {
			pending = false
			break
		}
		pending = true

		// Tool calls run one at a time, in the order the model listed them.
		for _, call := range msg.ToolCalls {
			name := strings.TrimSpace(call.Function.Name)
			result := r.runTool(ctx, name, call.Function.Arguments)
			turn = append(turn, schema.ToolMessage(result, call.ID))
			out.Messages = append(out.Messages, contractx.TurnMessage{
				Role:     contractx.RoleTool,
				Content:  result,
				ToolName: name,
			})
		}
	}
	out.StepLimitReached = pending

	r.history = append(r.history, turn...)

	if out.StepLimitReached {
		log.Warn().Int("steps", out.Steps).Msg("runtime stopped at step budget")
	}
	return out, nil
}

func (r *Runtime) runTool(ctx context.Context, name, args string) string {
	t, ok := r.tools[name]
	if !ok {
		return errorJSON("unknown_tool", name, "tool is not available in this session")
	}

	log.Debug().Str("tool", name).Str("args", args).Msg("tool call")
	result, err := t.InvokableRun(ctx, args)
	if err != nil {
		return errorJSON("tool_failed", name, err.Error())
	}
	return result
}

func errorJSON(code, tool, detail string) string {
	raw, err := json.Marshal(map[string]string{"error": code, "tool": tool, "detail": detail})
	if err != nil {
		return "Error: " + detail
	}
	return string(raw)
}

// History returns a copy of the accumulated conversation, without the system
// instructions.
func (r *Runtime) History() []*schema.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*schema.Message(nil), r.history...)
}
