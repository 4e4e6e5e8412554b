package contract

import (
	"fmt"
	"math"
	"strings"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Scope identifies where a reported failure happened.
type Scope struct {
	Operation     string `json:"operation"`
	NegotiationID string `json:"negotiation_id,omitempty"`
	GroupID       string `json:"group_id,omitempty"`
	VendorID      string `json:"vendor_id,omitempty"`
}

type TurnInput struct {
	// Instructions replaces the runtime's base instructions for this turn only.
	Instructions string `json:"instructions,omitempty"`
	Text         string `json:"text"`
}

type InvokeOptions struct {
	MaxSteps int `json:"max_steps"`
}

type TurnMessage struct {
	Role     Role   `json:"role"`
	Content  string `json:"content"`
	ToolName string `json:"tool_name,omitempty"`
}

type TurnOutput struct {
	Messages         []TurnMessage `json:"messages"`
	Steps            int           `json:"steps"`
	StepLimitReached bool          `json:"step_limit_reached,omitempty"`
}

// FinalText returns the content of the last assistant message.
func (o TurnOutput) FinalText() string {
	for i := len(o.Messages) - 1; i >= 0; i-- {
		if o.Messages[i].Role == RoleAssistant && o.Messages[i].Content != "" {
			return o.Messages[i].Content
		}
	}
	return ""
}

type AgentType string

const (
	AgentTypeNegotiator AgentType = "negotiator"
	AgentTypeVendor     AgentType = "vendor"
)

// Product is the purchase the negotiation is about.
type Product struct {
	Name               string   `json:"name"`
	Quantity           int      `json:"quantity"`
	StartingPrice      *float64 `json:"starting_price,omitempty"`
	TargetReductionPct *float64 `json:"target_reduction_pct,omitempty"`
}

// TargetPrice is the starting price reduced by the target percentage.
func (p Product) TargetPrice() (float64, bool) {
	if p.StartingPrice == nil || p.TargetReductionPct == nil {
		return 0, false
	}
	target := *p.StartingPrice * (1 - *p.TargetReductionPct/100)
	return math.Round(target*100) / 100, true
}

func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: product name is required", ErrValidation)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("%w: product quantity must be > 0", ErrValidation)
	}
	if p.StartingPrice != nil && *p.StartingPrice < 0 {
		return fmt.Errorf("%w: starting price must be >= 0", ErrValidation)
	}
	if p.TargetReductionPct != nil && (*p.TargetReductionPct < 0 || *p.TargetReductionPct >= 100) {
		return fmt.Errorf("%w: target reduction must be in [0, 100)", ErrValidation)
	}
	return nil
}
