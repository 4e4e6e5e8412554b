package negotiation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
	nodex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/nodes"
	promptx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/prompt"
	runtimex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/runtime"
	statex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/state"
	storex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/store"
	toolx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/tool"
)

var (
	ErrInvalidMessage     = nodex.ErrInvalidMessage
	ErrNotInitialized     = nodex.ErrNotInitialized
	ErrAlreadyInitialized = errors.New("session is already initialized")
)

type Store interface {
	toolx.Store
	GetVendor(ctx context.Context, id string) (*storex.Vendor, error)
	CreateConversation(ctx context.Context, c *storex.Conversation) error
	CreateNegotiation(ctx context.Context, n *storex.Negotiation) error
}

// Config is loaded with the NEGOTIATION prefix.
type Config struct {
	MaxSteps int `envconfig:"MAX_STEPS" split_words:"true" default:"12"`

	// RequireRecord makes a failed negotiation-record write abort Initialize.
	RequireRecord    bool `envconfig:"REQUIRE_RECORD" split_words:"true" default:"false"`
	StrictSequencing bool `envconfig:"STRICT_SEQUENCING" split_words:"true" default:"false"`
}

type Deps struct {
	Store      Store
	Channel    contractx.Channel
	Runtimes   contractx.RuntimeFactory
	Leverage   toolx.Leverage
	Completion toolx.Completion
	Reporter   contractx.Reporter

	// Checkpoints is optional.
	Checkpoints statex.CheckpointStore

	// Strategy is the fixed negotiation prompt the instructions start from.
	Strategy string

	Now   func() time.Time
	NewID func() string
}

type TurnResult struct {
	contractx.TurnOutput
	Leverage string       `json:"leverage,omitempty"`
	Phase    statex.Phase `json:"phase"`
	Turn     int          `json:"turn"`
}

// Session negotiates with one vendor. It shares nothing in memory with its
// sibling sessions; all cross-session visibility goes through the store.
type Session struct {
	deps Deps
	cfg  Config

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	mu           sync.Mutex
	vendorID     string
	instructions string
	phase        *statex.Machine
	tools        *toolx.Toolset
	runtime      contractx.AgentRuntime
	turns        int
	saved        *statex.Checkpoint
}

func New(deps Deps, cfg Config) (*Session, error) {
	if deps.Store == nil {
		return nil, errors.New("negotiation store is required")
	}
	if deps.Channel == nil {
		return nil, errors.New("messaging channel is required")
	}
	if deps.Runtimes == nil {
		return nil, errors.New("runtime factory is required")
	}
	if deps.Leverage == nil {
		return nil, errors.New("leverage engine is required")
	}
	if deps.Completion == nil {
		return nil, errors.New("completion protocol is required")
	}
	if strings.TrimSpace(deps.Strategy) == "" {
		return nil, fmt.Errorf("%w: negotiation strategy", contractx.ErrPromptMissing)
	}
	if deps.Reporter == nil {
		deps.Reporter = contractx.NopReporter{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = runtimex.DefaultMaxSteps
	}

	s := &Session{deps: deps, cfg: cfg}

	graphRunner, err := s.compileTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	s.graphRunner = graphRunner
	return s, nil
}

// Initialize opens the vendor conversation and prepares the runtime. Only a
// channel failure, a runtime failure or, with RequireRecord, a failed
// negotiation record abort it.
func (s *Session) Initialize(ctx context.Context, vendorID, groupID string, product contractx.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime != nil {
		return ErrAlreadyInitialized
	}
	vendorID = strings.TrimSpace(vendorID)
	if vendorID == "" {
		return fmt.Errorf("%w: vendor id is required", contractx.ErrValidation)
	}
	if err := product.Validate(); err != nil {
		return err
	}
	groupID = strings.TrimSpace(groupID)

	scope := contractx.Scope{Operation: "initialize", GroupID: groupID, VendorID: vendorID}

	var behavior *string
	externalID := vendorID
	vendor, err := s.deps.Store.GetVendor(ctx, vendorID)
	switch {
	case err != nil:
		s.deps.Reporter.Report(ctx, scope, fmt.Errorf("vendor lookup: %w", err))
	default:
		behavior = vendor.Behavior
		if v := strings.TrimSpace(vendor.ExternalID); v != "" {
			externalID = v
		}
	}

	conversationID, err := s.deps.Channel.OpenConversation(ctx, externalID)
	if err != nil {
		return fmt.Errorf("%w: vendor=%s: %v", contractx.ErrChannelOpen, vendorID, err)
	}
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("%w: vendor=%s: empty conversation id", contractx.ErrChannelOpen, vendorID)
	}

	negotiationID := s.deps.NewID()
	scope.NegotiationID = negotiationID

	now := s.deps.Now().UTC()
	if err := s.deps.Store.CreateConversation(ctx, &storex.Conversation{
		ID:            conversationID,
		ChannelHandle: externalID,
		CreatedAt:     now,
	}); err != nil {
		s.deps.Reporter.Report(ctx, scope, fmt.Errorf("create conversation record: %w", err))
	}

	n := &storex.Negotiation{
		ID:             negotiationID,
		VendorID:       vendorID,
		ConversationID: conversationID,
		CreatedAt:      now,
	}
	if groupID != "" {
		n.GroupID = &groupID
	}
	if err := s.deps.Store.CreateNegotiation(ctx, n); err != nil {
		if s.cfg.RequireRecord {
			return fmt.Errorf("create negotiation record: %w", err)
		}
		s.deps.Reporter.Report(ctx, scope, fmt.Errorf("create negotiation record: %w", err))
	}

	instructions := promptx.ComposeInstructions(s.deps.Strategy, behavior, product)
	binding := toolx.Binding{
		NegotiationID:  negotiationID,
		GroupID:        groupID,
		ConversationID: conversationID,
	}
	if err := s.bind(ctx, vendorID, instructions, binding, statex.NewMachine(statex.PhaseIdle, now), 0); err != nil {
		return err
	}

	log.Info().
		Str("negotiation_id", negotiationID).
		Str("group_id", groupID).
		Str("vendor_id", vendorID).
		Str("conversation_id", conversationID).
		Msg("negotiation session initialized")
	return nil
}

// bind builds the toolset and runtime. Callers hold s.mu.
func (s *Session) bind(
	ctx context.Context,
	vendorID, instructions string,
	binding toolx.Binding,
	phase *statex.Machine,
	turns int,
) error {
	tools, err := toolx.NewToolset(toolx.Deps{
		Store:            s.deps.Store,
		Channel:          s.deps.Channel,
		Leverage:         s.deps.Leverage,
		Completion:       s.deps.Completion,
		Reporter:         s.deps.Reporter,
		StrictSequencing: s.cfg.StrictSequencing,
		Now:              s.deps.Now,
	}, binding, phase)
	if err != nil {
		return err
	}

	rt, err := s.deps.Runtimes.NewRuntime(ctx, instructions, tools.Tools())
	if err != nil {
		return fmt.Errorf("create agent runtime: %w", err)
	}

	s.vendorID = vendorID
	s.instructions = instructions
	s.phase = phase
	s.tools = tools
	s.runtime = rt
	s.turns = turns
	return nil
}

// Invoke runs one turn of the negotiation. Leverage is recomputed for every
// turn and never stored in the base instructions.
func (s *Session) Invoke(ctx context.Context, text string) (TurnResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runtime == nil {
		return TurnResult{}, ErrNotInitialized
	}

	out, err := s.graphRunner.Invoke(ctx, nodex.GraphInput{Text: text})
	if err != nil {
		return TurnResult{}, err
	}
	s.turns = out.Turn

	return TurnResult{
		TurnOutput: out.Output,
		Leverage:   out.Leverage,
		Phase:      out.Phase,
		Turn:       out.Turn,
	}, nil
}

func (s *Session) NegotiationID() string { return s.binding().NegotiationID }

func (s *Session) GroupID() string { return s.binding().GroupID }

func (s *Session) ConversationID() string { return s.binding().ConversationID }

func (s *Session) Phase() statex.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == nil {
		return statex.PhaseIdle
	}
	return s.phase.Phase()
}

// Concluded reports whether finish_negotiation has been accepted.
func (s *Session) Concluded() bool {
	return s.Phase() == statex.PhaseConcluded
}

func (s *Session) binding() toolx.Binding {
	s.mu.Lock()
	tools := s.tools
	s.mu.Unlock()
	if tools == nil {
		return toolx.Binding{}
	}
	return tools.Binding()
}

// checkpoint reuses the previous checkpoint so the store's version counter
// keeps increasing. Called from the turn graph while s.mu is held.
func (s *Session) checkpoint(in *nodex.GraphState) *statex.Checkpoint {
	if s.saved == nil {
		s.saved = &statex.Checkpoint{}
	}
	cp := s.saved
	cp.NegotiationID = in.Binding.NegotiationID
	cp.GroupID = in.Binding.GroupID
	cp.VendorID = s.vendorID
	cp.ConversationID = in.Binding.ConversationID
	cp.Instructions = s.instructions
	cp.Phase = s.phase.Phase()
	cp.Turns = in.Turn
	cp.UpdatedAt = in.Now
	return cp
}
