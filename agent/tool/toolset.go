package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	completionx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/completion"
	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
	leveragex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/leverage"
	statex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/state"
	storex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/store"
)

type Store interface {
	AppendMessage(ctx context.Context, conversationID string, typ storex.MessageType, body string) error
	AppendState(ctx context.Context, negotiationID string, price float64, description string) error
	AppendOffers(ctx context.Context, offers []*storex.Offer) error
	ListOffers(ctx context.Context, negotiationIDs []string, limit int) ([]storex.Offer, error)
}

type Leverage interface {
	Announcement(ctx context.Context, groupID, negotiationID string) (string, bool)
}

type Completion interface {
	Evaluate(ctx context.Context, groupID string) (completionx.Progress, error)
}

var (
	_ Leverage   = (*leveragex.Engine)(nil)
	_ Completion = (*completionx.Protocol)(nil)
)

// Binding is the session identity the tools act on.
type Binding struct {
	NegotiationID  string
	GroupID        string
	ConversationID string
}

type Deps struct {
	Store      Store
	Channel    contractx.Channel
	Leverage   Leverage
	Completion Completion
	Reporter   contractx.Reporter

	// StrictSequencing refuses finish_negotiation while a recorded price has
	// not been sent, and refuses every tool once the session concluded.
	StrictSequencing bool
	Now              func() time.Time
}

// Toolset executes tool calls for one negotiation session. Calls within a
// turn are sequential; the mutex only guards the binding.
type Toolset struct {
	deps  Deps
	phase *statex.Machine

	mu      sync.RWMutex
	binding Binding
}

func NewToolset(deps Deps, binding Binding, phase *statex.Machine) (*Toolset, error) {
	if deps.Store == nil {
		return nil, errors.New("tool store is required")
	}
	if deps.Channel == nil {
		return nil, errors.New("tool channel is required")
	}
	if deps.Leverage == nil {
		return nil, errors.New("leverage engine is required")
	}
	if deps.Completion == nil {
		return nil, errors.New("completion protocol is required")
	}
	if deps.Reporter == nil {
		deps.Reporter = contractx.NopReporter{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if phase == nil {
		phase = statex.NewMachine(statex.PhaseIdle, deps.Now())
	}
	return &Toolset{deps: deps, phase: phase, binding: binding}, nil
}

func (ts *Toolset) Binding() Binding {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.binding
}

func (ts *Toolset) Bind(b Binding) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.binding = b
}

func (ts *Toolset) Phase() statex.Phase {
	return ts.phase.Phase()
}

func (ts *Toolset) scope(op string) contractx.Scope {
	b := ts.Binding()
	return contractx.Scope{Operation: op, NegotiationID: b.NegotiationID, GroupID: b.GroupID}
}

func (ts *Toolset) refusedAfterConclusion() bool {
	return ts.deps.StrictSequencing && ts.phase.Phase() == statex.PhaseConcluded
}

// advance applies ev; a rejected transition is logged but never blocks a tool
// outside strict sequencing.
func (ts *Toolset) advance(ctx context.Context, op string, ev statex.Event) {
	if _, err := ts.phase.Apply(ev, ts.deps.Now()); err != nil {
		b := ts.Binding()
		log.Debug().Err(err).
			Str("negotiation_id", b.NegotiationID).
			Str("group_id", b.GroupID).
			Str("tool", op).
			Msg("phase transition ignored")
	}
}

func errorText(format string, args ...any) string {
	return "Error: " + fmt.Sprintf(format, args...)
}

/* ------------------------------ send_message ----------------------------- */

func (ts *Toolset) runSendMessage(ctx context.Context, args string) string {
	var in SendMessageInput
	if verr := decodeStrict(ToolSendMessage, args, &in); verr != nil {
		return verr.Text()
	}
	return ts.SendMessage(ctx, in)
}

// SendMessage delivers body to the vendor and returns the reply, followed by
// a leverage announcement when a sibling negotiation holds a better price.
func (ts *Toolset) SendMessage(ctx context.Context, in SendMessageInput) string {
	if verr := in.validate(); verr != nil {
		return verr.Text()
	}
	b := ts.Binding()
	if strings.TrimSpace(b.ConversationID) == "" {
		return errorText("%v. The conversation with the vendor has not been opened.", contractx.ErrNoConversation)
	}
	if ts.refusedAfterConclusion() {
		return errorText("%v. Do not send further messages.", contractx.ErrAlreadyFinished)
	}

	scope := ts.scope(ToolSendMessage)
	if err := ts.deps.Store.AppendMessage(ctx, b.ConversationID, storex.MessageAssistant, in.Body); err != nil {
		ts.deps.Reporter.Report(ctx, scope, fmt.Errorf("persist outgoing message: %w", err))
	}

	reply, err := ts.deps.Channel.SendAndAwaitReply(ctx, b.ConversationID, in.Body)
	if err != nil {
		ts.deps.Reporter.Report(ctx, scope, fmt.Errorf("deliver message: %w", err))
		return errorText("failed to deliver the message to the vendor: %v", err)
	}

	if err := ts.deps.Store.AppendMessage(ctx, b.ConversationID, storex.MessageUser, reply); err != nil {
		ts.deps.Reporter.Report(ctx, scope, fmt.Errorf("persist vendor reply: %w", err))
	}
	ts.advance(ctx, ToolSendMessage, statex.EventMessageSent)

	if announcement, ok := ts.deps.Leverage.Announcement(ctx, b.GroupID, b.NegotiationID); ok {
		return reply + "\n\n" + announcement
	}
	return reply
}

/* ------------------------------ record_state ----------------------------- */

func (ts *Toolset) runRecordState(ctx context.Context, args string) string {
	var in RecordStateInput
	if verr := decodeStrict(ToolRecordState, args, &in); verr != nil {
		return verr.Text()
	}
	return ts.RecordState(ctx, in)
}

// RecordState appends a price snapshot and tells the model to reply to the
// vendor next.
func (ts *Toolset) RecordState(ctx context.Context, in RecordStateInput) string {
	if verr := in.validate(); verr != nil {
		return verr.Text()
	}
	b := ts.Binding()
	if strings.TrimSpace(b.NegotiationID) == "" {
		return errorText("%v. The price could not be recorded.", contractx.ErrNoNegotiation)
	}
	if ts.refusedAfterConclusion() {
		return errorText("%v. Do not record further prices.", contractx.ErrAlreadyFinished)
	}

	price := *in.Price
	if err := ts.deps.Store.AppendState(ctx, b.NegotiationID, price, in.Description); err != nil {
		ts.deps.Reporter.Report(ctx, ts.scope(ToolRecordState), fmt.Errorf("persist price snapshot: %w", err))
		return errorText("failed to record the price: %v", err)
	}
	ts.advance(ctx, ToolRecordState, statex.EventStateRecorded)

	log.Info().
		Str("negotiation_id", b.NegotiationID).
		Str("group_id", b.GroupID).
		Float64("price", price).
		Msg("price snapshot recorded")

	return fmt.Sprintf("State recorded: price %s (%s). %s",
		leveragex.FormatPrice(price), strings.TrimSpace(in.Description), ts.phase.Guidance())
}

/* --------------------------- finish_negotiation -------------------------- */

func (ts *Toolset) runFinishNegotiation(ctx context.Context, args string) string {
	var in FinishNegotiationInput
	if verr := decodeStrict(ToolFinishNegotiation, args, &in); verr != nil {
		return verr.Text()
	}
	return ts.FinishNegotiation(ctx, in)
}

// FinishNegotiation persists the final offers, runs group completion and
// echoes the input as JSON. A negotiation accepts one set of final offers.
func (ts *Toolset) FinishNegotiation(ctx context.Context, in FinishNegotiationInput) string {
	if verr := in.validate(); verr != nil {
		return verr.Text()
	}
	b := ts.Binding()
	if strings.TrimSpace(b.NegotiationID) == "" {
		return errorText("%v. The offers could not be recorded.", contractx.ErrNoNegotiation)
	}
	if ts.deps.StrictSequencing {
		if err := ts.phase.CanFinish(true); err != nil {
			return errorText("%v. %s", err, ts.phase.Guidance())
		}
	}

	scope := ts.scope(ToolFinishNegotiation)
	existing, err := ts.deps.Store.ListOffers(ctx, []string{b.NegotiationID}, 1)
	if err != nil {
		ts.deps.Reporter.Report(ctx, scope, fmt.Errorf("check existing offers: %w", err))
	} else if len(existing) > 0 {
		return errorText("%v. Final offers were already submitted for this negotiation.", contractx.ErrAlreadyFinished)
	}

	rows := make([]*storex.Offer, 0, len(in.Offers))
	for _, o := range in.Offers {
		rows = append(rows, &storex.Offer{
			NegotiationID: b.NegotiationID,
			Price:         *o.Price,
			Description:   o.Description,
			Pros:          append([]string(nil), o.Pros...),
			Cons:          append([]string(nil), o.Cons...),
		})
	}
	// Offers are saved all or nothing, so a failed submission can be retried.
	if err := ts.deps.Store.AppendOffers(ctx, rows); err != nil {
		ts.deps.Reporter.Report(ctx, scope, fmt.Errorf("persist final offers: %w", err))
		return errorText("failed to record the offers: %v. Nothing was saved; call finish_negotiation again.", err)
	}

	ts.advance(ctx, ToolFinishNegotiation, statex.EventFinished)
	log.Info().
		Str("negotiation_id", b.NegotiationID).
		Str("group_id", b.GroupID).
		Int("offers", len(rows)).
		Msg("negotiation finished")

	if strings.TrimSpace(b.GroupID) != "" {
		if _, err := ts.deps.Completion.Evaluate(ctx, b.GroupID); err != nil {
			ts.deps.Reporter.Report(ctx, scope, fmt.Errorf("group completion: %w", err))
		}
	}

	raw, err := json.Marshal(in)
	if err != nil {
		return errorText("offers recorded but could not be echoed: %v", err)
	}
	return string(raw)
}
