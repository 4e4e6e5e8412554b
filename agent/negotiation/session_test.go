package negotiation

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	einotool "github.com/cloudwego/eino/components/tool"
	completionx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/completion"
	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
	leveragex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/leverage"
	promptx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/prompt"
	statex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/state"
	storex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/store"
)

/* --------------------------------- fakes --------------------------------- */

type scriptedCall struct {
	tool string
	args string
}

// scriptedRuntime plays a fixed list of tool calls per turn.
type scriptedRuntime struct {
	instructions string
	tools        map[string]einotool.InvokableTool
	turns        [][]scriptedCall
	inputs       []contractx.TurnInput
	err          error
}

func (r *scriptedRuntime) Invoke(ctx context.Context, in contractx.TurnInput, opts contractx.InvokeOptions) (contractx.TurnOutput, error) {
	r.inputs = append(r.inputs, in)
	if r.err != nil {
		return contractx.TurnOutput{}, r.err
	}

	out := contractx.TurnOutput{Messages: []contractx.TurnMessage{{Role: contractx.RoleUser, Content: in.Text}}}
	idx := len(r.inputs) - 1
	if idx < len(r.turns) {
		for _, c := range r.turns[idx] {
			res, err := r.tools[c.tool].InvokableRun(ctx, c.args)
			if err != nil {
				return out, err
			}
			out.Steps++
			out.Messages = append(out.Messages, contractx.TurnMessage{Role: contractx.RoleTool, Content: res, ToolName: c.tool})
		}
	}
	out.Steps++
	out.Messages = append(out.Messages, contractx.TurnMessage{Role: contractx.RoleAssistant, Content: "turn done"})
	return out, nil
}

type scriptedFactory struct {
	turns [][]scriptedCall
	err   error
	rt    *scriptedRuntime
}

func (f *scriptedFactory) NewRuntime(ctx context.Context, instructions string, tools []einotool.InvokableTool) (contractx.AgentRuntime, error) {
	if f.err != nil {
		return nil, f.err
	}
	byName := map[string]einotool.InvokableTool{}
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, err
		}
		byName[info.Name] = t
	}
	f.rt = &scriptedRuntime{instructions: instructions, tools: byName, turns: f.turns}
	return f.rt, nil
}

type fakeChannel struct {
	openErr error
	opened  []string
	sent    map[string][]string
}

func (f *fakeChannel) OpenConversation(ctx context.Context, vendorExternalID string) (string, error) {
	if f.openErr != nil {
		return "", f.openErr
	}
	f.opened = append(f.opened, vendorExternalID)
	return "conv-" + vendorExternalID, nil
}

func (f *fakeChannel) SendAndAwaitReply(ctx context.Context, conversationID, body string) (string, error) {
	if f.sent == nil {
		f.sent = map[string][]string{}
	}
	f.sent[conversationID] = append(f.sent[conversationID], body)
	return "Reply from vendor to: " + body, nil
}

type flakyStore struct {
	*storex.Store
	vendorErr      error
	negotiationErr error
}

func (f *flakyStore) GetVendor(ctx context.Context, id string) (*storex.Vendor, error) {
	if f.vendorErr != nil {
		return nil, f.vendorErr
	}
	return f.Store.GetVendor(ctx, id)
}

func (f *flakyStore) CreateNegotiation(ctx context.Context, n *storex.Negotiation) error {
	if f.negotiationErr != nil {
		return f.negotiationErr
	}
	return f.Store.CreateNegotiation(ctx, n)
}

type memoryCheckpoints struct {
	saved map[string]statex.Checkpoint
	err   error
}

func (m *memoryCheckpoints) Load(ctx context.Context, id string) (*statex.Checkpoint, error) {
	cp, ok := m.saved[id]
	if !ok {
		return nil, statex.ErrCheckpointNotFound
	}
	return &cp, nil
}

func (m *memoryCheckpoints) Save(ctx context.Context, cp *statex.Checkpoint) error {
	if m.err != nil {
		return m.err
	}
	if m.saved == nil {
		m.saved = map[string]statex.Checkpoint{}
	}
	cp.Version++
	m.saved[cp.NegotiationID] = *cp
	return nil
}

func (m *memoryCheckpoints) Delete(ctx context.Context, id string) error {
	delete(m.saved, id)
	return nil
}

type recordingReporter struct {
	scopes []contractx.Scope
	errs   []error
}

func (r *recordingReporter) Report(ctx context.Context, scope contractx.Scope, err error) {
	r.scopes = append(r.scopes, scope)
	r.errs = append(r.errs, err)
}

/* -------------------------------- helpers -------------------------------- */

func newTestStore(t *testing.T) *storex.Store {
	t.Helper()

	db, err := storex.Open(storex.Config{DSN: storex.SQLiteScheme + filepath.Join(t.TempDir(), "session.sqlite")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storex.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return storex.New(db)
}

func seedVendor(t *testing.T, s *storex.Store, id, name string, behavior *string) {
	t.Helper()
	if err := s.CreateVendor(context.Background(), &storex.Vendor{ID: id, Name: name, ExternalID: id + "@example.com", Behavior: behavior}); err != nil {
		t.Fatalf("CreateVendor() error = %v", err)
	}
}

func strPtr(s string) *string { return &s }

func floatPtr(v float64) *float64 { return &v }

func testProduct() contractx.Product {
	return contractx.Product{
		Name:               "Industrial bearings",
		Quantity:           500,
		StartingPrice:      floatPtr(1000),
		TargetReductionPct: floatPtr(15),
	}
}

type harness struct {
	store    Store
	raw      *storex.Store
	channel  *fakeChannel
	reporter *recordingReporter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	raw := newTestStore(t)
	return &harness{store: raw, raw: raw, channel: &fakeChannel{}, reporter: &recordingReporter{}}
}

func (h *harness) deps(factory contractx.RuntimeFactory, id string) Deps {
	return Deps{
		Store:      h.store,
		Channel:    h.channel,
		Runtimes:   factory,
		Leverage:   leveragex.NewEngine(h.raw, h.reporter),
		Completion: completionx.New(h.raw),
		Reporter:   h.reporter,
		Strategy:   promptx.LoadPromptSet().Negotiator,
		Now:        func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
		NewID:      func() string { return id },
	}
}

func send(body string) scriptedCall {
	return scriptedCall{tool: "send_message", args: fmt.Sprintf(`{"body":%q}`, body)}
}

func record(price float64, desc string) scriptedCall {
	return scriptedCall{tool: "record_state", args: fmt.Sprintf(`{"price":%v,"description":%q}`, price, desc)}
}

func finish(price float64) scriptedCall {
	return scriptedCall{tool: "finish_negotiation", args: fmt.Sprintf(`{"offers":[{"description":"final","price":%v,"pros":["price"],"cons":[]}]}`, price)}
}

/* --------------------------------- tests --------------------------------- */

func TestTwoVendorGroupNegotiation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	seedVendor(t, h.raw, "vendor-a", "Acme Supplies", strPtr("Polite but slow to move on price."))
	seedVendor(t, h.raw, "vendor-b", "Borealis Parts", nil)
	if _, err := h.raw.CreateGroup(ctx, "group-1"); err != nil {
		t.Fatalf("CreateGroup() error = %v", err)
	}

	factoryA := &scriptedFactory{turns: [][]scriptedCall{
		{send("Hello, what is your price?"), record(1000, "1000 for 500 units")},
		{send("Can you beat 900?"), finish(880)},
	}}
	factoryB := &scriptedFactory{turns: [][]scriptedCall{
		{send("Hello"), record(1200, "list price"), send("Too high"), record(900, "900 per lot from Borealis Parts"), send("Thanks")},
		{finish(900)},
	}}

	sessA, err := New(h.deps(factoryA, "neg-a"), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	sessB, err := New(h.deps(factoryB, "neg-b"), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := sessA.Initialize(ctx, "vendor-a", "group-1", testProduct()); err != nil {
		t.Fatalf("Initialize(A) error = %v", err)
	}
	if err := sessB.Initialize(ctx, "vendor-b", "group-1", testProduct()); err != nil {
		t.Fatalf("Initialize(B) error = %v", err)
	}
	if sessA.ConversationID() != "conv-vendor-a@example.com" {
		t.Fatalf("unexpected conversation id: %s", sessA.ConversationID())
	}
	if !strings.Contains(factoryA.rt.instructions, "Polite but slow") || !strings.Contains(factoryA.rt.instructions, "850") {
		t.Fatalf("instructions missing behavior or target price:\n%s", factoryA.rt.instructions)
	}

	resA1, err := sessA.Invoke(ctx, "Start negotiating.")
	if err != nil {
		t.Fatalf("Invoke(A1) error = %v", err)
	}
	if resA1.Leverage != "" || resA1.Turn != 1 {
		t.Fatalf("unexpected first turn: %+v", resA1)
	}
	if _, err := sessB.Invoke(ctx, "Start negotiating."); err != nil {
		t.Fatalf("Invoke(B1) error = %v", err)
	}

	engine := leveragex.NewEngine(h.raw, nil)
	announcement, ok := engine.Announcement(ctx, "group-1", "neg-a")
	if !ok || !strings.Contains(announcement, "900") {
		t.Fatalf("expected leverage for A at 900, got %q (ok=%v)", announcement, ok)
	}
	for _, leak := range []string{"Borealis", "vendor-b", "neg-b"} {
		if strings.Contains(announcement, leak) {
			t.Fatalf("announcement leaks %q: %s", leak, announcement)
		}
	}
	if _, ok := engine.Announcement(ctx, "group-1", "neg-b"); ok {
		t.Fatalf("B already has the best price and must get no leverage")
	}

	resA2, err := sessA.Invoke(ctx, "Continue.")
	if err != nil {
		t.Fatalf("Invoke(A2) error = %v", err)
	}
	if resA2.Leverage == "" {
		t.Fatalf("expected leverage on A's second turn")
	}
	turnInstr := factoryA.rt.inputs[1].Instructions
	if !strings.HasPrefix(turnInstr, "## Leverage context for this turn") || !strings.HasSuffix(turnInstr, factoryA.rt.instructions) {
		t.Fatalf("unexpected turn instructions:\n%s", turnInstr)
	}
	if factoryA.rt.inputs[0].Instructions != factoryA.rt.instructions {
		t.Fatalf("first turn should use the base instructions")
	}
	if !strings.Contains(resA2.Messages[1].Content, "[COMPETITIVE LEVERAGE]") {
		t.Fatalf("send_message result should carry leverage: %q", resA2.Messages[1].Content)
	}
	if resA2.Phase != statex.PhaseConcluded || !sessA.Concluded() {
		t.Fatalf("A should be concluded, phase=%s", resA2.Phase)
	}

	group, err := h.raw.GetGroup(ctx, "group-1")
	if err != nil {
		t.Fatalf("GetGroup() error = %v", err)
	}
	if group.Status != storex.GroupRunning {
		t.Fatalf("group should still be running after one finish, got %s", group.Status)
	}

	if _, err := sessB.Invoke(ctx, "Continue."); err != nil {
		t.Fatalf("Invoke(B2) error = %v", err)
	}
	group, err = h.raw.GetGroup(ctx, "group-1")
	if err != nil {
		t.Fatalf("GetGroup() error = %v", err)
	}
	if group.Status != storex.GroupFinished {
		t.Fatalf("group should be finished, got %s", group.Status)
	}

	msgs, err := h.raw.ListMessages(ctx, sessA.ConversationID())
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 4 || msgs[0].Type != storex.MessageAssistant || msgs[1].Type != storex.MessageUser {
		t.Fatalf("unexpected transcript: %#v", msgs)
	}
	if strings.Contains(msgs[3].Body, "LEVERAGE") {
		t.Fatalf("leverage must not be stored as vendor text")
	}
	if len(h.reporter.errs) != 0 {
		t.Fatalf("unexpected reported errors: %v", h.reporter.errs)
	}
}

func TestInitializeVendorMissIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	factory := &scriptedFactory{}
	sess, err := New(h.deps(factory, "neg-1"), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := sess.Initialize(context.Background(), "ghost-vendor", "", testProduct()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if len(h.reporter.errs) != 1 || !errors.Is(h.reporter.errs[0], storex.ErrNotFound) {
		t.Fatalf("expected a reported vendor miss, got %v", h.reporter.errs)
	}
	if h.channel.opened[0] != "ghost-vendor" {
		t.Fatalf("channel should fall back to the vendor id, got %q", h.channel.opened[0])
	}
	if strings.Contains(factory.rt.instructions, "Vendor behavior profile") {
		t.Fatalf("no behavior section expected without a vendor profile")
	}
	if sess.NegotiationID() != "neg-1" || sess.GroupID() != "" {
		t.Fatalf("unexpected binding: %s %s", sess.NegotiationID(), sess.GroupID())
	}
}

func TestInitializeChannelFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.channel.openErr = errors.New("relay unreachable")
	seedVendor(t, h.raw, "vendor-a", "Acme", nil)

	sess, err := New(h.deps(&scriptedFactory{}, "neg-1"), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = sess.Initialize(context.Background(), "vendor-a", "", testProduct())
	if !errors.Is(err, contractx.ErrChannelOpen) {
		t.Fatalf("expected ErrChannelOpen, got %v", err)
	}
	if _, err := h.raw.GetNegotiation(context.Background(), "neg-1"); !errors.Is(err, storex.ErrNotFound) {
		t.Fatalf("no negotiation should be recorded, got %v", err)
	}
	if _, err := sess.Invoke(context.Background(), "hi"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestInitializeNegotiationRecordFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	seedVendor(t, h.raw, "vendor-a", "Acme", nil)
	h.store = &flakyStore{Store: h.raw, negotiationErr: errors.New("insert failed")}

	lenient, err := New(h.deps(&scriptedFactory{}, "neg-1"), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := lenient.Initialize(context.Background(), "vendor-a", "", testProduct()); err != nil {
		t.Fatalf("record failure should not be fatal by default: %v", err)
	}
	if len(h.reporter.errs) != 1 {
		t.Fatalf("expected one reported error, got %v", h.reporter.errs)
	}

	strict, err := New(h.deps(&scriptedFactory{}, "neg-2"), Config{RequireRecord: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := strict.Initialize(context.Background(), "vendor-a", "", testProduct()); err == nil {
		t.Fatalf("expected a fatal record failure with RequireRecord")
	}
}

func TestInitializeValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	sess, err := New(h.deps(&scriptedFactory{}, "neg-1"), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := sess.Initialize(context.Background(), " ", "", testProduct()); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty vendor, got %v", err)
	}
	if err := sess.Initialize(context.Background(), "v", "", contractx.Product{Name: "x"}); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected ErrValidation for bad product, got %v", err)
	}
	if err := sess.Initialize(context.Background(), "v", "", testProduct()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if err := sess.Initialize(context.Background(), "v", "", testProduct()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	if _, err := sess.Invoke(context.Background(), "   "); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}
}

func TestInvokePropagatesRuntimeFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	factory := &scriptedFactory{}
	sess, err := New(h.deps(factory, "neg-1"), Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := sess.Initialize(context.Background(), "v", "", testProduct()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	factory.rt.err = fmt.Errorf("%w: upstream 500", contractx.ErrModelInvoke)

	if _, err := sess.Invoke(context.Background(), "go"); !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected ErrModelInvoke, got %v", err)
	}
}

func TestCheckpointAndResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	checkpoints := &memoryCheckpoints{}

	factory := &scriptedFactory{turns: [][]scriptedCall{
		{send("hi"), record(700, "first quote")},
		{send("lower please")},
	}}
	deps := h.deps(factory, "neg-1")
	deps.Checkpoints = checkpoints

	sess, err := New(deps, Config{MaxSteps: 4})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := sess.Initialize(ctx, "v", "group-x", testProduct()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if _, err := sess.Invoke(ctx, "start"); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if _, err := sess.Invoke(ctx, "continue"); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	cp, ok := checkpoints.saved["neg-1"]
	if !ok {
		t.Fatalf("checkpoint not saved")
	}
	if cp.Version != 2 || cp.Turns != 2 || cp.Phase != statex.PhaseAwaitingPriceSnapshot || cp.GroupID != "group-x" {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}

	resumedFactory := &scriptedFactory{turns: [][]scriptedCall{{finish(650)}}}
	resumeDeps := h.deps(resumedFactory, "unused")
	resumeDeps.Checkpoints = checkpoints

	resumed, err := Resume(ctx, resumeDeps, Config{}, "neg-1")
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if resumed.ConversationID() != sess.ConversationID() || resumed.Phase() != statex.PhaseAwaitingPriceSnapshot {
		t.Fatalf("resumed session lost its binding: %s %s", resumed.ConversationID(), resumed.Phase())
	}
	if len(h.channel.opened) != 1 {
		t.Fatalf("resume must not reopen the channel, opened=%v", h.channel.opened)
	}

	res, err := resumed.Invoke(ctx, "wrap up")
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if res.Turn != 3 || res.Phase != statex.PhaseConcluded {
		t.Fatalf("unexpected resumed turn: %+v", res)
	}
	if got := checkpoints.saved["neg-1"]; got.Version != 3 {
		t.Fatalf("version = %d, want 3", got.Version)
	}

	if _, err := Resume(ctx, resumeDeps, Config{}, "missing"); !errors.Is(err, statex.ErrCheckpointNotFound) {
		t.Fatalf("expected ErrCheckpointNotFound, got %v", err)
	}
}

func TestCheckpointFailureDoesNotFailTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	deps := h.deps(&scriptedFactory{}, "neg-1")
	deps.Checkpoints = &memoryCheckpoints{err: errors.New("upstash down")}

	sess, err := New(deps, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := sess.Initialize(context.Background(), "v", "", testProduct()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if _, err := sess.Invoke(context.Background(), "go"); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	found := false
	for _, sc := range h.reporter.scopes {
		if sc.Operation == "save_checkpoint" {
			found = true
		}
	}
	if !found {
		t.Fatalf("checkpoint failure should be reported, got %v", h.reporter.scopes)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	base := h.deps(&scriptedFactory{}, "n")

	cases := map[string]func(d *Deps){
		"store":      func(d *Deps) { d.Store = nil },
		"channel":    func(d *Deps) { d.Channel = nil },
		"runtimes":   func(d *Deps) { d.Runtimes = nil },
		"leverage":   func(d *Deps) { d.Leverage = nil },
		"completion": func(d *Deps) { d.Completion = nil },
		"strategy":   func(d *Deps) { d.Strategy = "" },
	}
	for name, mutate := range cases {
		d := base
		mutate(&d)
		if _, err := New(d, Config{}); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}
