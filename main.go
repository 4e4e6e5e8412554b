package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	completionx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/completion"
	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
	leveragex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/leverage"
	llmx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/llm"
	negotiationx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/negotiation"
	promptx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/prompt"
	runtimex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/runtime"
	statex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/state"
	storex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/store"
	configx "github.com/tanpawarit/Vendor-Negotiation-Agent/pkg/config"
	logx "github.com/tanpawarit/Vendor-Negotiation-Agent/pkg/logger"
	_ "github.com/tanpawarit/Vendor-Negotiation-Agent/pkg/logger/autoload"
	mailboxx "github.com/tanpawarit/Vendor-Negotiation-Agent/pkg/mailbox"
	openrouterx "github.com/tanpawarit/Vendor-Negotiation-Agent/pkg/openrouter"
	vendorsimx "github.com/tanpawarit/Vendor-Negotiation-Agent/pkg/vendorsim"
)

type AppConfig struct {
	ScenarioFile string `envconfig:"SCENARIO_FILE" default:"scenario.json"`
	MaxTurns     int    `envconfig:"MAX_TURNS" default:"8"`

	// ResumeGroup continues a group from its checkpoints instead of starting
	// a new one. Requires UPSTASH_URL.
	ResumeGroup string `envconfig:"RESUME_GROUP" split_words:"true"`
}

func main() {
	ctx := context.Background()

	appCfg := configx.MustNew[AppConfig]("")
	dbCfg := configx.MustNew[storex.Config]("DB")
	negCfg := configx.MustNew[negotiationx.Config]("NEGOTIATION")
	llmCfg := configx.MustNew[llmx.Config]("OPENROUTER")
	mailboxCfg := configx.MustNew[mailboxx.Config]("MAILBOX")
	upstashCfg := configx.MustNew[statex.RedisConfig]("UPSTASH")

	if err := llmCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid llm config")
	}
	prompts := promptx.LoadPromptSet()
	if err := prompts.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid prompt set")
	}

	scenario, vendorIDs, err := loadScenario(appCfg.ScenarioFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", appCfg.ScenarioFile).Msg("load scenario")
	}

	db, err := storex.Open(*dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer db.Close()
	if dbCfg.AutoMigrate {
		if err := storex.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("migrate store")
		}
	}
	store := storex.New(db)

	reporter := logx.NewReporter(nil)

	negotiatorCfg := llmCfg.OpenRouterFor(contractx.AgentTypeNegotiator)
	runtimes, err := runtimex.NewFactoryFromBuilder(ctx, &negotiatorCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create runtime factory")
	}

	channel, err := newChannel(*mailboxCfg, *llmCfg, prompts.Vendor, scenario.Vendors)
	if err != nil {
		log.Fatal().Err(err).Msg("create messaging channel")
	}

	var checkpoints *statex.RedisCheckpoints
	if upstashCfg.Enabled() {
		checkpoints, err = statex.NewRedisCheckpoints(*upstashCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("create checkpoint store")
		}
	}

	for i, p := range scenario.Vendors {
		behavior := p.Behavior
		v := &storex.Vendor{ID: vendorIDs[i], Name: p.Name, ExternalID: p.ExternalID}
		if behavior != "" {
			v.Behavior = &behavior
		}
		if _, err := store.GetVendor(ctx, v.ID); errors.Is(err, storex.ErrNotFound) {
			if err := store.CreateVendor(ctx, v); err != nil {
				log.Fatal().Err(err).Str("vendor_id", v.ID).Msg("create vendor")
			}
		}
	}

	deps := negotiationx.Deps{
		Store:      store,
		Channel:    channel,
		Runtimes:   runtimes,
		Leverage:   leveragex.NewEngine(store, reporter),
		Completion: completionx.New(store),
		Reporter:   reporter,
		Strategy:   prompts.Negotiator,
	}
	if checkpoints != nil {
		deps.Checkpoints = checkpoints
	}

	var (
		groupID string
		starts  []sessionStart
	)
	if appCfg.ResumeGroup != "" {
		groupID = appCfg.ResumeGroup
		starts, err = resumeStarts(ctx, checkpoints, store, groupID)
		if err != nil {
			log.Fatal().Err(err).Str("group_id", groupID).Msg("load group checkpoints")
		}
	} else {
		group, err := store.CreateGroup(ctx, uuid.NewString())
		if err != nil {
			log.Fatal().Err(err).Msg("create negotiation group")
		}
		groupID = group.ID
		for _, vendorID := range vendorIDs {
			starts = append(starts, sessionStart{vendorID: vendorID})
		}
	}

	var wg sync.WaitGroup
	for _, start := range starts {
		wg.Add(1)
		go func(start sessionStart) {
			defer wg.Done()
			if err := runSession(ctx, deps, *negCfg, start, groupID, scenario.Product, appCfg.MaxTurns); err != nil {
				log.Error().Err(err).Str("vendor_id", start.vendorID).Str("group_id", groupID).Msg("negotiation session failed")
			}
		}(start)
	}
	wg.Wait()

	printSummary(ctx, store, groupID)
}

func newChannel(
	mailboxCfg mailboxx.Config,
	llmCfg llmx.Config,
	vendorPrompt string,
	profiles []vendorsimx.Profile,
) (contractx.Channel, error) {
	if mailboxCfg.Enabled() {
		return mailboxx.NewClient(mailboxCfg)
	}

	vendorCfg := llmCfg.OpenRouterFor(contractx.AgentTypeVendor)
	client := openrouterx.NewClient(vendorCfg)
	if client == nil {
		return nil, errors.New("failed to initialize openrouter client for the vendor simulator")
	}
	log.Info().Int("vendors", len(profiles)).Msg("no mailbox configured, using simulated vendors")
	return vendorsimx.New(client, vendorCfg.Model, vendorPrompt, profiles,
		vendorsimx.WithTemperature(float64(vendorCfg.Temperature)))
}

// sessionStart is either a vendor to open a new negotiation with or a
// checkpoint to resume.
type sessionStart struct {
	vendorID   string
	checkpoint *statex.Checkpoint
	transcript string
}

func resumeStarts(
	ctx context.Context,
	checkpoints *statex.RedisCheckpoints,
	store *storex.Store,
	groupID string,
) ([]sessionStart, error) {
	if checkpoints == nil {
		return nil, errors.New("resuming a group requires UPSTASH_URL")
	}
	cps, err := checkpoints.ListGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(cps) == 0 {
		return nil, fmt.Errorf("no checkpoints for group %s", groupID)
	}
	starts := make([]sessionStart, 0, len(cps))
	for _, cp := range cps {
		if cp.Phase == statex.PhaseConcluded {
			continue
		}
		messages, err := store.ListMessages(ctx, cp.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("load transcript of %s: %w", cp.NegotiationID, err)
		}
		starts = append(starts, sessionStart{
			vendorID:   cp.VendorID,
			checkpoint: cp,
			transcript: formatTranscript(messages),
		})
	}
	return starts, nil
}

// formatTranscript renders the stored emails for a resumed runtime, which
// starts without model history.
func formatTranscript(messages []storex.Message) string {
	var b strings.Builder
	for _, m := range messages {
		who := "Vendor"
		if m.Type == storex.MessageAssistant {
			who = "You"
		}
		fmt.Fprintf(&b, "%s: %s\n\n", who, strings.TrimSpace(m.Body))
	}
	return strings.TrimSpace(b.String())
}

func runSession(
	ctx context.Context,
	deps negotiationx.Deps,
	cfg negotiationx.Config,
	start sessionStart,
	groupID string,
	product contractx.Product,
	maxTurns int,
) error {
	text := "Start the negotiation with the vendor."

	var sess *negotiationx.Session
	if start.checkpoint != nil {
		resumed, err := negotiationx.ResumeFrom(ctx, deps, cfg, start.checkpoint)
		if err != nil {
			return err
		}
		sess = resumed
		text = "The session was restarted. Continue the negotiation from where it stopped."
		if start.transcript != "" {
			text += "\n\nEmails exchanged so far:\n\n" + start.transcript
		}
		maxTurns -= start.checkpoint.Turns
	} else {
		created, err := negotiationx.New(deps, cfg)
		if err != nil {
			return err
		}
		if err := created.Initialize(ctx, start.vendorID, groupID, product); err != nil {
			return err
		}
		sess = created
	}

	for turn := 0; turn < maxTurns && !sess.Concluded(); turn++ {
		res, err := sess.Invoke(ctx, text)
		if err != nil {
			return fmt.Errorf("turn %d: %w", turn+1, err)
		}
		text = "Continue the negotiation."
		if res.StepLimitReached {
			text = "You ran out of steps in the last turn. Continue where you left off."
		}
	}
	if !sess.Concluded() {
		log.Warn().
			Str("negotiation_id", sess.NegotiationID()).
			Str("group_id", groupID).
			Int("max_turns", maxTurns).
			Msg("negotiation did not finish within the turn limit")
	}
	return nil
}

func printSummary(ctx context.Context, store *storex.Store, groupID string) {
	group, err := store.GetGroup(ctx, groupID)
	if err != nil {
		log.Error().Err(err).Str("group_id", groupID).Msg("load group")
		return
	}
	members, err := store.ListGroupMembers(ctx, groupID)
	if err != nil {
		log.Error().Err(err).Str("group_id", groupID).Msg("list group members")
		return
	}

	fmt.Printf("Group %s: %s\n", group.ID, group.Status)
	for _, m := range members {
		offers, err := store.ListOffers(ctx, []string{m.NegotiationID}, 0)
		if err != nil {
			log.Error().Err(err).Str("negotiation_id", m.NegotiationID).Msg("list offers")
			continue
		}
		fmt.Printf("- %s (%d offers)\n", m.VendorName, len(offers))
		for _, o := range offers {
			fmt.Printf("    %s: %s\n", leveragex.FormatPrice(o.Price), o.Description)
		}
	}
}
