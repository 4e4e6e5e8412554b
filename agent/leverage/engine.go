package leverage

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
	storex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/store"
)

const redactedVendor = "another vendor"

// Store is the read side the engine needs.
type Store interface {
	ListGroupMembers(ctx context.Context, groupID string) ([]storex.GroupMember, error)
	ListStates(ctx context.Context, negotiationIDs []string, limit int) ([]storex.NegotiationState, error)
}

// Quote is the only information allowed to cross between negotiations.
type Quote struct {
	Price       float64 `json:"price"`
	Description string  `json:"description"`
}

type Engine struct {
	store    Store
	reporter contractx.Reporter
}

func NewEngine(store Store, reporter contractx.Reporter) *Engine {
	if reporter == nil {
		reporter = contractx.NopReporter{}
	}
	return &Engine{store: store, reporter: reporter}
}

// BestOfSiblings returns the cheapest snapshot recorded by any other negotiation
// of the group, with sibling identities redacted from its description.
// It returns nil when the group is empty or no sibling has a snapshot.
func (e *Engine) BestOfSiblings(ctx context.Context, groupID, excludeNegotiationID string) (*Quote, error) {
	if strings.TrimSpace(groupID) == "" {
		return nil, nil
	}

	members, err := e.store.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}

	siblings := make([]storex.GroupMember, 0, len(members))
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.NegotiationID == excludeNegotiationID {
			continue
		}
		siblings = append(siblings, m)
		ids = append(ids, m.NegotiationID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := e.store.ListStates(ctx, ids, 1)
	if err != nil {
		return nil, fmt.Errorf("list sibling states: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	return &Quote{
		Price:       rows[0].Price,
		Description: redact(rows[0].Description, siblings),
	}, nil
}

// BestOfSelf returns the negotiation's historical minimum snapshot, or nil.
func (e *Engine) BestOfSelf(ctx context.Context, negotiationID string) (*Quote, error) {
	if strings.TrimSpace(negotiationID) == "" {
		return nil, nil
	}
	rows, err := e.store.ListStates(ctx, []string{negotiationID}, 1)
	if err != nil {
		return nil, fmt.Errorf("list own states: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &Quote{Price: rows[0].Price, Description: rows[0].Description}, nil
}

// Announcement describes a strictly better sibling price. Lookup failures are
// reported and treated as "no leverage".
func (e *Engine) Announcement(ctx context.Context, groupID, negotiationID string) (string, bool) {
	scope := contractx.Scope{Operation: "leverage.announcement", NegotiationID: negotiationID, GroupID: groupID}

	sibling, err := e.BestOfSiblings(ctx, groupID, negotiationID)
	if err != nil {
		e.reporter.Report(ctx, scope, err)
		return "", false
	}
	if sibling == nil {
		return "", false
	}

	own, err := e.BestOfSelf(ctx, negotiationID)
	if err != nil {
		e.reporter.Report(ctx, scope, err)
		return "", false
	}
	if own == nil || !(sibling.Price < own.Price) {
		return "", false
	}

	return FormatAnnouncement(*sibling), true
}

func FormatAnnouncement(q Quote) string {
	desc := strings.TrimSpace(q.Description)
	if desc == "" {
		desc = "no further details"
	}
	return fmt.Sprintf(
		"[COMPETITIVE LEVERAGE] Another vendor has offered a price of %s (%s). Use this to push for a better deal, but never reveal who the competitor is.",
		FormatPrice(q.Price),
		desc,
	)
}

func FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// redact replaces every sibling identity in one pass, longest identifier
// first, so a replacement is never matched again. Identifiers only match on
// word boundaries.
func redact(text string, siblings []storex.GroupMember) string {
	seen := map[string]bool{}
	var idents []string
	for _, m := range siblings {
		for _, ident := range identities(m) {
			key := strings.ToLower(ident)
			if !seen[key] {
				seen[key] = true
				idents = append(idents, ident)
			}
		}
	}
	if len(idents) == 0 {
		return text
	}
	sort.SliceStable(idents, func(i, j int) bool { return len(idents[i]) > len(idents[j]) })

	alts := make([]string, len(idents))
	for i, ident := range idents {
		alts[i] = bounded(ident)
	}
	re := regexp.MustCompile(`(?i)(?:` + strings.Join(alts, "|") + `)`)
	return re.ReplaceAllLiteralString(text, redactedVendor)
}

// identities lists the strings that would reveal a sibling: its name and the
// leading word of a multi-word name, vendor and negotiation ids, and the
// channel handle with its domain.
func identities(m storex.GroupMember) []string {
	var out []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	add(m.VendorName)
	if words := strings.Fields(m.VendorName); len(words) > 1 && len(words[0]) >= minShortName && !stopWords[strings.ToLower(words[0])] {
		add(words[0])
	}
	add(m.VendorID)
	add(m.NegotiationID)
	add(m.ExternalID)
	if _, domain, ok := strings.Cut(m.ExternalID, "@"); ok {
		add(domain)
	}
	return out
}

const minShortName = 3

var stopWords = map[string]bool{"the": true, "and": true, "for": true}

// bounded anchors ident on word boundaries at the edges that are word
// characters; an edge like "@" or "-" is its own boundary.
func bounded(ident string) string {
	pattern := regexp.QuoteMeta(ident)
	if isWordByte(ident[0]) {
		pattern = `\b` + pattern
	}
	if isWordByte(ident[len(ident)-1]) {
		pattern += `\b`
	}
	return pattern
}

func isWordByte(b byte) bool {
	return b == '_' || ('0' <= b && b <= '9') || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}
