package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	storex "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/store"
)

type Store interface {
	ListGroupNegotiationIDs(ctx context.Context, groupID string) ([]string, error)
	ListOffers(ctx context.Context, negotiationIDs []string, limit int) ([]storex.Offer, error)
	MarkGroupFinished(ctx context.Context, groupID string) error
}

type Progress struct {
	GroupID  string `json:"group_id"`
	Offered  int    `json:"offered"`
	Total    int    `json:"total"`
	Finished bool   `json:"finished"`
}

func (p Progress) String() string {
	return fmt.Sprintf("%d of %d", p.Offered, p.Total)
}

// Protocol decides when every negotiation of a group has a final offer.
//
// The check is read-then-decide without a transaction. Sibling sessions may
// evaluate concurrently; marking a group finished is idempotent, so redundant
// transitions are harmless and a finished group is never reopened.
type Protocol struct {
	store Store
}

func New(store Store) *Protocol {
	return &Protocol{store: store}
}

func (p *Protocol) Evaluate(ctx context.Context, groupID string) (Progress, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return Progress{}, errors.New("group id is empty")
	}
	progress := Progress{GroupID: groupID}

	ids, err := p.store.ListGroupNegotiationIDs(ctx, groupID)
	if err != nil {
		return progress, fmt.Errorf("list group negotiations: %w", err)
	}
	progress.Total = len(ids)

	// A group without negotiations is never complete.
	if len(ids) == 0 {
		log.Info().Str("group_id", groupID).Msgf("group completion: %s negotiations finished", progress)
		return progress, nil
	}

	offers, err := p.store.ListOffers(ctx, ids, 0)
	if err != nil {
		return progress, fmt.Errorf("list group offers: %w", err)
	}

	members := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		members[id] = struct{}{}
	}
	offered := make(map[string]struct{}, len(ids))
	for _, o := range offers {
		if _, ok := members[o.NegotiationID]; ok {
			offered[o.NegotiationID] = struct{}{}
		}
	}
	progress.Offered = len(offered)

	if progress.Offered < progress.Total {
		log.Info().Str("group_id", groupID).Msgf("group completion: %s negotiations finished", progress)
		return progress, nil
	}

	if err := p.store.MarkGroupFinished(ctx, groupID); err != nil {
		return progress, fmt.Errorf("mark group finished: %w", err)
	}
	progress.Finished = true
	log.Info().Str("group_id", groupID).Msgf("group completion: %s negotiations finished, group marked finished", progress)
	return progress, nil
}
