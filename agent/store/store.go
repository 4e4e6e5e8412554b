package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const SQLiteScheme = "sqlite://"

type Config struct {
	DSN         string `envconfig:"DSN" required:"true"`
	AutoMigrate bool   `envconfig:"AUTO_MIGRATE" split_words:"true" default:"true"`
}

// Open connects to Postgres, or to SQLite when the DSN starts with sqlite://.
func Open(cfg Config) (*bun.DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("store dsn is required")
	}

	if path, ok := strings.CutPrefix(dsn, SQLiteScheme); ok {
		sqldb, err := sql.Open("sqlite", path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		sqldb.SetMaxIdleConns(1)
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New()), nil
}

// Migrate creates every table the store reads or writes, and their lookup
// indexes, if they do not exist yet.
func Migrate(ctx context.Context, db bun.IDB) error {
	models := []any{
		(*Vendor)(nil),
		(*NegotiationGroup)(nil),
		(*Conversation)(nil),
		(*Negotiation)(nil),
		(*Message)(nil),
		(*NegotiationState)(nil),
		(*Offer)(nil),
	}
	for _, m := range models {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}

	for _, idx := range indexes {
		if _, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.column).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// indexes cover the lookups every turn makes: snapshots and offers by
// negotiation, group members, and a conversation's transcript.
var indexes = []struct {
	model  any
	name   string
	column string
}{
	{(*NegotiationState)(nil), "negotiation_states_negotiation_id_idx", "negotiation_id"},
	{(*Offer)(nil), "offers_negotiation_id_idx", "negotiation_id"},
	{(*Negotiation)(nil), "negotiations_group_id_idx", "group_id"},
	{(*Message)(nil), "messages_conversation_id_idx", "conversation_id"},
}

// Store is the durable negotiation state. It keeps no cache: sibling sessions
// write concurrently, so every read goes to the database.
type Store struct {
	db  bun.IDB
	now func() time.Time
}

func New(db bun.IDB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) stamp() time.Time {
	return s.now().UTC()
}

/* -------------------------------- Vendors -------------------------------- */

func (s *Store) CreateVendor(ctx context.Context, v *Vendor) error {
	if v == nil || strings.TrimSpace(v.ID) == "" {
		return errors.New("vendor id is required")
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.stamp()
	}
	_, err := s.db.NewInsert().Model(v).Exec(ctx)
	return err
}

func (s *Store) GetVendor(ctx context.Context, id string) (*Vendor, error) {
	v := new(Vendor)
	err := s.db.NewSelect().Model(v).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return v, nil
}

/* --------------------------------- Groups -------------------------------- */

func (s *Store) CreateGroup(ctx context.Context, id string) (*NegotiationGroup, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("group id is required")
	}
	now := s.stamp()
	g := &NegotiationGroup{ID: id, Status: GroupRunning, CreatedAt: now, UpdatedAt: now}
	if _, err := s.db.NewInsert().Model(g).Exec(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*NegotiationGroup, error) {
	g := new(NegotiationGroup)
	err := s.db.NewSelect().Model(g).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return g, nil
}

// MarkGroupFinished sets the group to finished. Repeating it is harmless.
func (s *Store) MarkGroupFinished(ctx context.Context, id string) error {
	res, err := s.db.NewUpdate().
		Model((*NegotiationGroup)(nil)).
		Set("status = ?", GroupFinished).
		Set("updated_at = ?", s.stamp()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListGroupNegotiationIDs returns the ids of every negotiation in the group,
// in creation order.
func (s *Store) ListGroupNegotiationIDs(ctx context.Context, groupID string) ([]string, error) {
	var ids []string
	err := s.db.NewSelect().
		Model((*Negotiation)(nil)).
		Column("id").
		Where("group_id = ?", groupID).
		Order("created_at ASC", "id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) ListGroupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	var rows []Negotiation
	err := s.db.NewSelect().
		Model(&rows).
		Relation("Vendor").
		Where("negotiation.group_id = ?", groupID).
		Order("negotiation.created_at ASC", "negotiation.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	members := make([]GroupMember, 0, len(rows))
	for _, n := range rows {
		m := GroupMember{NegotiationID: n.ID, VendorID: n.VendorID}
		if n.Vendor != nil {
			m.VendorName = n.Vendor.Name
			m.ExternalID = n.Vendor.ExternalID
		}
		members = append(members, m)
	}
	return members, nil
}

/* ------------------------ Conversations / negotiations ------------------------ */

func (s *Store) CreateConversation(ctx context.Context, c *Conversation) error {
	if c == nil || strings.TrimSpace(c.ID) == "" {
		return errors.New("conversation id is required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.stamp()
	}
	_, err := s.db.NewInsert().Model(c).Exec(ctx)
	return err
}

func (s *Store) CreateNegotiation(ctx context.Context, n *Negotiation) error {
	if n == nil || strings.TrimSpace(n.ID) == "" {
		return errors.New("negotiation id is required")
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.stamp()
	}
	_, err := s.db.NewInsert().Model(n).Exec(ctx)
	return err
}

func (s *Store) GetNegotiation(ctx context.Context, id string) (*Negotiation, error) {
	n := new(Negotiation)
	err := s.db.NewSelect().Model(n).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return n, nil
}

/* -------------------------------- Messages ------------------------------- */

func (s *Store) AppendMessage(ctx context.Context, conversationID string, typ MessageType, body string) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("conversation id is required")
	}
	m := &Message{
		ConversationID: conversationID,
		Type:           typ,
		Body:           body,
		CreatedAt:      s.stamp(),
	}
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

// ListMessages returns the conversation log in insertion order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var rows []Message
	err := s.db.NewSelect().
		Model(&rows).
		Where("conversation_id = ?", conversationID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

/* --------------------------------- States -------------------------------- */

func (s *Store) AppendState(ctx context.Context, negotiationID string, price float64, description string) error {
	if strings.TrimSpace(negotiationID) == "" {
		return errors.New("negotiation id is required")
	}
	st := &NegotiationState{
		NegotiationID: negotiationID,
		Price:         price,
		Description:   description,
		CreatedAt:     s.stamp(),
	}
	_, err := s.db.NewInsert().Model(st).Exec(ctx)
	return err
}

// ListStates returns snapshots of the given negotiations cheapest first.
// A limit <= 0 returns every row.
func (s *Store) ListStates(ctx context.Context, negotiationIDs []string, limit int) ([]NegotiationState, error) {
	if len(negotiationIDs) == 0 {
		return nil, nil
	}
	var rows []NegotiationState
	q := s.db.NewSelect().
		Model(&rows).
		Where("negotiation_id IN (?)", bun.In(negotiationIDs)).
		Order("price ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

/* --------------------------------- Offers -------------------------------- */

// AppendOffers stores the final offers of one submission in a single
// transaction: either every offer is saved or none is.
func (s *Store) AppendOffers(ctx context.Context, offers []*Offer) error {
	if len(offers) == 0 {
		return errors.New("at least one offer is required")
	}
	now := s.stamp()
	for _, o := range offers {
		if o == nil || strings.TrimSpace(o.NegotiationID) == "" {
			return errors.New("negotiation id is required")
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		if o.Pros == nil {
			o.Pros = []string{}
		}
		if o.Cons == nil {
			o.Cons = []string{}
		}
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for i, o := range offers {
			if _, err := tx.NewInsert().Model(o).Exec(ctx); err != nil {
				return fmt.Errorf("insert offer %d of %d: %w", i+1, len(offers), err)
			}
		}
		return nil
	})
}

// ListOffers returns final offers of the given negotiations cheapest first.
// A limit <= 0 returns every row.
func (s *Store) ListOffers(ctx context.Context, negotiationIDs []string, limit int) ([]Offer, error) {
	if len(negotiationIDs) == 0 {
		return nil, nil
	}
	var rows []Offer
	q := s.db.NewSelect().
		Model(&rows).
		Where("negotiation_id IN (?)", bun.In(negotiationIDs)).
		Order("price ASC", "id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}
