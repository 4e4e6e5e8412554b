package store

import (
	"time"

	"github.com/uptrace/bun"
)

type MessageType string

const (
	MessageAssistant MessageType = "assistant"
	MessageUser      MessageType = "user"
)

type GroupStatus string

const (
	GroupRunning  GroupStatus = "running"
	GroupFinished GroupStatus = "finished"
)

type Vendor struct {
	bun.BaseModel `bun:"table:vendors"`

	ID         string    `bun:"id,pk"`
	Name       string    `bun:"name,notnull"`
	ExternalID string    `bun:"external_id"`
	Behavior   *string   `bun:"behavior"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

type NegotiationGroup struct {
	bun.BaseModel `bun:"table:negotiation_groups"`

	ID        string      `bun:"id,pk"`
	Status    GroupStatus `bun:"status,notnull"`
	CreatedAt time.Time   `bun:"created_at,notnull"`
	UpdatedAt time.Time   `bun:"updated_at,notnull"`
}

type Conversation struct {
	bun.BaseModel `bun:"table:conversations"`

	ID            string    `bun:"id,pk"`
	ChannelHandle string    `bun:"channel_handle,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type Negotiation struct {
	bun.BaseModel `bun:"table:negotiations"`

	ID             string    `bun:"id,pk"`
	GroupID        *string   `bun:"group_id"`
	VendorID       string    `bun:"vendor_id,notnull"`
	ConversationID string    `bun:"conversation_id,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`

	Vendor *Vendor `bun:"rel:belongs-to,join:vendor_id=id"`
}

// Message ids are assigned by the database; id order is chronological order.
type Message struct {
	bun.BaseModel `bun:"table:messages"`

	ID             int64       `bun:"id,pk,autoincrement"`
	ConversationID string      `bun:"conversation_id,notnull"`
	Type           MessageType `bun:"type,notnull"`
	Body           string      `bun:"body,notnull"`
	CreatedAt      time.Time   `bun:"created_at,notnull"`
}

type NegotiationState struct {
	bun.BaseModel `bun:"table:negotiation_states"`

	ID            int64     `bun:"id,pk,autoincrement"`
	NegotiationID string    `bun:"negotiation_id,notnull"`
	Price         float64   `bun:"price,notnull"`
	Description   string    `bun:"description,notnull"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type Offer struct {
	bun.BaseModel `bun:"table:offers"`

	ID            int64     `bun:"id,pk,autoincrement"`
	NegotiationID string    `bun:"negotiation_id,notnull"`
	Price         float64   `bun:"price,notnull"`
	Description   string    `bun:"description,notnull"`
	Pros          []string  `bun:"pros,type:jsonb"`
	Cons          []string  `bun:"cons,type:jsonb"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

// GroupMember is one negotiation of a group together with its vendor identity.
type GroupMember struct {
	NegotiationID string
	VendorID      string
	VendorName    string
	// ExternalID is the vendor's channel handle, e.g. its email address.
	ExternalID string
}
