package model

import "time"

type MessageType string

const (
	TypeText   MessageType = "TEXT"
	TypeImage  MessageType = "IMAGE"
	TypeFile   MessageType = "FILE"
	TypeSystem MessageType = "SYSTEM"
)

func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile, TypeSystem:
		return true
	}
	return false
}

// Status is the conversation-wide aggregate delivery state of a message.
// PENDING exists only on the client side before the append is acknowledged;
// the server never stores it.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
)

// Rank orders statuses so aggregate state can only move forward.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

type Message struct {
	ID             string               `bson:"_id" json:"id"`
	ConversationID string               `bson:"conversation_id" json:"conversation_id"`
	SenderID       string               `bson:"sender_id" json:"sender_id"`
	Content        string               `bson:"content" json:"content"`
	Type           MessageType          `bson:"type" json:"type"`
	Seq            int64                `bson:"seq" json:"seq"`
	CreatedAt      time.Time            `bson:"created_at" json:"created_at"`
	Status         Status               `bson:"status" json:"status"`
	DeliveredTo    map[string]time.Time `bson:"delivered_to" json:"delivered_to"`
	ReadBy         map[string]time.Time `bson:"read_by" json:"read_by"`
}

type ConversationType string

const (
	ConversationDirect ConversationType = "DIRECT"
	ConversationGroup  ConversationType = "GROUP"
)

type Conversation struct {
	ID        string           `json:"id"`
	Type      ConversationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	DeletedAt *time.Time       `json:"deleted_at,omitempty"`
}

// Deleted reports whether the conversation carries a tombstone.
func (c *Conversation) Deleted() bool { return c.DeletedAt != nil }

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) CanRemoveOthers() bool { return r == RoleOwner || r == RoleAdmin }

// Participant is a conversation membership row. Leaving sets Active to
// false; rows are never deleted while the conversation exists so history
// stays attributable.
type Participant struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Role           Role      `json:"role"`
	Active         bool      `json:"active"`
	JoinedAt       time.Time `json:"joined_at"`
	LastReadSeq    int64     `json:"last_read_seq"`
	LastReadAt     time.Time `json:"last_read_at"`
}
