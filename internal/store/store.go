// Package store is the durable, append-only message log. Each append is
// assigned a strictly increasing per-conversation sequence; that sequence,
// not dispatch time, is the conversation's total order and the replay key
// clients resume from after a reconnect.
package store

import (
	"context"
	"time"

	"github.com/fathima-sithara/realtime-service/internal/model"
)

type Store interface {
	// Append persists a new message, assigning id, server timestamp and
	// the next per-conversation sequence. Authorization happens in the
	// dispatcher before this is called.
	Append(ctx context.Context, conversationID, senderID, content string, typ model.MessageType) (*model.Message, error)

	// ListSince returns messages with seq > afterSeq in ascending seq
	// order. Passing the last-seen seq back in resumes the stream with no
	// gaps and no duplicates.
	ListSince(ctx context.Context, conversationID string, afterSeq int64) ([]*model.Message, error)

	// History returns up to limit messages with seq < beforeSeq (or the
	// newest ones when beforeSeq <= 0), ascending. Used for UI backfill.
	History(ctx context.Context, conversationID string, beforeSeq, limit int64) ([]*model.Message, error)

	Get(ctx context.Context, messageID string) (*model.Message, error)

	// RecordDelivery and RecordRead stamp a per-recipient timestamp under
	// a monotonic guard: an equal or older timestamp is a no-op. The
	// returned message reflects the post-call state; updated reports
	// whether anything changed.
	RecordDelivery(ctx context.Context, messageID, recipientID string, at time.Time) (*model.Message, bool, error)
	RecordRead(ctx context.Context, messageID, recipientID string, at time.Time) (*model.Message, bool, error)

	// UpdateStatus raises the message's aggregate status high-water mark.
	// Downgrades are ignored, keeping the aggregate monotonic.
	UpdateStatus(ctx context.Context, messageID string, s model.Status) error

	// UnreadSince counts messages in the conversation with seq > afterSeq
	// that userID has not read and did not send.
	UnreadSince(ctx context.Context, conversationID, userID string, afterSeq int64) (int64, error)

	// MaxSeq returns the highest assigned sequence, 0 for an empty log.
	MaxSeq(ctx context.Context, conversationID string) (int64, error)

	// ListUnreadBy returns messages with seq <= upToSeq that userID has
	// not read and did not send, ascending. Backs bulk read receipts.
	ListUnreadBy(ctx context.Context, conversationID, userID string, upToSeq int64) ([]*model.Message, error)

	// PurgeConversations removes all messages of the given conversations.
	// Called by the retention sweep after a hard delete.
	PurgeConversations(ctx context.Context, conversationIDs []string) error
}
