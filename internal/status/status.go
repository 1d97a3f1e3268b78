// Package status computes a message's aggregate delivery state from its
// per-recipient delivery/read maps and the conversation's active
// participant set at query time. Participants who leave after a message
// was sent drop out of the "all recipients" computation, so the aggregate
// can still reach READ.
package status

import (
	"time"

	"github.com/fathima-sithara/realtime-service/internal/model"
)

// Aggregate returns SENT, DELIVERED or READ for a persisted message.
// activeRecipients is the conversation's current active participant set
// excluding the sender. Pure function, safe for concurrent use.
func Aggregate(msg *model.Message, activeRecipients []string) model.Status {
	if covers(msg.ReadBy, msg.SenderID, activeRecipients) {
		return model.StatusRead
	}
	if covers(msg.DeliveredTo, msg.SenderID, activeRecipients) {
		return model.StatusDelivered
	}
	return model.StatusSent
}

// Merge enforces aggregate monotonicity: once a message reached a state it
// never regresses, even if the recipient set later grows again.
func Merge(current, computed model.Status) model.Status {
	if computed.Rank() > current.Rank() {
		return computed
	}
	return current
}

func covers(marks map[string]time.Time, senderID string, recipients []string) bool {
	for _, r := range recipients {
		if r == senderID {
			continue
		}
		if _, ok := marks[r]; !ok {
			return false
		}
	}
	return true
}
