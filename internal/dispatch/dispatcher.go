// Package dispatch is the coordination point of the delivery path: it
// gates senders, persists through the store, fans events out to live
// connections and re-broadcasts delivery/read receipts. Delivery is
// push-best-effort; the persisted log is the durability guarantee and
// offline recipients catch up through ListSince on reconnect.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/events"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/model"
	"github.com/fathima-sithara/realtime-service/internal/presence"
	"github.com/fathima-sithara/realtime-service/internal/status"
	"github.com/fathima-sithara/realtime-service/internal/store"
)

type Kind string

const (
	KindDelivered Kind = "DELIVERED"
	KindRead      Kind = "READ"
)

// Realtime channel event types.
const (
	EventMessage          = "MESSAGE"
	EventMessageDelivered = "MESSAGE_DELIVERED"
	EventMessageRead      = "MESSAGE_READ"
	EventConversationRead = "CONVERSATION_READ"
	EventPresence         = "PRESENCE"
)

type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type StatusPayload struct {
	MessageID      string       `json:"message_id"`
	ConversationID string       `json:"conversation_id"`
	RecipientID    string       `json:"recipient_id"`
	Status         model.Status `json:"status"`
	At             time.Time    `json:"at"`
}

type ConversationReadPayload struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	UpToSeq        int64     `json:"up_to_seq"`
	At             time.Time `json:"at"`
}

type PresencePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// Memberships is what the dispatcher needs from the membership service.
type Memberships interface {
	AssertCanParticipate(ctx context.Context, conversationID, userID string) error
	ActiveParticipants(ctx context.Context, conversationID string) ([]string, error)
	AdvanceLastRead(ctx context.Context, conversationID, userID string, seq int64, at time.Time) error
	ConversationsForUser(ctx context.Context, userID string) ([]string, error)
}

type Dispatcher struct {
	memberships Memberships
	store       store.Store
	registry    *presence.Registry
	events      events.Publisher
	log         *zap.SugaredLogger
}

func New(m Memberships, s store.Store, r *presence.Registry, pub events.Publisher, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{memberships: m, store: s, registry: r, events: pub, log: log}
}

// Send authorizes the sender, appends the message and fans it out to the
// live connections of every other active participant. The returned
// message is the durable record; fan-out failures never affect it.
func (d *Dispatcher) Send(ctx context.Context, conversationID, senderID, content string, typ model.MessageType) (*model.Message, error) {
	if typ == "" {
		typ = model.TypeText
	}
	if !typ.Valid() {
		return nil, apperr.Invalid("type", "unknown message type")
	}
	if typ == model.TypeText && content == "" {
		return nil, apperr.Invalid("content", "required for text messages")
	}
	if err := d.memberships.AssertCanParticipate(ctx, conversationID, senderID); err != nil {
		return nil, err
	}

	msg, err := d.store.Append(ctx, conversationID, senderID, content, typ)
	if err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()

	d.MessageCreated(ctx, msg)

	if err := d.events.Publish(ctx, events.EventMessageNew, msg.ID, msg); err != nil {
		d.log.Warnw("publish message.new", "message_id", msg.ID, "err", err)
	}
	return msg, nil
}

// MessageCreated pushes a persisted message to every live connection of
// every active participant except the sender. Offline recipients get
// nothing here; their record is the store. One recipient's connections
// are pushed contiguously, and a failed push is isolated to its
// connection.
func (d *Dispatcher) MessageCreated(ctx context.Context, msg *model.Message) {
	start := time.Now()
	defer func() { metrics.FanoutDuration.Observe(time.Since(start).Seconds()) }()

	recipients, err := d.recipientsOf(ctx, msg.ConversationID, msg.SenderID)
	if err != nil {
		d.log.Errorw("resolve recipients", "conversation_id", msg.ConversationID, "err", err)
		return
	}
	payload, err := json.Marshal(Event{Type: EventMessage, Payload: msg})
	if err != nil {
		d.log.Errorw("encode message event", "message_id", msg.ID, "err", err)
		return
	}
	for _, r := range recipients {
		d.pushToUser(r, payload)
	}
}

// StatusUpdate applies a delivery or read acknowledgement and, when it
// changed anything, re-broadcasts the resulting aggregate status to all
// active participants so receipts stay consistent across everyone's
// devices, the sender's included. Acknowledgements from users who are no
// longer active participants are silently dropped.
func (d *Dispatcher) StatusUpdate(ctx context.Context, messageID, recipientID string, kind Kind, at time.Time) error {
	msg, err := d.store.Get(ctx, messageID)
	if err != nil {
		return err
	}
	active, err := d.memberships.ActiveParticipants(ctx, msg.ConversationID)
	if err != nil {
		return err
	}
	if recipientID == msg.SenderID || !contains(active, recipientID) {
		return nil
	}

	var updated bool
	switch kind {
	case KindDelivered:
		msg, updated, err = d.store.RecordDelivery(ctx, messageID, recipientID, at)
	case KindRead:
		msg, updated, err = d.store.RecordRead(ctx, messageID, recipientID, at)
	default:
		return apperr.Invalid("kind", "must be DELIVERED or READ")
	}
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	agg, err := d.raiseStatus(ctx, msg, active)
	if err != nil {
		return err
	}

	eventType := EventMessageDelivered
	eventName := events.EventMessageDelivered
	if kind == KindRead {
		eventType = EventMessageRead
		eventName = events.EventMessageRead
	}
	sp := StatusPayload{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		RecipientID:    recipientID,
		Status:         agg,
		At:             at,
	}
	d.broadcast(active, Event{Type: eventType, Payload: sp})

	if err := d.events.Publish(ctx, eventName, msg.ID, sp); err != nil {
		d.log.Warnw("publish status event", "message_id", msg.ID, "err", err)
	}
	return nil
}

// ConversationRead marks everything up to the conversation's current
// frontier as read by userID in one sweep, advances the participant's
// last-read marker and broadcasts a single bulk receipt.
func (d *Dispatcher) ConversationRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	if err := d.memberships.AssertCanParticipate(ctx, conversationID, userID); err != nil {
		return err
	}
	active, err := d.memberships.ActiveParticipants(ctx, conversationID)
	if err != nil {
		return err
	}
	upTo, err := d.store.MaxSeq(ctx, conversationID)
	if err != nil {
		return err
	}
	unread, err := d.store.ListUnreadBy(ctx, conversationID, userID, upTo)
	if err != nil {
		return err
	}
	for _, m := range unread {
		m, updated, err := d.store.RecordRead(ctx, m.ID, userID, at)
		if err != nil {
			return err
		}
		if updated {
			if _, err := d.raiseStatus(ctx, m, active); err != nil {
				return err
			}
		}
	}
	if err := d.memberships.AdvanceLastRead(ctx, conversationID, userID, upTo, at); err != nil {
		return err
	}

	crp := ConversationReadPayload{ConversationID: conversationID, UserID: userID, UpToSeq: upTo, At: at}
	d.broadcast(active, Event{Type: EventConversationRead, Payload: crp})

	if err := d.events.Publish(ctx, events.EventConversationRead, conversationID, crp); err != nil {
		d.log.Warnw("publish conversation.read", "conversation_id", conversationID, "err", err)
	}
	return nil
}

// PresenceChanged notifies the user's conversation partners that they
// came online or went offline. Best effort all the way down.
func (d *Dispatcher) PresenceChanged(ctx context.Context, userID string, online bool) {
	convs, err := d.memberships.ConversationsForUser(ctx, userID)
	if err != nil {
		d.log.Warnw("resolve conversations for presence", "user_id", userID, "err", err)
		return
	}
	notified := map[string]bool{userID: true}
	ev := Event{Type: EventPresence, Payload: PresencePayload{UserID: userID, Online: online}}
	payload, _ := json.Marshal(ev)
	for _, convID := range convs {
		partners, err := d.memberships.ActiveParticipants(ctx, convID)
		if err != nil {
			continue
		}
		for _, p := range partners {
			if notified[p] {
				continue
			}
			notified[p] = true
			d.pushToUser(p, payload)
		}
	}
	if err := d.events.Publish(ctx, events.EventPresenceChanged, userID, ev.Payload); err != nil {
		d.log.Warnw("publish presence.changed", "user_id", userID, "err", err)
	}
}

// raiseStatus recomputes the aggregate for the current active recipient
// set and raises the stored high-water mark when it moved forward.
func (d *Dispatcher) raiseStatus(ctx context.Context, msg *model.Message, active []string) (model.Status, error) {
	recipients := make([]string, 0, len(active))
	for _, p := range active {
		if p != msg.SenderID {
			recipients = append(recipients, p)
		}
	}
	agg := status.Merge(msg.Status, status.Aggregate(msg, recipients))
	if agg != msg.Status {
		if err := d.store.UpdateStatus(ctx, msg.ID, agg); err != nil {
			return agg, err
		}
	}
	return agg, nil
}

func (d *Dispatcher) recipientsOf(ctx context.Context, conversationID, senderID string) ([]string, error) {
	active, err := d.memberships.ActiveParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(active))
	for _, p := range active {
		if p != senderID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (d *Dispatcher) broadcast(userIDs []string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		d.log.Errorw("encode event", "type", ev.Type, "err", err)
		return
	}
	for _, u := range userIDs {
		d.pushToUser(u, payload)
	}
}

func (d *Dispatcher) pushToUser(userID string, payload []byte) {
	for _, conn := range d.registry.ConnectionsFor(userID) {
		if err := conn.Send(payload); err != nil {
			metrics.PushFailures.Inc()
			d.log.Warnw("push failed", "user_id", userID, "conn_id", conn.ID, "err", err)
			continue
		}
		metrics.PushesDelivered.Inc()
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
