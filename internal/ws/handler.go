package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/auth"
	"github.com/fathima-sithara/realtime-service/internal/dispatch"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/model"
	"github.com/fathima-sithara/realtime-service/internal/presence"
)

type Config struct {
	PingInterval   time.Duration
	WriteDeadline  time.Duration
	MaxMessageSize int64
	SendRatePerSec int
}

// Handler runs the realtime handshake and connection lifecycle: validate
// the token, register with the presence registry, pump frames into the
// dispatcher, and unregister on the way out.
type Handler struct {
	registry   *presence.Registry
	mirror     *presence.Mirror
	dispatcher *dispatch.Dispatcher
	validator  *auth.Validator
	cfg        Config
	log        *zap.SugaredLogger
}

func NewHandler(reg *presence.Registry, mirror *presence.Mirror, d *dispatch.Dispatcher, v *auth.Validator, cfg Config, log *zap.SugaredLogger) *Handler {
	return &Handler{registry: reg, mirror: mirror, dispatcher: d, validator: v, cfg: cfg, log: log}
}

// Handle serves one websocket connection; mount with websocket.New on
// GET /ws?token=<jwt>.
func (h *Handler) Handle(c *websocket.Conn) {
	userID, err := h.validator.ResolveUserID(c.Query("token"))
	if err != nil {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"ERROR","payload":{"reason":"unauthenticated"}}`))
		_ = c.Close()
		return
	}

	client := NewClient(c, h.cfg.PingInterval, h.cfg.WriteDeadline, h.cfg.MaxMessageSize, h.cfg.SendRatePerSec)
	conn, cameOnline := h.registry.Register(userID, client)
	metrics.ConnectionsActive.Inc()
	h.log.Infow("connection opened", "user_id", userID, "conn_id", conn.ID)

	ctx := context.Background()
	if h.mirror != nil {
		if err := h.mirror.AddConnection(ctx, userID, conn.ID); err != nil {
			h.log.Warnw("presence mirror add", "user_id", userID, "err", err)
		}
	}
	if cameOnline {
		h.dispatcher.PresenceChanged(ctx, userID, true)
	}

	go client.writePump()
	client.readPump(func(env Envelope) {
		h.route(ctx, userID, client, env)
	})

	// read pump exited: the peer is gone. Unregister is idempotent and
	// safe against pushes still in flight to this connection.
	client.Close()
	_, wentOffline := h.registry.Unregister(conn.ID)
	metrics.ConnectionsActive.Dec()
	if h.mirror != nil {
		if err := h.mirror.RemoveConnection(ctx, userID, conn.ID); err != nil {
			h.log.Warnw("presence mirror remove", "user_id", userID, "err", err)
		}
	}
	if wentOffline {
		h.dispatcher.PresenceChanged(ctx, userID, false)
	}
	h.log.Infow("connection closed", "user_id", userID, "conn_id", conn.ID)
}

// Server replies on the originating connection. ACK confirms a send was
// durably persisted; ERROR carries the rejection reason back to the
// client that caused it.
const (
	FrameAck   = "ACK"
	FrameError = "ERROR"
)

type ackReply struct {
	Frame   string         `json:"frame"`
	Message *model.Message `json:"message,omitempty"`
}

type errorReply struct {
	Frame  string `json:"frame,omitempty"`
	Reason string `json:"reason"`
}

func (h *Handler) route(ctx context.Context, userID string, client *Client, env Envelope) {
	now := time.Now().UTC()
	switch env.Type {
	case FrameSendMessage:
		msg, err := h.dispatcher.Send(ctx, env.Payload.ConversationID, userID, env.Payload.Content, model.MessageType(env.Payload.MsgType))
		if err != nil {
			h.reject(client, userID, env.Type, err)
			return
		}
		h.reply(client, dispatch.Event{Type: FrameAck, Payload: ackReply{Frame: env.Type, Message: msg}})
	case FrameMarkDelivered:
		if err := h.dispatcher.StatusUpdate(ctx, env.Payload.MessageID, userID, dispatch.KindDelivered, now); err != nil {
			h.reject(client, userID, env.Type, err)
		}
	case FrameMarkRead:
		if err := h.dispatcher.StatusUpdate(ctx, env.Payload.MessageID, userID, dispatch.KindRead, now); err != nil {
			h.reject(client, userID, env.Type, err)
		}
	case FrameReadConversation:
		if err := h.dispatcher.ConversationRead(ctx, env.Payload.ConversationID, userID, now); err != nil {
			h.reject(client, userID, env.Type, err)
		}
	}
}

func (h *Handler) reject(client *Client, userID, frame string, err error) {
	h.log.Debugw("frame rejected", "type", frame, "user_id", userID, "err", err)
	h.reply(client, dispatch.Event{Type: FrameError, Payload: errorReply{Frame: frame, Reason: errorReason(err)}})
}

func (h *Handler) reply(client *Client, ev dispatch.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		h.log.Errorw("encode reply", "type", ev.Type, "err", err)
		return
	}
	if err := client.Send(b); err != nil {
		h.log.Debugw("reply dropped", "type", ev.Type, "err", err)
	}
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, apperr.ErrAccessDenied), errors.Is(err, apperr.ErrNotPermitted):
		return "access_denied"
	case errors.Is(err, apperr.ErrConversationNotFound):
		return "conversation_not_found"
	case errors.Is(err, apperr.ErrMessageNotFound):
		return "message_not_found"
	case apperr.IsValidation(err):
		return err.Error()
	default:
		return "internal"
	}
}
