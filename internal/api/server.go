package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/auth"
	"github.com/fathima-sithara/realtime-service/internal/config"
	"github.com/fathima-sithara/realtime-service/internal/dispatch"
	"github.com/fathima-sithara/realtime-service/internal/membership"
	"github.com/fathima-sithara/realtime-service/internal/metrics"
	"github.com/fathima-sithara/realtime-service/internal/store"
	"github.com/fathima-sithara/realtime-service/internal/ws"
)

type Deps struct {
	Dispatcher  *dispatch.Dispatcher
	Store       store.Store
	Memberships *membership.Service
	Validator   *auth.Validator
	WSHandler   *ws.Handler
	Log         *zap.SugaredLogger
}

func NewServer(cfg *config.Config, d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	app.Use(logger.New())

	h := &handlers{deps: d}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(d.WSHandler.Handle))

	api := app.Group("/api", requireUser(d.Validator))
	api.Post("/conversations/direct", h.createDirect)
	api.Post("/conversations/group", h.createGroup)
	api.Post("/conversations/:id/messages", h.sendMessage)
	api.Get("/conversations/:id/messages", h.listSince)
	api.Get("/conversations/:id/messages/history", h.history)
	api.Post("/conversations/:id/messages/:msg_id/delivered", h.markDelivered)
	api.Post("/conversations/:id/messages/:msg_id/read", h.markRead)
	api.Post("/conversations/:id/read", h.readConversation)
	api.Get("/conversations/:id/unread", h.unreadCount)
	api.Post("/conversations/:id/participants", h.addParticipant)
	api.Delete("/conversations/:id/participants/:user_id", h.removeParticipant)
	api.Delete("/conversations/:id", h.deleteConversation)

	admin := app.Group("/admin", requireAdminKey(cfg.Admin.APIKey))
	admin.Get("/conversations", h.adminListConversations)
	admin.Get("/conversations/deleted", h.adminListDeleted)
	admin.Post("/conversations/purge", h.adminPurge)

	return app
}

// requireUser resolves the bearer token to a user id and stashes it in
// locals.
func requireUser(v *auth.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		hdr := c.Get("Authorization")
		const pref = "Bearer "
		if len(hdr) <= len(pref) || hdr[:len(pref)] != pref {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing bearer token"})
		}
		userID, err := v.ResolveUserID(hdr[len(pref):])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}
		c.Locals("user_id", userID)
		return c.Next()
	}
}

func requireAdminKey(key string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if key == "" || c.Get("X-Admin-Key") != key {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "admin key required"})
		}
		return c.Next()
	}
}

// respondErr maps the error taxonomy to HTTP statuses: authorization
// failures 403, missing entities 404, validation 400, everything else
// 500 without leaking internals.
func respondErr(c *fiber.Ctx, log *zap.SugaredLogger, err error) error {
	switch {
	case errors.Is(err, apperr.ErrAccessDenied), errors.Is(err, apperr.ErrNotPermitted):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrConversationNotFound), errors.Is(err, apperr.ErrMessageNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case apperr.IsValidation(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	default:
		log.Errorw("request failed", "path", c.Path(), "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
