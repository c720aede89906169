// Package api wires the HTTP surface: the streaming chat endpoint,
// the transcript endpoints, the realtime upgrade, and admission
// control.
package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"carechat/internal/metrics"
	"carechat/internal/models"
	"carechat/internal/ratelimit"
	"carechat/internal/realtime"
	"carechat/internal/relay"
	"carechat/internal/service/messages"
)

// Handler wires HTTP routes to the chat relay and message store.
type Handler struct {
	messages *messages.Service
	relay    *relay.Relay
	hub      *realtime.Hub
	limiter  ratelimit.Limiter
	db       *sql.DB
	log      *logrus.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(msgSvc *messages.Service, chatRelay *relay.Relay, hub *realtime.Hub, limiter ratelimit.Limiter, db *sql.DB, log *logrus.Logger) *Handler {
	return &Handler{
		messages: msgSvc,
		relay:    chatRelay,
		hub:      hub,
		limiter:  limiter,
		db:       db,
		log:      log,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.Use(h.rateLimit())
	api.POST("/ai-chat", h.aiChat)
	api.GET("/messages", h.listMessages)
	api.POST("/messages", h.createMessage)

	router.GET("/ws", gin.WrapF(h.hub.HandleWS))
	router.GET("/healthz", h.healthz)
}

// CORSMiddleware allows the configured frontend origin; empty allows
// any.
func CORSMiddleware(origin string) gin.HandlerFunc {
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *Handler) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !h.limiter.Admit(c.ClientIP(), time.Now()) {
			metrics.RequestsRejected.Inc()
			h.log.WithField("client_ip", c.ClientIP()).Warn("request rejected by rate limiter")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests. Please try again later."})
			return
		}
		metrics.RequestsAdmitted.Inc()
		c.Next()
	}
}

type aiChatRequest struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// sseSink streams relay frames to the caller. Headers go out on
// Start, after the prompt is durably stored, so earlier failures can
// still answer with a plain JSON error.
type sseSink struct {
	c       *gin.Context
	flusher http.Flusher
	started bool
}

func (s *sseSink) Start() error {
	flusher, ok := s.c.Writer.(http.Flusher)
	if !ok {
		return errors.New("streaming not supported")
	}
	s.flusher = flusher
	header := s.c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
	s.flusher.Flush()
	s.started = true
	return nil
}

func (s *sseSink) WriteFrame(chunk string) error {
	if _, err := fmt.Fprintf(s.c.Writer, "data: %s\n\n", chunk); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) writeError(message string) {
	_, _ = fmt.Fprintf(s.c.Writer, "event: error\ndata: %s\n\n", message)
	s.flusher.Flush()
}

func (h *Handler) aiChat(c *gin.Context) {
	var req aiChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId or message"})
		return
	}

	sink := &sseSink{c: c}
	_, err := h.relay.Run(c.Request.Context(), relay.Turn{UserID: req.UserID, Message: req.Message}, sink)
	if err != nil {
		if errors.Is(err, relay.ErrBadRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing userId or message"})
			return
		}
		h.log.WithError(err).WithField("user_id", req.UserID).Error("ai chat turn failed")
		if !sink.started {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "AI chat failed"})
			return
		}
		// Headers are already out; the stream closes in an error state.
		sink.writeError("AI chat failed")
		return
	}
}

func (h *Handler) listMessages(c *gin.Context) {
	user1 := c.Query("user1")
	user2 := c.Query("user2")
	if user1 == "" || user2 == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing user IDs"})
		return
	}
	msgs, err := h.messages.ListBetween(c.Request.Context(), user1, user2)
	if err != nil {
		h.log.WithError(err).Error("list messages failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch messages"})
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

type createMessageRequest struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	IsAI       bool   `json:"isAI"`
}

func (h *Handler) createMessage(c *gin.Context) {
	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}
	msg, err := h.messages.Save(c.Request.Context(), req.SenderID, req.ReceiverID, req.Content, req.IsAI)
	if err != nil {
		if errors.Is(err, messages.ErrEmptyContent) || req.SenderID == "" || req.ReceiverID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
			return
		}
		h.log.WithError(err).Error("save message failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save message"})
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *Handler) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
