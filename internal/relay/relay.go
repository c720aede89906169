// Package relay runs one assistant chat turn: persist the prompt,
// stream the generated reply chunk by chunk to the caller and the
// caller's realtime room, then persist the assembled reply.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"carechat/internal/metrics"
	"carechat/internal/models"
	"carechat/internal/realtime"
	"carechat/internal/sanitize"
	"carechat/internal/upstream"
)

// ErrBadRequest marks turn failures caused by invalid caller input.
var ErrBadRequest = errors.New("bad request")

// Turn is one caller request to the assistant.
type Turn struct {
	UserID  string
	Message string
}

// MessageStore archives both sides of a turn.
type MessageStore interface {
	SavePrompt(ctx context.Context, userID, content string) (*models.Message, error)
	SaveReply(ctx context.Context, userID, content string) (*models.Message, error)
}

// Broadcaster mirrors stream chunks into the caller's realtime room.
type Broadcaster interface {
	Publish(userID, event string, payload interface{}) error
}

// StreamSink is the caller-facing stream. Start is called once, after
// the prompt is durably stored and before the first frame; an error
// from WriteFrame aborts the turn.
type StreamSink interface {
	Start() error
	WriteFrame(chunk string) error
}

// streamEvent is the realtime payload for one assistant chunk.
type streamEvent struct {
	Content string `json:"content"`
}

// Relay coordinates store, generator, and fan-out for chat turns.
type Relay struct {
	store       MessageStore
	generator   upstream.Generator
	broadcaster Broadcaster
	log         *logrus.Logger
}

// New builds a Relay. broadcaster may be nil when no realtime fan-out
// is wanted.
func New(store MessageStore, generator upstream.Generator, broadcaster Broadcaster, log *logrus.Logger) *Relay {
	return &Relay{store: store, generator: generator, broadcaster: broadcaster, log: log}
}

// Run executes one turn. On success it returns the archived reply.
// Failures before sink.Start leave the stream untouched so the caller
// can still answer with a plain error response; failures after that
// surface on the already-open stream.
func (r *Relay) Run(ctx context.Context, turn Turn, sink StreamSink) (*models.Message, error) {
	userID := strings.TrimSpace(turn.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrBadRequest)
	}
	clean := sanitize.Clean(turn.Message)
	if clean == "" {
		return nil, fmt.Errorf("%w: message is required", ErrBadRequest)
	}

	if _, err := r.store.SavePrompt(ctx, userID, clean); err != nil {
		metrics.TurnsFailed.WithLabelValues("persist_prompt").Inc()
		return nil, fmt.Errorf("persist prompt: %w", err)
	}

	if err := sink.Start(); err != nil {
		metrics.TurnsFailed.WithLabelValues("stream_open").Inc()
		return nil, fmt.Errorf("open stream: %w", err)
	}

	var reply strings.Builder
	streamErr := r.generator.Stream(ctx, clean, func(chunk string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		reply.WriteString(chunk)
		if err := sink.WriteFrame(chunk); err != nil {
			return fmt.Errorf("write stream frame: %w", err)
		}
		metrics.ChunksRelayed.Inc()
		if r.broadcaster != nil {
			// Room delivery is best effort; the primary stream is the
			// source of truth.
			if err := r.broadcaster.Publish(userID, realtime.EventAIStream, streamEvent{Content: chunk}); err != nil {
				r.log.WithError(err).WithField("user_id", userID).Warn("realtime fan-out failed")
			}
		}
		return nil
	})
	if streamErr != nil {
		metrics.TurnsFailed.WithLabelValues("upstream").Inc()
		return nil, fmt.Errorf("stream reply: %w", streamErr)
	}
	if reply.Len() == 0 {
		metrics.TurnsFailed.WithLabelValues("upstream").Inc()
		return nil, errors.New("generator produced no content")
	}

	msg, err := r.store.SaveReply(ctx, userID, reply.String())
	if err != nil {
		metrics.TurnsFailed.WithLabelValues("persist_reply").Inc()
		return nil, fmt.Errorf("persist reply: %w", err)
	}
	metrics.TurnsCompleted.Inc()
	return msg, nil
}
