package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/harun/agentkit/pkg/agent"
	"github.com/harun/agentkit/pkg/session"
	"github.com/rs/zerolog"
)

// LiveAgent consumes a request queue and produces a stream of events. The
// returned channel is closed when the agent stops.
type LiveAgent interface {
	RunLive(ctx context.Context, sess *Session, queue *LiveRequestQueue) (<-chan *session.Event, error)
}

// TurnRunner runs one user turn. *agent.Runner implements it.
type TurnRunner interface {
	Run(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error)
}

// RunnerLiveAgent drives a turn-based runner from a live queue. Text starts
// a turn, image frames are attached to the next turn and audio is dropped.
type RunnerLiveAgent struct {
	runner TurnRunner
	buffer int
	logger zerolog.Logger
}

// NewRunnerLiveAgent wraps runner.
func NewRunnerLiveAgent(runner TurnRunner, logger zerolog.Logger) (*RunnerLiveAgent, error) {
	if runner == nil {
		return nil, fmt.Errorf("agent runner is required")
	}
	return &RunnerLiveAgent{runner: runner, buffer: 64, logger: logger}, nil
}

func (a *RunnerLiveAgent) RunLive(ctx context.Context, sess *Session, queue *LiveRequestQueue) (<-chan *session.Event, error) {
	if sess == nil || sess.ID == "" {
		return nil, fmt.Errorf("live session is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("request queue is required")
	}

	events := make(chan *session.Event, a.buffer)
	logger := a.logger.With().Str("session_id", sess.ID).Logger()

	go func() {
		defer close(events)

		var (
			images       []*session.Blob
			audioDropped int
		)
		defer func() {
			if audioDropped > 0 {
				logger.Debug().Int("chunks", audioDropped).Msg("Dropped live audio input")
			}
		}()

		emit := func(ev *session.Event) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		}

		for {
			req, ok := queue.Next(ctx)
			if !ok {
				return
			}

			switch {
			case req.Blob != nil && strings.HasPrefix(req.Blob.MIMEType, "image/"):
				images = append(images, req.Blob)
				logger.Debug().Int("buffered", len(images)).Msg("Buffered image for next turn")

			case req.Blob != nil:
				audioDropped++

			case req.Content != nil:
				content := withImages(req.Content, images)
				images = nil

				res, err := a.runner.Run(ctx, agent.RunRequest{
					AppName:   sess.AppName,
					UserID:    sess.UserID,
					SessionID: sess.ID,
					Message:   content,
					Sink: agent.EventSinkFunc(func(_ context.Context, ev *session.Event) {
						if ev.Author == "user" {
							return
						}
						emit(ev)
					}),
				})
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Error().Err(err).Msg("Live turn failed")
					continue
				}
				if res.Aborted {
					emit(&session.Event{Interrupted: true})
				}
			}
		}
	}()

	return events, nil
}

func withImages(content *session.Content, images []*session.Blob) *session.Content {
	if len(images) == 0 {
		return content
	}
	parts := make([]*session.Part, 0, len(content.Parts)+len(images))
	parts = append(parts, content.Parts...)
	for _, img := range images {
		parts = append(parts, &session.Part{InlineData: img})
	}
	return &session.Content{Role: content.Role, Parts: parts}
}
