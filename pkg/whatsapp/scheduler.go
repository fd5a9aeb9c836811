package whatsapp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler sends the next message of a rotation on every cron tick.
type Scheduler struct {
	sender   *Sender
	phone    string
	messages []string
	expr     string
	schedule cron.Schedule
	logger   zerolog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	next    int
	stats   Stats
	running bool
}

// NewScheduler validates expr, a standard five-field cron expression.
func NewScheduler(sender *Sender, expr, phone string, messages []string, logger zerolog.Logger) (*Scheduler, error) {
	if sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return &Scheduler{
		sender:   sender,
		phone:    phone,
		messages: messages,
		expr:     expr,
		schedule: schedule,
		logger:   logger.With().Str("component", "whatsapp_scheduler").Logger(),
	}, nil
}

// Start schedules the job. Ticks that fire while a send is still in
// progress are skipped. ctx bounds every send.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(s.schedule, cron.FuncJob(func() { s.Tick(ctx) }))
	c.Start()

	s.cron = c
	s.running = true
	s.logger.Info().Str("schedule", s.expr).Time("next_run", s.schedule.Next(time.Now())).Msg("Scheduler started")
	return nil
}

// Tick sends the next message in the rotation.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	message := s.messages[s.next%len(s.messages)]
	s.next++
	s.mu.Unlock()

	err := s.sender.Send(ctx, s.phone, message)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Attempts++
	if err != nil {
		s.stats.Failed++
		s.logger.Error().Err(err).Msg("Scheduled message failed")
		return
	}
	s.stats.Sent++
}

// Next returns the next scheduled run, or the zero time when stopped.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return time.Time{}
	}
	return s.schedule.Next(time.Now())
}

// Stats returns the counts so far.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Stop removes the job and waits for a running send to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c := s.cron
	s.running = false
	s.cron = nil
	s.mu.Unlock()

	<-c.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}
