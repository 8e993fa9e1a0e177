// Package summary back-fills session summaries for stored conversations on
// a cron schedule.
package summary

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/normanking/lumi/internal/reply"
	"github.com/normanking/lumi/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs the job every fifteen minutes.
const DefaultSchedule = "@every 15m"

// Repository is the subset of the store the job needs.
type Repository interface {
	ListUnsummarized(ctx context.Context, limit int) ([]*store.Conversation, error)
	SetSummary(ctx context.Context, id, summary string) error
}

// Config configures a Scheduler.
type Config struct {
	Schedule  string
	BatchSize int
	Timeout   time.Duration // per record
}

// Result reports one pass.
type Result struct {
	Summarized int
	Failed     int
}

// Scheduler owns the cron runner.
type Scheduler struct {
	cron   *cron.Cron
	repo   Repository
	gen    reply.Generator
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler registers the summary job. It does not start it.
func NewScheduler(logger zerolog.Logger, cfg Config, repo Repository, gen reply.Generator) (*Scheduler, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	s := &Scheduler{
		cron:   cron.New(),
		repo:   repo,
		gen:    gen,
		cfg:    cfg,
		logger: logger.With().Str("component", "summary").Logger(),
	}
	if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

// Start starts the cron runner.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the runner and waits for a running pass to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Debug().Msg("Previous pass still running, skipping")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	res, err := s.RunOnce(context.Background())
	if err != nil {
		s.logger.Error().Err(err).Msg("Summary pass failed")
		return
	}
	if res.Summarized > 0 || res.Failed > 0 {
		s.logger.Info().Int("summarized", res.Summarized).Int("failed", res.Failed).Msg("Summary pass complete")
	}
}

// RunOnce summarizes up to BatchSize pending records. A failure on one
// record is logged and counted; the pass continues.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	pending, err := s.repo.ListUnsummarized(ctx, s.cfg.BatchSize)
	if err != nil {
		return res, err
	}

	for _, c := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := s.summarize(ctx, c); err != nil {
			res.Failed++
			s.logger.Warn().Err(err).Str("conversation_id", c.ID).Msg("Summarize failed")
			continue
		}
		res.Summarized++
	}
	return res, nil
}

func (s *Scheduler) summarize(ctx context.Context, c *store.Conversation) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	resp, err := s.gen.Generate(ctx, &reply.Request{
		Transcript:     c.Transcript,
		UserID:         c.UserID,
		ConversationID: c.ID,
		IsSessionEnd:   true,
	})
	if err != nil {
		return err
	}
	text := strings.TrimSpace(resp.Response)
	if text == "" {
		return fmt.Errorf("empty summary")
	}
	return s.repo.SetSummary(ctx, c.ID, text)
}
