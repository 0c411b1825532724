package digest

import (
	"context"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	"notifyd/internal/notify"
	"notifyd/internal/service"
	logx "notifyd/pkg/logx"
)

// Submitter queues a composed notification. Implemented by service.Service.
type Submitter interface {
	SendNotification(ctx context.Context, ev notify.Event) (service.SendResult, error)
}

// Scheduler buffers deferred notification lines per user and flushes each
// frequency bucket on its cron cadence as a single digest notification.
// It implements service.Deferrer.
type Scheduler struct {
	sub Submitter
	log logx.Logger

	mu      sync.Mutex
	buckets map[notify.FrequencyBucket]map[string][]string

	cron *cron.Cron
}

func New(sub Submitter, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		sub: sub,
		log: log,
		buckets: map[notify.FrequencyBucket]map[string][]string{
			notify.FrequencyHourly: {},
			notify.FrequencyDaily:  {},
			notify.FrequencyWeekly: {},
		},
	}
}

// Defer buffers one line for the user's next digest of the given bucket.
// Immediate (or unknown) buckets are ignored.
func (s *Scheduler) Defer(userID string, bucket notify.FrequencyBucket, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, ok := s.buckets[bucket]
	if !ok {
		return
	}
	users[userID] = append(users[userID], line)
}

// Start installs the cron entries and begins flushing in the background.
func (s *Scheduler) Start() {
	if s.cron != nil {
		return
	}
	c := cron.New()
	// Cron errors are impossible for the fixed descriptors below.
	_, _ = c.AddFunc("@hourly", func() { s.flushLogged(notify.FrequencyHourly) })
	_, _ = c.AddFunc("@daily", func() { s.flushLogged(notify.FrequencyDaily) })
	_, _ = c.AddFunc("@weekly", func() { s.flushLogged(notify.FrequencyWeekly) })
	s.cron = c
	c.Start()
	s.log.Info("digest scheduler started")
}

// Stop halts the cron loop, waiting for a running flush to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.log.Info("digest scheduler stopped")
}

func (s *Scheduler) flushLogged(bucket notify.FrequencyBucket) {
	n, err := s.Flush(context.Background(), bucket)
	if err != nil {
		s.log.Error("digest flush failed", logx.String("bucket", string(bucket)), logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("digest flushed", logx.String("bucket", string(bucket)), logx.Int("digests", n))
	}
}

// Flush submits one digest notification per user with buffered lines and
// empties the bucket. It returns how many digests were submitted. The first
// submission error stops the flush; unflushed users keep their lines.
func (s *Scheduler) Flush(ctx context.Context, bucket notify.FrequencyBucket) (int, error) {
	s.mu.Lock()
	users := s.buckets[bucket]
	pending := make(map[string][]string, len(users))
	for user, lines := range users {
		if len(lines) > 0 {
			pending[user] = lines
			delete(users, user)
		}
	}
	s.mu.Unlock()

	sent := 0
	for user, lines := range pending {
		ev := notify.Event{
			Type:       notify.EventDigest,
			Priority:   notify.PriorityLow,
			Recipients: []string{user},
			Data: map[string]any{
				"period":  string(bucket),
				"summary": strings.Join(lines, "\n"),
				"count":   len(lines),
			},
		}
		if _, err := s.sub.SendNotification(ctx, ev); err != nil {
			// Put the lines back so the next flush retries them.
			s.mu.Lock()
			s.buckets[bucket][user] = append(lines, s.buckets[bucket][user]...)
			s.mu.Unlock()
			return sent, err
		}
		sent++
	}
	return sent, nil
}
