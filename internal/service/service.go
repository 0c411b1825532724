package service

import (
	"context"
	"fmt"

	"notifyd/internal/engine"
	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// Deferrer buffers a notification line for a user whose frequency bucket is
// not immediate. The digest scheduler implements it.
type Deferrer interface {
	Defer(userID string, bucket notify.FrequencyBucket, line string)
}

// SendResult reports what happened to a submission: the id of the queued
// outbox record (empty when every recipient was deferred to a digest) and
// how many recipients were deferred.
type SendResult struct {
	NotificationID string
	Deferred       int
}

// Service is the engine's API surface, consumed by whatever transport the
// host application puts in front of it.
type Service struct {
	store    storage.Store
	composer *notify.Composer
	proc     *engine.Processor
	limiter  *engine.SubmitLimiter
	deferrer Deferrer
	clock    notify.Clock
	log      logx.Logger
}

type Options struct {
	Store    storage.Store
	Composer *notify.Composer
	Proc     *engine.Processor
	Limiter  *engine.SubmitLimiter
	Deferrer Deferrer
	Clock    notify.Clock
	Log      logx.Logger
}

func New(opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = notify.SystemClock{}
	}
	if opts.Composer == nil {
		opts.Composer = notify.NewComposer(opts.Clock)
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	return &Service{
		store:    opts.Store,
		composer: opts.Composer,
		proc:     opts.Proc,
		limiter:  opts.Limiter,
		deferrer: opts.Deferrer,
		clock:    opts.Clock,
		log:      opts.Log,
	}
}

// SetProcessor wires the outbox processor after construction; the processor
// needs the service as its preference source, so the two are built in that
// order.
func (s *Service) SetProcessor(p *engine.Processor) { s.proc = p }

// SetDeferrer installs the digest deferrer. Call before the first
// submission; the scheduler needs the service to submit flushed digests, so
// the two are wired in this order.
func (s *Service) SetDeferrer(d Deferrer) { s.deferrer = d }

// SendNotification composes, validates, and queues a notification.
// Validation and template errors are synchronous; once the record is
// pending, all further failures surface through the outbox, never here.
func (s *Service) SendNotification(ctx context.Context, ev notify.Event) (SendResult, error) {
	n, err := s.composer.Compose(ev)
	if err != nil {
		return SendResult{}, err
	}
	if err := n.Validate(); err != nil {
		return SendResult{}, err
	}
	if !s.limiter.Allow() {
		return SendResult{}, notify.ErrRateLimited
	}

	immediate, deferred := s.partitionRecipients(ctx, &n)
	if len(immediate) == 0 {
		return SendResult{Deferred: deferred}, nil
	}
	n.Recipients = immediate

	now := s.clock.Now()
	rec := &notify.OutboxRecord{
		Notification: n,
		Status:       notify.StatusPending,
		Attempts:     0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateOutbox(ctx, rec); err != nil {
		return SendResult{}, err
	}

	s.log.Info("notification queued",
		logx.String("id", n.ID),
		logx.String("type", string(n.Type)),
		logx.Int("recipients", len(immediate)),
		logx.Int("deferred", deferred))
	return SendResult{NotificationID: n.ID, Deferred: deferred}, nil
}

// partitionRecipients splits recipients into immediate delivery and digest
// deferral based on each recipient's frequency buckets. Without a configured
// deferrer everyone is immediate.
func (s *Service) partitionRecipients(ctx context.Context, n *notify.Notification) (immediate []string, deferred int) {
	if s.deferrer == nil {
		return n.Recipients, 0
	}
	for _, r := range n.Recipients {
		prefs, err := s.Preferences(ctx, r)
		if err != nil {
			// Lookup trouble must not lose the notification; deliver now.
			s.log.Warn("preference lookup failed at submit", logx.String("user", r), logx.Err(err))
			immediate = append(immediate, r)
			continue
		}
		bucket := prefs.Bucket(n.Type)
		if bucket == notify.FrequencyImmediate {
			immediate = append(immediate, r)
			continue
		}
		s.deferrer.Defer(r, bucket, n.Title)
		deferred++
	}
	return immediate, deferred
}

// Preferences returns the user's stored preferences, materializing and
// persisting the default set on first access. It implements
// engine.PreferenceSource, so eligibility never sees a "no preferences"
// special case.
func (s *Service) Preferences(ctx context.Context, userID string) (*notify.Preferences, error) {
	p, ok, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok {
		return p, nil
	}
	p = notify.DefaultPreferences(userID)
	p.UpdatedAt = s.clock.Now()
	if err := s.store.PutPreferences(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetUserPreferences is the query form of Preferences.
func (s *Service) GetUserPreferences(ctx context.Context, userID string) (*notify.Preferences, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", notify.ErrValidation)
	}
	return s.Preferences(ctx, userID)
}

// SetUserPreferences validates and stores a full preference record.
// Invalid updates are rejected wholesale; nothing is partially applied.
func (s *Service) SetUserPreferences(ctx context.Context, p *notify.Preferences) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = s.clock.Now()
	return s.store.PutPreferences(ctx, p)
}

// ListOutbox returns outbox records, newest first.
func (s *Service) ListOutbox(ctx context.Context, f storage.OutboxFilter) ([]*notify.OutboxRecord, error) {
	return s.store.ListOutbox(ctx, f)
}

// GetOutboxMessage returns one record, or nil when it does not exist.
func (s *Service) GetOutboxMessage(ctx context.Context, id string) (*notify.OutboxRecord, error) {
	rec, ok, err := s.store.GetOutbox(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return rec, nil
}

// ProcessOutbox triggers one processing tick, for tests and operational
// control in addition to the automatic timer.
func (s *Service) ProcessOutbox(ctx context.Context) (int, error) {
	if s.proc == nil {
		return 0, nil
	}
	return s.proc.ProcessOnce(ctx)
}
