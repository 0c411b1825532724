package engine

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"notifyd/internal/channels"
	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// PreferenceSource resolves a recipient's preferences, materializing a
// default set when the user has none stored.
type PreferenceSource interface {
	Preferences(ctx context.Context, userID string) (*notify.Preferences, error)
}

// Processor drives the outbox: a periodic tick claims due pending records,
// fans deliveries out to the channel providers, and finalizes each record.
//
// Retry is record-global: a retry re-sends to every eligible
// (recipient, channel) pair again, including pairs that already succeeded on
// a prior attempt. Duplicate sends after partial failure are the accepted
// at-least-once tradeoff.
type Processor struct {
	store    storage.Store
	prefs    PreferenceSource
	registry *channels.Registry
	clock    notify.Clock
	log      logx.Logger

	mu  sync.Mutex
	cfg Config

	// ticking guards against overlapping ticks: a tick that is already
	// running is skipped, not queued.
	ticking atomic.Bool
}

func New(cfg Config, store storage.Store, prefs PreferenceSource, registry *channels.Registry, log logx.Logger, clock notify.Clock) *Processor {
	if clock == nil {
		clock = notify.SystemClock{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if registry == nil {
		registry = &channels.Registry{}
	}
	return &Processor{
		store:    store,
		prefs:    prefs,
		registry: registry,
		clock:    clock,
		log:      log,
		cfg:      cfg.withDefaults(),
	}
}

// Apply replaces the runtime configuration. Takes effect on the next tick.
func (p *Processor) Apply(cfg Config) {
	p.mu.Lock()
	p.cfg = cfg.withDefaults()
	p.mu.Unlock()
}

func (p *Processor) config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Run ticks until ctx is cancelled. The only cancellation surface is "stop
// scheduling further ticks": in-flight provider calls rely on their own
// timeouts.
func (p *Processor) Run(ctx context.Context) {
	interval := p.config().Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Info("outbox processor started", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			p.log.Info("outbox processor stopped")
			return
		case <-ticker.C:
			if _, err := p.ProcessOnce(ctx); err != nil {
				p.log.Error("tick failed", logx.Err(err))
			}
			if cur := p.config().Interval; cur != interval {
				interval = cur
				ticker.Reset(interval)
			}
		}
	}
}

// ProcessOnce runs a single tick: claim a batch of due pending records and
// finalize each. It returns the number of records processed. When a tick is
// already in flight it returns (0, nil) instead of queuing behind it.
//
// Per-record failures never abort the batch; they are captured into the
// record's delivery attempts and lastError.
func (p *Processor) ProcessOnce(ctx context.Context) (int, error) {
	if !p.ticking.CompareAndSwap(false, true) {
		return 0, nil
	}
	defer p.ticking.Store(false)

	cfg := p.config()
	now := p.clock.Now()

	batch, err := p.store.ClaimDue(ctx, now, cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	// Per-record finalize work is independent; run it in parallel. The
	// batch size already bounds the fanout.
	var wg sync.WaitGroup
	for _, rec := range batch {
		rec := rec
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("panic processing outbox record",
						logx.String("id", rec.ID()),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			p.processRecord(ctx, cfg, rec)
		}()
	}
	wg.Wait()

	return len(batch), nil
}
