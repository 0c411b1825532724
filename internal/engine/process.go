package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

var (
	// ErrProviderUnavailable marks deliveries on channels with no registered
	// provider. Not retryable at the attempt level, but it still counts
	// toward the record's retry budget.
	ErrProviderUnavailable = errors.New("no provider registered for channel")
	// ErrDeliveryFailed wraps provider call failures.
	ErrDeliveryFailed = errors.New("delivery failed")
)

type pair struct {
	recipient string
	channel   notify.Channel
	prefs     *notify.Preferences
}

// processRecord fans out one claimed record and finalizes it. Errors are
// captured into the record; nothing propagates out of the tick.
func (p *Processor) processRecord(ctx context.Context, cfg Config, rec *notify.OutboxRecord) {
	pairs := p.resolvePairs(ctx, rec)

	attempts := p.dispatchAll(ctx, rec, pairs)
	rec.Deliveries = append(rec.Deliveries, attempts...)
	rec.Attempts++

	now := p.clock.Now()
	rec.UpdatedAt = now

	failed := firstFailure(attempts)
	switch {
	case failed == nil:
		rec.Status = notify.StatusSent
		rec.SentAt = &now
		rec.NextAttemptAt = nil
	case rec.Attempts < cfg.MaxRetries:
		next := now.Add(cfg.RetryDelay)
		rec.Status = notify.StatusPending
		rec.NextAttemptAt = &next
		rec.LastError = failed.Error
	default:
		rec.Status = notify.StatusFailed
		rec.FailedAt = &now
		rec.NextAttemptAt = nil
		rec.LastError = failed.Error
	}

	if err := p.store.UpdateOutbox(ctx, rec); err != nil {
		p.log.Error("finalize failed", logx.String("id", rec.ID()), logx.Err(err))
		return
	}
	p.log.Debug("record finalized",
		logx.String("id", rec.ID()),
		logx.String("status", string(rec.Status)),
		logx.Int("attempts", rec.Attempts),
		logx.Int("deliveries", len(attempts)))
}

// resolvePairs expands the record into (recipient, eligible channel) pairs.
// A recipient whose preferences cannot be loaded contributes no pairs this
// attempt; the lookup error is logged, not recorded as a delivery failure.
func (p *Processor) resolvePairs(ctx context.Context, rec *notify.OutboxRecord) []pair {
	now := p.clock.Now()
	var pairs []pair
	for _, recipient := range rec.Notification.Recipients {
		prefs, err := p.prefs.Preferences(ctx, recipient)
		if err != nil {
			p.log.Warn("preference lookup failed",
				logx.String("user", recipient), logx.Err(err))
			continue
		}
		for _, c := range notify.EligibleChannels(&rec.Notification, prefs, now) {
			pairs = append(pairs, pair{recipient: recipient, channel: c, prefs: prefs})
		}
	}
	return pairs
}

// dispatchAll delivers to every pair concurrently. There is no ordering
// guarantee and no cross-pair transactionality.
func (p *Processor) dispatchAll(ctx context.Context, rec *notify.OutboxRecord, pairs []pair) []notify.DeliveryAttempt {
	if len(pairs) == 0 {
		return nil
	}
	attempts := make([]notify.DeliveryAttempt, len(pairs))
	var wg sync.WaitGroup
	for i, pr := range pairs {
		i, pr := i, pr
		wg.Add(1)
		go func() {
			defer wg.Done()
			attempts[i] = p.deliver(ctx, rec, pr)
		}()
	}
	wg.Wait()
	return attempts
}

// deliver performs one (recipient, channel) delivery and records the outcome.
func (p *Processor) deliver(ctx context.Context, rec *notify.OutboxRecord, pr pair) notify.DeliveryAttempt {
	attempt := notify.DeliveryAttempt{
		ID:             uuid.NewString(),
		NotificationID: rec.ID(),
		Recipient:      pr.recipient,
		Channel:        pr.channel,
		AttemptedAt:    p.clock.Now(),
	}

	msgID, err := p.send(ctx, rec, pr)
	if err != nil {
		attempt.Error = err.Error()
		p.log.Debug("delivery failed",
			logx.String("id", rec.ID()),
			logx.String("user", pr.recipient),
			logx.String("channel", string(pr.channel)),
			logx.Err(err))
		return attempt
	}
	attempt.Success = true
	attempt.ProviderMessageID = msgID
	return attempt
}

func (p *Processor) send(ctx context.Context, rec *notify.OutboxRecord, pr pair) (string, error) {
	n := rec.Notification
	cp := pr.prefs.Channel(pr.channel)

	switch pr.channel {
	case notify.ChannelEmail:
		if p.registry.Email == nil {
			return "", ErrProviderUnavailable
		}
		id, err := p.registry.Email.SendEmail(ctx, cp.Address, n.Title, n.Message, n.Metadata)
		return id, wrapSendErr(err)

	case notify.ChannelSMS:
		if p.registry.SMS == nil {
			return "", ErrProviderUnavailable
		}
		id, err := p.registry.SMS.SendSMS(ctx, cp.Address, n.Title+": "+n.Message, n.Metadata)
		return id, wrapSendErr(err)

	case notify.ChannelSlack, notify.ChannelTeams:
		if p.registry.Chat == nil {
			return "", ErrProviderUnavailable
		}
		id, err := p.registry.Chat.SendChatMessage(ctx, cp.Address, cp.Room, n.Title+"\n"+n.Message, n.Metadata)
		return id, wrapSendErr(err)

	case notify.ChannelWebhook:
		if p.registry.Webhook == nil {
			return "", ErrProviderUnavailable
		}
		payload, err := json.Marshal(webhookEnvelope{
			Notification: n,
			Recipient:    pr.recipient,
			AttemptedAt:  p.clock.Now(),
		})
		if err != nil {
			return "", err
		}
		return "", wrapSendErr(p.registry.Webhook.SendWebhook(ctx, cp.Address, payload))

	case notify.ChannelWebsocket:
		if p.registry.Websocket == nil {
			return "", ErrProviderUnavailable
		}
		// In-app delivery is a local hand-off; it cannot fail here.
		p.registry.Websocket.Deliver(pr.recipient, n)
		return "", nil
	}
	return "", ErrProviderUnavailable
}

type webhookEnvelope struct {
	Notification notify.Notification `json:"notification"`
	Recipient    string              `json:"recipient"`
	AttemptedAt  time.Time           `json:"attemptedAt"`
}

func wrapSendErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
}

func firstFailure(attempts []notify.DeliveryAttempt) *notify.DeliveryAttempt {
	for i := range attempts {
		if !attempts[i].Success {
			return &attempts[i]
		}
	}
	return nil
}
