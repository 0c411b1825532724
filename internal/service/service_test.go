package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"notifyd/internal/engine"
	"notifyd/internal/notify"
	"notifyd/internal/storage"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newService(t *testing.T, opts Options) (*Service, storage.Store) {
	t.Helper()
	if opts.Store == nil {
		opts.Store = storage.NewMemory()
	}
	if opts.Clock == nil {
		opts.Clock = fixedClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	}
	return New(opts), opts.Store
}

func TestSendNotificationQueuesPendingRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st := newService(t, Options{})

	res, err := svc.SendNotification(ctx, notify.Event{
		Type:       notify.EventTaskAssigned,
		Recipients: []string{"u1", "u2"},
		Data:       map[string]any{"taskTitle": "Ship it", "assigneeName": "u1"},
	})
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if res.NotificationID == "" {
		t.Fatal("expected an assigned notification id")
	}
	if res.Deferred != 0 {
		t.Fatalf("Deferred = %d, want 0", res.Deferred)
	}

	rec, ok, err := st.GetOutbox(ctx, res.NotificationID)
	if err != nil || !ok {
		t.Fatalf("GetOutbox: ok=%v err=%v", ok, err)
	}
	if rec.Status != notify.StatusPending || rec.Attempts != 0 {
		t.Fatalf("fresh record: status=%s attempts=%d", rec.Status, rec.Attempts)
	}
	if len(rec.Notification.Recipients) != 2 {
		t.Fatalf("recipients = %v", rec.Notification.Recipients)
	}
	if rec.Notification.Type != notify.EventTaskAssigned {
		t.Fatalf("type = %s", rec.Notification.Type)
	}
	if len(rec.Notification.Channels) == 0 {
		t.Fatal("expected default channels to be filled in")
	}
}

func TestSendNotificationSynchronousErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newService(t, Options{})

	tests := []struct {
		name    string
		ev      notify.Event
		wantErr error
	}{
		{
			name:    "no recipients",
			ev:      notify.Event{Type: notify.EventTaskCreated},
			wantErr: notify.ErrValidation,
		},
		{
			name:    "unknown event type",
			ev:      notify.Event{Type: notify.EventType("bogus"), Recipients: []string{"u1"}},
			wantErr: notify.ErrTemplateNotFound,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.SendNotification(ctx, tt.ev)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSendNotificationRateLimited(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _ := newService(t, Options{
		Limiter: engine.NewSubmitLimiter(engine.RateLimitConfig{
			Enabled: true, MaxPerMinute: 1, MaxPerHour: 100,
		}),
	})

	ev := notify.Event{Type: notify.EventTaskCreated, Recipients: []string{"u1"}}
	if _, err := svc.SendNotification(ctx, ev); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := svc.SendNotification(ctx, ev)
	if !errors.Is(err, notify.ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
}

func TestPreferencesMaterializeDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st := newService(t, Options{})

	p, err := svc.GetUserPreferences(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUserPreferences: %v", err)
	}
	if !p.Enabled || !p.Email.Enabled {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	if p.UpdatedAt.IsZero() {
		t.Fatal("materialized defaults should carry a timestamp")
	}

	// The default set is persisted, not recomputed.
	stored, ok, err := st.GetPreferences(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("GetPreferences: ok=%v err=%v", ok, err)
	}
	if stored.UserID != "u1" {
		t.Fatalf("stored UserID = %q", stored.UserID)
	}

	if _, err := svc.GetUserPreferences(ctx, ""); !errors.Is(err, notify.ErrValidation) {
		t.Fatalf("empty userId: err = %v, want ErrValidation", err)
	}
}

func TestSetUserPreferencesRejectsInvalidWholesale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st := newService(t, Options{})

	good := notify.DefaultPreferences("u1")
	good.Email.Address = "u@example.com"
	if err := svc.SetUserPreferences(ctx, good); err != nil {
		t.Fatalf("SetUserPreferences: %v", err)
	}

	bad := notify.DefaultPreferences("u1")
	bad.Email.Address = "changed@example.com"
	bad.QuietHours = &notify.QuietHours{Start: "9:00", End: "17:00", Timezone: "UTC"}
	if err := svc.SetUserPreferences(ctx, bad); !errors.Is(err, notify.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	stored, _, err := st.GetPreferences(ctx, "u1")
	if err != nil {
		t.Fatalf("GetPreferences: %v", err)
	}
	if stored.Email.Address != "u@example.com" {
		t.Fatalf("invalid update partially applied: Address = %q", stored.Email.Address)
	}
}

type recordingDeferrer struct {
	calls []string
}

func (d *recordingDeferrer) Defer(userID string, bucket notify.FrequencyBucket, line string) {
	d.calls = append(d.calls, userID+"/"+string(bucket))
}

func TestSendNotificationDefersBucketedRecipients(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	def := &recordingDeferrer{}
	svc, st := newService(t, Options{Deferrer: def})

	daily := notify.DefaultPreferences("digest-user")
	daily.Frequency = map[notify.FrequencyBucket]notify.EventSet{
		notify.FrequencyDaily: {notify.EventTaskUpdated},
	}
	if err := svc.SetUserPreferences(ctx, daily); err != nil {
		t.Fatalf("SetUserPreferences: %v", err)
	}

	res, err := svc.SendNotification(ctx, notify.Event{
		Type:       notify.EventTaskUpdated,
		Recipients: []string{"digest-user", "live-user"},
		Data:       map[string]any{"taskTitle": "Ship it"},
	})
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if res.Deferred != 1 {
		t.Fatalf("Deferred = %d, want 1", res.Deferred)
	}
	if len(def.calls) != 1 || def.calls[0] != "digest-user/daily" {
		t.Fatalf("deferrer calls = %v", def.calls)
	}

	rec, ok, err := st.GetOutbox(ctx, res.NotificationID)
	if err != nil || !ok {
		t.Fatalf("GetOutbox: ok=%v err=%v", ok, err)
	}
	if len(rec.Notification.Recipients) != 1 || rec.Notification.Recipients[0] != "live-user" {
		t.Fatalf("record recipients = %v, want only live-user", rec.Notification.Recipients)
	}

	// All recipients deferred: no record is queued at all.
	res, err = svc.SendNotification(ctx, notify.Event{
		Type:       notify.EventTaskUpdated,
		Recipients: []string{"digest-user"},
	})
	if err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if res.NotificationID != "" || res.Deferred != 1 {
		t.Fatalf("all-deferred result = %+v", res)
	}
}

func TestGetOutboxMessageMissing(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, Options{})
	rec, err := svc.GetOutboxMessage(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetOutboxMessage: %v", err)
	}
	if rec != nil {
		t.Fatalf("rec = %+v, want nil", rec)
	}
}

func seedHistory(t *testing.T, st storage.Store, clock notify.Clock) {
	t.Helper()
	ctx := context.Background()
	base := clock.Now()

	sentAt := base.Add(2 * time.Minute)
	sent := &notify.OutboxRecord{
		Notification: notify.Notification{
			ID: "sent-1", Type: notify.EventTaskCompleted, Priority: notify.PriorityMedium,
			Title: "done", Message: "m", Recipients: []string{"u1", "u2"},
			Channels: []notify.Channel{notify.ChannelEmail}, CreatedAt: base,
		},
		Status: notify.StatusSent, Attempts: 1,
		CreatedAt: base, UpdatedAt: sentAt, SentAt: &sentAt,
		ReadBy: []string{"u1"},
		Deliveries: []notify.DeliveryAttempt{
			{ID: "d1", NotificationID: "sent-1", Recipient: "u1", Channel: notify.ChannelEmail, Success: true, AttemptedAt: base.Add(time.Minute)},
			{ID: "d2", NotificationID: "sent-1", Recipient: "u2", Channel: notify.ChannelEmail, Success: true, AttemptedAt: base.Add(2 * time.Minute)},
		},
	}
	failedAt := base.Add(4 * time.Minute)
	failed := &notify.OutboxRecord{
		Notification: notify.Notification{
			ID: "failed-1", Type: notify.EventTaskOverdue, Priority: notify.PriorityUrgent,
			Title: "late", Message: "m", Recipients: []string{"u1"},
			Channels: []notify.Channel{notify.ChannelSMS}, CreatedAt: base,
		},
		Status: notify.StatusFailed, Attempts: 1, LastError: "sms gateway down",
		CreatedAt: base, UpdatedAt: failedAt, FailedAt: &failedAt,
		Deliveries: []notify.DeliveryAttempt{
			{ID: "d3", NotificationID: "failed-1", Recipient: "u1", Channel: notify.ChannelSMS, Error: "sms gateway down", AttemptedAt: base.Add(3 * time.Minute)},
		},
	}
	pending := &notify.OutboxRecord{
		Notification: notify.Notification{
			ID: "pending-1", Type: notify.EventTaskCreated, Priority: notify.PriorityLow,
			Title: "new", Message: "m", Recipients: []string{"u2"},
			Channels: []notify.Channel{notify.ChannelEmail}, CreatedAt: base,
		},
		Status: notify.StatusPending, CreatedAt: base, UpdatedAt: base,
	}
	for _, rec := range []*notify.OutboxRecord{sent, failed, pending} {
		if err := st.CreateOutbox(ctx, rec); err != nil {
			t.Fatalf("CreateOutbox(%s): %v", rec.ID(), err)
		}
	}
}

func TestGetNotificationHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := fixedClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	svc, st := newService(t, Options{Clock: clock})
	seedHistory(t, st, clock)

	all, err := svc.GetNotificationHistory(ctx, "", 0)
	if err != nil {
		t.Fatalf("GetNotificationHistory: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("entries = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].AttemptedAt.After(all[i-1].AttemptedAt) {
			t.Fatalf("history not newest-first: %v then %v", all[i-1].AttemptedAt, all[i].AttemptedAt)
		}
	}

	u1, err := svc.GetNotificationHistory(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("GetNotificationHistory(u1): %v", err)
	}
	if len(u1) != 2 {
		t.Fatalf("u1 entries = %d, want 2", len(u1))
	}
	for _, e := range u1 {
		if e.Recipient != "u1" {
			t.Fatalf("leaked entry for %q", e.Recipient)
		}
		switch e.NotificationID {
		case "sent-1":
			if !e.Delivered || !e.Read {
				t.Fatalf("sent-1 entry: %+v", e)
			}
		case "failed-1":
			if e.Delivered || e.Read {
				t.Fatalf("failed-1 entry: %+v", e)
			}
		}
	}

	limited, err := svc.GetNotificationHistory(ctx, "", 1)
	if err != nil {
		t.Fatalf("GetNotificationHistory(limit): %v", err)
	}
	if len(limited) != 1 || limited[0].NotificationID != "failed-1" {
		t.Fatalf("limited = %+v, want the newest attempt", limited)
	}
}

func TestMarkNotificationAsRead(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := fixedClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	svc, st := newService(t, Options{Clock: clock})
	seedHistory(t, st, clock)

	for i := 0; i < 2; i++ {
		ok, err := svc.MarkNotificationAsRead(ctx, "pending-1", "u2")
		if err != nil || !ok {
			t.Fatalf("MarkNotificationAsRead #%d: ok=%v err=%v", i+1, ok, err)
		}
	}
	rec, _, err := st.GetOutbox(ctx, "pending-1")
	if err != nil {
		t.Fatalf("GetOutbox: %v", err)
	}
	if len(rec.ReadBy) != 1 {
		t.Fatalf("ReadBy = %v, want exactly one entry", rec.ReadBy)
	}

	ok, err := svc.MarkNotificationAsRead(ctx, "missing", "u2")
	if err != nil {
		t.Fatalf("MarkNotificationAsRead(missing): %v", err)
	}
	if ok {
		t.Fatal("marking a missing record should report false")
	}
}

func TestGetNotificationStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := fixedClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	svc, st := newService(t, Options{Clock: clock})
	seedHistory(t, st, clock)

	st1, err := svc.GetNotificationStats(ctx, "")
	if err != nil {
		t.Fatalf("GetNotificationStats: %v", err)
	}
	if st1.Total != 3 || st1.Sent != 1 || st1.Failed != 1 || st1.Pending != 1 {
		t.Fatalf("stats = %+v", st1)
	}
	if st1.Sent+st1.Pending+st1.Processing+st1.Failed != st1.Total {
		t.Fatalf("status counts do not sum to total: %+v", st1)
	}
	if st1.DeliveredAttempts+st1.FailedAttempts != st1.TotalAttempts {
		t.Fatalf("attempt counts do not sum: %+v", st1)
	}
	if st1.TotalAttempts != 3 || st1.DeliveredAttempts != 2 || st1.FailedAttempts != 1 {
		t.Fatalf("attempt stats = %+v", st1)
	}

	u1, err := svc.GetNotificationStats(ctx, "u1")
	if err != nil {
		t.Fatalf("GetNotificationStats(u1): %v", err)
	}
	if u1.Total != 2 {
		t.Fatalf("u1 total = %d, want 2", u1.Total)
	}
	if u1.TotalAttempts != 2 || u1.DeliveredAttempts != 1 || u1.FailedAttempts != 1 {
		t.Fatalf("u1 attempt stats = %+v", u1)
	}
}
