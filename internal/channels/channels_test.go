package channels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"notifyd/internal/notify"
)

func TestHTTPChatPostsJSON(t *testing.T) {
	t.Parallel()
	var gotBody map[string]string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := &HTTPChat{}
	id, err := c.SendChatMessage(context.Background(), srv.URL, "#alerts", "task overdue", nil)
	if err != nil {
		t.Fatalf("SendChatMessage: %v", err)
	}
	if id != "" {
		t.Fatalf("id = %q, incoming webhooks have none", id)
	}
	if gotContentType != "application/json" {
		t.Fatalf("Content-Type = %q", gotContentType)
	}
	if gotBody["text"] != "task overdue" || gotBody["channel"] != "#alerts" {
		t.Fatalf("body = %v", gotBody)
	}
}

func TestHTTPChatOmitsEmptyRoom(t *testing.T) {
	t.Parallel()
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
	}))
	defer srv.Close()

	c := &HTTPChat{}
	if _, err := c.SendChatMessage(context.Background(), srv.URL, "", "hi", nil); err != nil {
		t.Fatalf("SendChatMessage: %v", err)
	}
	if _, ok := gotBody["channel"]; ok {
		t.Fatalf("empty room leaked into payload: %v", gotBody)
	}
}

func TestHTTPWebhookStatusHandling(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "created", status: http.StatusCreated},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
		{name: "not found", status: http.StatusNotFound, wantErr: true},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			w := &HTTPWebhook{}
			err := w.SendWebhook(context.Background(), srv.URL, []byte(`{"k":"v"}`))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error for non-2xx response")
				}
				if !strings.Contains(err.Error(), "webhook endpoint returned") {
					t.Fatalf("err = %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SendWebhook: %v", err)
			}
		})
	}
}

func TestHTTPWebhookUnreachable(t *testing.T) {
	t.Parallel()
	w := &HTTPWebhook{}
	if err := w.SendWebhook(context.Background(), "http://127.0.0.1:1/hook", []byte("{}")); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestFanoutDeliversToSubscribers(t *testing.T) {
	t.Parallel()
	f := NewFanout()
	ch, unsub := f.Subscribe(4)
	defer unsub()

	n := notify.Notification{ID: "n1", Type: notify.EventMention, Title: "ping"}
	f.Deliver("u1", n)

	select {
	case ev := <-ch:
		if ev.UserID != "u1" || ev.Notification.ID != "n1" {
			t.Fatalf("event = %+v", ev)
		}
		if ev.At.IsZero() {
			t.Fatal("event timestamp not set")
		}
	default:
		t.Fatal("subscriber received nothing")
	}
}

func TestFanoutDropsWhenSubscriberFull(t *testing.T) {
	t.Parallel()
	f := NewFanout()
	ch, unsub := f.Subscribe(1)
	defer unsub()

	f.Deliver("u1", notify.Notification{ID: "first"})
	f.Deliver("u1", notify.Notification{ID: "dropped"})

	ev := <-ch
	if ev.Notification.ID != "first" {
		t.Fatalf("got %q, want the first event", ev.Notification.ID)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected buffered event %q", ev.Notification.ID)
	default:
	}
}

func TestFanoutUnsubscribe(t *testing.T) {
	t.Parallel()
	f := NewFanout()
	ch, unsub := f.Subscribe(1)
	unsub()
	unsub() // safe to call twice

	// Deliver after unsubscribe must not panic.
	f.Deliver("u1", notify.Notification{ID: "n1"})

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestRegistryHas(t *testing.T) {
	t.Parallel()
	r := &Registry{Chat: &HTTPChat{}, Websocket: NewFanout()}

	if !r.Has(notify.ChannelSlack) || !r.Has(notify.ChannelTeams) {
		t.Fatal("chat provider should cover slack and teams")
	}
	if !r.Has(notify.ChannelWebsocket) {
		t.Fatal("websocket sink registered but not reported")
	}
	if r.Has(notify.ChannelEmail) || r.Has(notify.ChannelSMS) || r.Has(notify.ChannelWebhook) {
		t.Fatal("unregistered providers reported as present")
	}
	if r.Has(notify.Channel("pigeon")) {
		t.Fatal("unknown channel reported as present")
	}
}
