package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNotifierPrimaryDelivery(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("expected JSON content type, got %q", ct)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewNotifier(WithPrimaryURL(srv.URL))
	if err != nil {
		t.Fatalf("NewNotifier failed: %v", err)
	}
	if err := n.Notify(context.Background(), map[string]string{"event": "test"}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 delivery, got %d", calls)
	}
}

func TestNotifierFallsBack(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()

	var fallbackCalls int
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fallbackCalls++
		w.WriteHeader(http.StatusOK)
	}))
	defer fallback.Close()

	n, err := NewNotifier(WithPrimaryURL(primary.URL), WithFallbackURL(fallback.URL))
	if err != nil {
		t.Fatalf("NewNotifier failed: %v", err)
	}
	if err := n.Notify(context.Background(), map[string]string{"event": "test"}); err != nil {
		t.Fatalf("Notify should succeed via fallback: %v", err)
	}
	if fallbackCalls != 1 {
		t.Errorf("expected 1 fallback delivery, got %d", fallbackCalls)
	}
}

func TestNotifierAllEndpointsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n, err := NewNotifier(WithPrimaryURL(srv.URL), WithFallbackURL(srv.URL))
	if err != nil {
		t.Fatalf("NewNotifier failed: %v", err)
	}
	if err := n.Notify(context.Background(), map[string]string{"event": "test"}); err == nil {
		t.Fatal("expected error when every endpoint fails")
	}
}

func TestNotifierRequiresURL(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "")
	t.Setenv("WEBHOOK_FALLBACK_URL", "")
	if _, err := NewNotifier(); err == nil {
		t.Fatal("expected error when no webhook URL is configured")
	}
}
