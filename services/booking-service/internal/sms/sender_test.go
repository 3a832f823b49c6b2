package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWebhookSender(t *testing.T) {
	var got map[string]string
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "secret")
	if s.ProviderID() != "sms-webhook" {
		t.Fatalf("expected webhook sender, got %s", s.ProviderID())
	}
	if err := s.Send(context.Background(), "+966500000000", "Your code is 123456"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if got["to"] != "+966500000000" || got["body"] != "Your code is 123456" {
		t.Fatalf("unexpected payload %v", got)
	}
	if auth != "Bearer secret" {
		t.Fatalf("expected bearer token, got %q", auth)
	}
}

func TestWebhookSenderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if err := NewWebhookSender(srv.URL, "").Send(context.Background(), "+1", "x"); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestNewSenderDefaultsToNoop(t *testing.T) {
	s := NewSender("  ", "")
	if s.ProviderID() != "sms-noop" {
		t.Fatalf("expected noop sender, got %s", s.ProviderID())
	}
	if err := s.Send(context.Background(), "+1", "x"); err != nil {
		t.Fatalf("noop send failed: %v", err)
	}
}
