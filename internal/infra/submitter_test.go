package infra

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"percolator_keeper/internal/domain"
)

func testSubmitterConfig(url string) *Config {
	cfg := &Config{}
	cfg.Chain.RPCURL = url
	cfg.Chain.KeeperKey = "keeper"
	return cfg
}

func testInstruction() []domain.Instruction {
	return []domain.Instruction{domain.CrankInstruction{
		Payer:       "keeper",
		Market:      "mkt1",
		Oracle:      "mkt1",
		CallerIndex: domain.PermissionlessCaller,
	}}
}

func TestRPCSubmitter_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"sig123"}`))
	}))
	defer srv.Close()

	sub := NewRPCSubmitter(testSubmitterConfig(srv.URL))
	sig, err := sub.Submit(context.Background(), testInstruction())
	if err != nil {
		t.Fatal(err)
	}
	if sig != "sig123" {
		t.Errorf("signature = %s", sig)
	}
}

func TestRPCSubmitter_RetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"result":"sig456"}`))
	}))
	defer srv.Close()

	sub := NewRPCSubmitter(testSubmitterConfig(srv.URL))
	sig, err := sub.Submit(context.Background(), testInstruction())
	if err != nil {
		t.Fatal(err)
	}
	if sig != "sig456" {
		t.Errorf("signature = %s", sig)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestRPCSubmitter_NoRetryOnRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"error":{"code":-32002,"message":"transaction rejected"}}`))
	}))
	defer srv.Close()

	sub := NewRPCSubmitter(testSubmitterConfig(srv.URL))
	_, err := sub.Submit(context.Background(), testInstruction())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, domain.ErrSubmitExhausted) {
		t.Errorf("expected ErrSubmitExhausted wrapper, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("a rejected transaction must not be retried, got %d attempts", calls.Load())
	}
}

func TestRPCSubmitter_EmptyInstructions(t *testing.T) {
	sub := NewRPCSubmitter(testSubmitterConfig("http://localhost:0"))
	if _, err := sub.Submit(context.Background(), nil); err == nil {
		t.Error("submitting nothing should fail fast")
	}
}
