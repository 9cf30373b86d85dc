package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/archiveswarm/coordinator/store"
	"github.com/archiveswarm/coordinator/storefake"
)

func TestRegistry_CreateWorker(t *testing.T) {
	gw := storefake.New()
	r := New(gw, "https://swarm-batches.s3.us-east-1.amazonaws.com", 0)

	id, base, err := r.CreateWorker(context.Background(), "203.0.113.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Error("expected non-empty worker id")
	}
	if base != "https://swarm-batches.s3.us-east-1.amazonaws.com" {
		t.Errorf("s3BaseURL = %q", base)
	}

	w, err := gw.GetWorker(context.Background(), id)
	if err != nil {
		t.Fatalf("worker not persisted: %v", err)
	}
	if w.IP != "203.0.113.1" || w.Disabled || w.CurrentBatch != "" || w.Reputation != 0 {
		t.Errorf("unexpected worker state: %+v", w)
	}
}

func TestRegistry_CreateWorker_TooMany(t *testing.T) {
	gw := storefake.New()
	r := New(gw, "", 0)

	for i := 0; i <= defaultMaxWorkersPerIP; i++ {
		if _, _, err := r.CreateWorker(context.Background(), "203.0.113.1"); err != nil {
			t.Fatalf("unexpected error on worker %d: %v", i, err)
		}
	}

	_, _, err := r.CreateWorker(context.Background(), "203.0.113.1")
	if !errors.Is(err, ErrTooManyWorkers) {
		t.Errorf("err = %v, want ErrTooManyWorkers", err)
	}
}

func TestRegistry_Resolve(t *testing.T) {
	gw := storefake.New()
	r := New(gw, "", 0)

	gw.PutWorker(store.Worker{ID: "w1", IP: "203.0.113.1"})
	gw.PutWorker(store.Worker{ID: "w2", IP: "203.0.113.1", Disabled: true})

	w, err := r.Resolve(context.Background(), "w1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.ID != "w1" {
		t.Errorf("ID = %q", w.ID)
	}

	_, err = r.Resolve(context.Background(), "w2")
	if !errors.Is(err, ErrWorkerDisabled) {
		t.Errorf("err = %v, want ErrWorkerDisabled", err)
	}

	_, err = r.Resolve(context.Background(), "missing")
	if !errors.Is(err, ErrUnknownWorker) {
		t.Errorf("err = %v, want ErrUnknownWorker", err)
	}
}

func TestRegistry_WorkersForIP(t *testing.T) {
	gw := storefake.New()
	r := New(gw, "", 0)

	gw.PutWorker(store.Worker{ID: "w1", IP: "203.0.113.1"})
	gw.PutWorker(store.Worker{ID: "w2", IP: "203.0.113.1"})
	gw.PutWorker(store.Worker{ID: "w3", IP: "203.0.113.2"})

	ids, err := r.WorkersForIP(context.Background(), "203.0.113.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("len(ids) = %d, want 2", len(ids))
	}
}
