package instance

import "testing"

func TestGetIDPrefersWorkerID(t *testing.T) {
	t.Setenv("WORKER_ID", "webhook-2")
	t.Setenv("DYNO", "worker.1")
	if got := GetID(); got != "webhook-2" {
		t.Fatalf("expected webhook-2, got %s", got)
	}
}

func TestGetIDFallsBackToDyno(t *testing.T) {
	t.Setenv("WORKER_ID", "")
	t.Setenv("DYNO", "worker.1")
	if got := GetID(); got != "worker.1" {
		t.Fatalf("expected worker.1, got %s", got)
	}
}

func TestGetIDNeverEmpty(t *testing.T) {
	t.Setenv("WORKER_ID", "")
	t.Setenv("DYNO", "")
	if GetID() == "" {
		t.Fatal("expected a non-empty id")
	}
}
