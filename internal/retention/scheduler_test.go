package retention

import (
	"testing"

	"envds.org/internal/audit"
	"envds.org/internal/docstore"
)

func TestNewSchedulerValidatesSpec(t *testing.T) {
	store := docstore.NewInMemory()
	exec := NewExecutor(store, audit.NewRecorder(store))

	if _, err := NewScheduler(exec, "not a cron spec"); err == nil {
		t.Fatal("expected error for invalid schedule")
	}

	s, err := NewScheduler(exec, "0 3 * * *")
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	s.Stop()
}
