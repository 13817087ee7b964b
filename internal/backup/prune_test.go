package backup

import (
	"context"
	"testing"
	"time"
)

func createSnapshots(t *testing.T, m *Manager, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := m.Create(context.Background(), "1.0.0"); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
}

func TestManager_Prune(t *testing.T) {
	install := t.TempDir()
	writeTree(t, install, map[string]string{"app.py": "x"})
	manager := NewManager(install, t.TempDir(), []string{"app.py"},
		WithClock(fixedClock(time.Date(2024, 2, 1, 0, 0, 0, 0, time.Local))))

	createSnapshots(t, manager, 5)

	result, err := manager.Prune(2)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}

	if result.Kept != 2 {
		t.Errorf("Prune() Kept = %v, want 2", result.Kept)
	}
	if len(result.Deleted) != 3 {
		t.Errorf("Prune() Deleted count = %v, want 3", len(result.Deleted))
	}

	backups, err := manager.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("List() after prune = %v, want 2", len(backups))
	}
	if backups[0].ID != "backup_20240201_000004" || backups[1].ID != "backup_20240201_000003" {
		t.Errorf("List() after prune kept %s, %s", backups[0].ID, backups[1].ID)
	}
}

func TestManager_PruneNoOp(t *testing.T) {
	install := t.TempDir()
	writeTree(t, install, map[string]string{"app.py": "x"})
	manager := NewManager(install, t.TempDir(), []string{"app.py"},
		WithClock(fixedClock(time.Date(2024, 2, 1, 0, 0, 0, 0, time.Local))))

	createSnapshots(t, manager, 2)

	result, err := manager.Prune(5)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if result.Kept != 2 {
		t.Errorf("Prune() Kept = %v, want 2", result.Kept)
	}
	if len(result.Deleted) != 0 {
		t.Errorf("Prune() Deleted count = %v, want 0", len(result.Deleted))
	}
}

func TestManager_PruneZero(t *testing.T) {
	install := t.TempDir()
	writeTree(t, install, map[string]string{"app.py": "x"})
	manager := NewManager(install, t.TempDir(), []string{"app.py"},
		WithClock(fixedClock(time.Date(2024, 2, 1, 0, 0, 0, 0, time.Local))))

	createSnapshots(t, manager, 3)

	result, err := manager.Prune(0)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if len(result.Deleted) != 3 {
		t.Errorf("Prune() Deleted count = %v, want 3", len(result.Deleted))
	}
}

func TestManager_PruneNegative(t *testing.T) {
	manager := NewManager(t.TempDir(), t.TempDir(), nil)
	if _, err := manager.Prune(-1); err == nil {
		t.Error("Prune() expected error for negative keep count")
	}
}

func TestManager_PruneEmpty(t *testing.T) {
	manager := NewManager(t.TempDir(), t.TempDir(), nil)

	result, err := manager.Prune(5)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if result.Kept != 0 || len(result.Deleted) != 0 {
		t.Errorf("Prune() = %+v, want empty result", result)
	}
}
