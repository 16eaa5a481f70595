package loginid

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestKeeperRoundTrip(t *testing.T) {
	ctx := context.Background()
	k := NewKeeper(NewMemoryStore())

	if got := k.LastLoginID(ctx); got != "" {
		t.Errorf("LastLoginID on empty store = %q, want empty", got)
	}
	if err := k.SetLastLoginID(ctx, "user@example.com"); err != nil {
		t.Fatalf("SetLastLoginID failed: %v", err)
	}
	if got := k.LastLoginID(ctx); got != "user@example.com" {
		t.Errorf("LastLoginID = %q", got)
	}

	want := Data{AuthMethod: "fido2", LastEnrollmentMillis: time.Now().UnixMilli()}
	if err := k.SetData(ctx, "user@example.com", want); err != nil {
		t.Fatalf("SetData failed: %v", err)
	}
	got := k.Data(ctx, "user@example.com")
	if got != want {
		t.Errorf("Data = %+v, want %+v", got, want)
	}
	if zero := k.Data(ctx, "other@example.com"); zero != (Data{}) {
		t.Errorf("Data for unknown id = %+v, want zero", zero)
	}
}

func TestKeeperNilSafety(t *testing.T) {
	ctx := context.Background()
	var k *Keeper
	if got := k.LastLoginID(ctx); got != "" {
		t.Errorf("nil keeper LastLoginID = %q", got)
	}
	if err := k.SetLastLoginID(ctx, "x"); err != nil {
		t.Errorf("nil keeper SetLastLoginID = %v", err)
	}
	if got := k.Data(ctx, "x"); got != (Data{}) {
		t.Errorf("nil keeper Data = %+v", got)
	}
}

func TestEnrollmentTimeoutPassed(t *testing.T) {
	recent := Data{LastEnrollmentMillis: time.Now().UnixMilli()}
	if recent.EnrollmentTimeoutPassed(0) {
		t.Error("a just-recorded enrollment must not have timed out")
	}
	old := Data{LastEnrollmentMillis: time.Now().Add(-8 * 24 * time.Hour).UnixMilli()}
	if !old.EnrollmentTimeoutPassed(0) {
		t.Error("a week-old enrollment must have timed out under the default")
	}
	if old.EnrollmentTimeoutPassed(30 * 24 * time.Hour) {
		t.Error("a week-old enrollment must survive a month-long timeout")
	}
	// The zero record predates any reasonable timeout.
	if !(Data{}).EnrollmentTimeoutPassed(0) {
		t.Error("the zero record must have timed out")
	}
}

func TestMemoryStoreMiss(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get of absent key = %v, want ErrNotFound", err)
	}
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	first, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	if err := first.Set(ctx, "lastLoginId", "user@example.com"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	second, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore reopen failed: %v", err)
	}
	got, err := second.Get(ctx, "lastLoginId")
	if err != nil || got != "user@example.com" {
		t.Errorf("Get after reopen = %q, %v", got, err)
	}
}

func TestFileStoreRecoversFromCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("failed to seed corrupt file: %v", err)
	}

	s, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore must tolerate corruption, got %v", err)
	}
	if _, err := s.Get(context.Background(), "lastLoginId"); !errors.Is(err, ErrNotFound) {
		t.Errorf("corrupt store must start empty, got %v", err)
	}
}

func TestFileStoreRejectsEmptyPath(t *testing.T) {
	if _, err := NewFileStore(""); err == nil {
		t.Error("expected an error for an empty path")
	}
}
