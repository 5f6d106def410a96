package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestWriterLockBlocksConcurrentHolder(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), ".writer.lock")

	first := NewWriterLock(lockPath)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := first.Lock(ctx); err != nil {
		t.Fatalf("first Lock failed: %v", err)
	}

	second := NewWriterLock(lockPath)
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer shortCancel()
	if err := second.Lock(shortCtx); err == nil {
		t.Error("expected second Lock to fail while first holds the lock")
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}

	third := NewWriterLock(lockPath)
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := third.Lock(ctx2); err != nil {
		t.Errorf("expected lock to be acquirable after release, got: %v", err)
	} else {
		_ = third.Unlock()
	}
}
