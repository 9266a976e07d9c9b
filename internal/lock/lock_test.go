package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNilLockerIsNotConfigured(t *testing.T) {
	var l *Locker
	if NewLocker(nil) != nil {
		t.Fatalf("expected nil locker without client")
	}

	_, _, err := l.TryLock(context.Background(), "k", time.Second)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if err := l.Release(context.Background(), "k", "t"); err != nil {
		t.Fatalf("release on nil locker: %v", err)
	}

	called := false
	ran, err := l.WithLock(context.Background(), "k", time.Second, func(context.Context) error {
		called = true
		return nil
	})
	if ran || called || !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected no run, got ran=%v called=%v err=%v", ran, called, err)
	}
}
