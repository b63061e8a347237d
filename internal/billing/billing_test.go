package billing

import (
	"context"
	"errors"
	"testing"
)

func TestScreenLimit_TrialFallback(t *testing.T) {
	subs := NewMemorySubscriptions()
	subs.AddPackage(&Package{ID: "trial", Name: "Trial", ScreenCount: 2, IsTrial: true})
	subs.AddPackage(&Package{ID: "pro", Name: "Pro", ScreenCount: 20})

	// Unsubscribed users fall back to the trial ceiling.
	limit, err := subs.ScreenLimit(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ScreenLimit() error = %v", err)
	}
	if limit != 2 {
		t.Errorf("fallback limit = %d, want 2", limit)
	}

	subs.Subscribe("user-1", "pro")
	limit, err = subs.ScreenLimit(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ScreenLimit() error = %v", err)
	}
	if limit != 20 {
		t.Errorf("subscribed limit = %d, want 20", limit)
	}
}

func TestScreenLimit_NoPackages(t *testing.T) {
	subs := NewMemorySubscriptions()
	_, err := subs.ScreenLimit(context.Background(), "user-1")
	if !errors.Is(err, ErrPackageNotFound) {
		t.Errorf("ScreenLimit() error = %v, want ErrPackageNotFound", err)
	}
}

func TestScreenLimit_FirstTrialWins(t *testing.T) {
	subs := NewMemorySubscriptions()
	subs.AddPackage(&Package{ID: "trial-a", ScreenCount: 1, IsTrial: true})
	subs.AddPackage(&Package{ID: "trial-b", ScreenCount: 9, IsTrial: true})

	limit, err := subs.ScreenLimit(context.Background(), "anyone")
	if err != nil {
		t.Fatalf("ScreenLimit() error = %v", err)
	}
	if limit != 1 {
		t.Errorf("limit = %d, want first-registered trial ceiling 1", limit)
	}
}
