// Package billing is the seam to the subscription/payment collaborator.
// Only the pieces the binding policy needs live here: the screen-count
// ceiling of a user's package and the screen-created notification.
// Package CRUD, invoicing, and payment providers stay outside this
// subsystem.
package billing

import (
	"context"
	"errors"
	"sync"
)

var ErrPackageNotFound = errors.New("package not found")

// Package is a subscription plan. ScreenCount is the ceiling on
// simultaneously bound screens.
type Package struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ScreenCount int    `json:"screen_count"`
	IsTrial     bool   `json:"is_trial"`
}

// Subscriptions resolves a user's screen-count ceiling.
type Subscriptions interface {
	// ScreenLimit returns the maximum number of screens the user's
	// subscription allows.
	ScreenLimit(ctx context.Context, userID string) (int, error)
}

// Notifier receives side-effect notifications from the binding policy.
type Notifier interface {
	// ScreenCreated is called after a screen is persisted. screenID and
	// userID identify the new binding; failures are the collaborator's
	// concern, not the caller's.
	ScreenCreated(ctx context.Context, screenID, userID string)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) ScreenCreated(ctx context.Context, screenID, userID string) {}

// MemorySubscriptions is an in-memory Subscriptions implementation
// backed by a package table, for tests and development.
type MemorySubscriptions struct {
	mu       sync.RWMutex
	packages map[string]*Package // by id
	byUser   map[string]string   // userID -> package id
	fallback *Package            // trial package for unsubscribed users
}

// NewMemorySubscriptions creates an empty subscription table.
func NewMemorySubscriptions() *MemorySubscriptions {
	return &MemorySubscriptions{
		packages: make(map[string]*Package),
		byUser:   make(map[string]string),
	}
}

// AddPackage registers a plan. The first trial package becomes the
// fallback for users without an explicit subscription.
func (s *MemorySubscriptions) AddPackage(pkg *Package) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages[pkg.ID] = pkg
	if pkg.IsTrial && s.fallback == nil {
		s.fallback = pkg
	}
}

// Subscribe assigns a package to a user.
func (s *MemorySubscriptions) Subscribe(userID, packageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser[userID] = packageID
}

func (s *MemorySubscriptions) ScreenLimit(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.byUser[userID]; ok {
		if pkg, ok := s.packages[id]; ok {
			return pkg.ScreenCount, nil
		}
	}
	if s.fallback != nil {
		return s.fallback.ScreenCount, nil
	}
	return 0, ErrPackageNotFound
}

var _ Subscriptions = (*MemorySubscriptions)(nil)
