package common

import (
	"errors"
	"sync"
)

var (
	ErrModulePaused = errors.New("module paused")
	// ErrReentrantCall is returned when a guarded section is entered again
	// before the outer call released it.
	ErrReentrantCall = errors.New("reentrant call")
)

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ReentrancyGuard is a single busy flag shared by every mutating entry point
// of a component. It does not serialise callers; it rejects nested entry.
type ReentrancyGuard struct {
	mu     sync.Mutex
	locked bool
}

// Enter marks the guard busy and returns the release function. A second Enter
// before release fails with ErrReentrantCall.
func (g *ReentrancyGuard) Enter() (func(), error) {
	g.mu.Lock()
	if g.locked {
		g.mu.Unlock()
		return nil, ErrReentrantCall
	}
	g.locked = true
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.locked = false
			g.mu.Unlock()
		})
	}, nil
}

// Busy reports whether a guarded section is currently executing.
func (g *ReentrancyGuard) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked
}
