package gpt

import (
	"errors"
	"sync"
)

// ErrTurnInProgress is returned when a turn is already running for the
// interview. Turns for one interview are mutually exclusive so two
// continue requests cannot both read the same history and race their writes.
var ErrTurnInProgress = errors.New("a turn is already running for this interview")

// turnGuard is a single-flight lock keyed by interview id.
type turnGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newTurnGuard() *turnGuard {
	return &turnGuard{active: make(map[string]struct{})}
}

// tryAcquire reserves the interview for one turn. Returns false if a turn
// already holds it.
func (g *turnGuard) tryAcquire(interviewID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[interviewID]; busy {
		return false
	}
	g.active[interviewID] = struct{}{}
	return true
}

func (g *turnGuard) release(interviewID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, interviewID)
}
