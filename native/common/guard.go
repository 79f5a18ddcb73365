package common

import (
	"errors"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

// Pauses is a mutable in-memory pause switchboard satisfying PauseView.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]struct{}
}

// NewPauses builds a switchboard with the listed modules already paused.
func NewPauses(modules []string) *Pauses {
	p := &Pauses{paused: make(map[string]struct{})}
	for _, module := range modules {
		p.paused[module] = struct{}{}
	}
	return p
}

func (p *Pauses) Pause(module string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused[module] = struct{}{}
}

func (p *Pauses) Resume(module string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.paused, module)
}

func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.paused[module]
	return ok
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
