package appointment

import (
	"context"
	"fmt"
	"sync"
)

// TransitionKind names the fixed points at which hooks run.
type TransitionKind string

const (
	TransitionCreate     TransitionKind = "create"
	TransitionWalkIn     TransitionKind = "walk_in"
	TransitionStart      TransitionKind = "start"
	TransitionComplete   TransitionKind = "complete"
	TransitionCancel     TransitionKind = "cancel"
	TransitionNoShow     TransitionKind = "no_show"
	TransitionBulkCancel TransitionKind = "bulk_cancel"
	TransitionRestore    TransitionKind = "restore"
)

// Hook is a named extension point. Before runs ahead of the write and may veto
// it by returning an error; After runs once the write is durable. Bulk
// transitions only run After, per affected appointment, since they must stay
// idempotent.
type Hook struct {
	Name   string
	Before func(ctx context.Context, a *Appointment) error
	After  func(ctx context.Context, a Appointment)
}

// Hooks is an ordered registry of hooks per transition kind.
type Hooks struct {
	mu    sync.RWMutex
	byKey map[TransitionKind][]Hook
}

func NewHooks() *Hooks {
	return &Hooks{byKey: make(map[TransitionKind][]Hook)}
}

// Register appends h to the hooks of kind; registration order is run order.
func (h *Hooks) Register(kind TransitionKind, hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byKey[kind] = append(h.byKey[kind], hook)
}

func (h *Hooks) list(kind TransitionKind) []Hook {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byKey[kind]
}

func (h *Hooks) runBefore(ctx context.Context, kind TransitionKind, a *Appointment) error {
	for _, hook := range h.list(kind) {
		if hook.Before == nil {
			continue
		}
		if err := hook.Before(ctx, a); err != nil {
			return fmt.Errorf("hook %s rejected %s: %w", hook.Name, kind, err)
		}
	}
	return nil
}

func (h *Hooks) runAfter(ctx context.Context, kind TransitionKind, a Appointment) {
	for _, hook := range h.list(kind) {
		if hook.After != nil {
			hook.After(ctx, a)
		}
	}
}
