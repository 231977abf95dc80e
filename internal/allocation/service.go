package allocation

import (
	"context"
	"fmt"

	"github.com/motodesk/backoffice/internal/store"
)

// Locker serialises work on redis keys across processes.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (func(), error)
}

// Service answers allocation questions against committed state for import
// scripts and administrative tools. Writes go through sales.Service.
type Service struct {
	reader store.Reader
	engine *Engine
}

// NewService builds Service.
func NewService(reader store.Reader, engine *Engine) *Service {
	return &Service{reader: reader, engine: engine}
}

// Engine exposes the transaction-scoped engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// IsAlreadyAllocated reports whether a sale line already references a unit
// carrying the identity. It reads outside any transaction.
func (s *Service) IsAlreadyAllocated(ctx context.Context, engineNo, chassisNo string) (bool, error) {
	if s == nil || s.reader == nil || s.engine == nil {
		return false, fmt.Errorf("allocation service not initialised")
	}
	return s.engine.IsAlreadyAllocated(ctx, s.reader, engineNo, chassisNo)
}
