package export

import (
	"context"
	"sync"

	"spendlog/internal/core"
)

// Memory is an in-process exporter for local development and tests. It
// keeps every exported expense in a slice.
type Memory struct {
	mu       sync.Mutex
	exported []core.Expense
	failWith error
}

var _ Exporter = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) ExportExpense(_ context.Context, e core.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.exported = append(m.exported, e)
	return nil
}

// Exported returns a copy of everything exported so far.
func (m *Memory) Exported() []core.Expense {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.Expense(nil), m.exported...)
}

// FailWith makes subsequent exports return err; nil restores success.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}
