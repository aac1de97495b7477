// Package indexes drops secondary indexes before a bulk load and restores
// them afterwards.
package indexes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"geofacts/server/internal/metrics"
)

// Spec describes a secondary index by table and columns.
type Spec struct {
	Name    string
	Table   string
	Columns []string
}

func (s Spec) String() string {
	return fmt.Sprintf("%s ON %s(%s)", s.Name, s.Table, strings.Join(s.Columns, ", "))
}

// Toggler drops and creates indexes. Both operations must be idempotent.
type Toggler interface {
	DropIndex(ctx context.Context, spec Spec) error
	CreateIndex(ctx context.Context, spec Spec) error
}

// State is the lifecycle position of a Manager.
type State int

const (
	Idle State = iota
	IndexesDropped
	Loading
	IndexesRestored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case IndexesDropped:
		return "indexes_dropped"
	case Loading:
		return "loading"
	case IndexesRestored:
		return "indexes_restored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options select when indexes are touched. Update runs and dry runs leave
// indexes in place.
type Options struct {
	Update bool
	DryRun bool
}

// Manager brackets a load with index removal and restoration. It provides no
// locking across processes; one run per store at a time is assumed.
type Manager struct {
	toggler  Toggler
	specs    []Spec
	opts     Options
	logger   *logrus.Logger
	mu       sync.Mutex
	state    State
	restores int
}

func NewManager(toggler Toggler, specs []Spec, opts Options, logger *logrus.Logger) *Manager {
	return &Manager{
		toggler: toggler,
		specs:   specs,
		opts:    opts,
		logger:  logger,
	}
}

// Enabled reports whether Bracket will drop indexes.
func (m *Manager) Enabled() bool {
	return !m.opts.Update && !m.opts.DryRun && len(m.specs) > 0
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Restores returns how many times indexes were restored.
func (m *Manager) Restores() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restores
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.logger.WithField("state", s.String()).Debug("Index lifecycle transition")
}

// Bracket runs load between dropping and restoring the managed indexes.
// Indexes are restored exactly once, whether load succeeds, fails or the
// context is cancelled. When indexes are not managed load runs on its own.
func (m *Manager) Bracket(ctx context.Context, load func(ctx context.Context) error) (err error) {
	if !m.Enabled() {
		m.setState(Loading)
		defer m.setState(Idle)
		return load(ctx)
	}

	defer func() {
		if rerr := m.restore(context.WithoutCancel(ctx)); rerr != nil {
			err = errors.Join(err, rerr)
		}
		m.setState(Idle)
	}()

	if err := m.drop(ctx); err != nil {
		return err
	}

	m.setState(Loading)
	return load(ctx)
}

func (m *Manager) drop(ctx context.Context) error {
	for _, spec := range m.specs {
		if err := m.toggler.DropIndex(ctx, spec); err != nil {
			return fmt.Errorf("failed to drop index %s: %w", spec.Name, err)
		}
		metrics.IndexOperationsTotal.WithLabelValues("drop").Inc()
	}
	m.setState(IndexesDropped)
	m.logger.WithField("indexes", len(m.specs)).Info("Dropped secondary indexes for bulk load")
	return nil
}

// restore recreates every managed index, continuing past failures so one bad
// index does not leave the others missing.
func (m *Manager) restore(ctx context.Context) error {
	var errs []error
	for _, spec := range m.specs {
		if err := m.toggler.CreateIndex(ctx, spec); err != nil {
			errs = append(errs, fmt.Errorf("failed to restore index %s: %w", spec.Name, err))
			continue
		}
		metrics.IndexOperationsTotal.WithLabelValues("restore").Inc()
	}

	m.mu.Lock()
	m.restores++
	m.mu.Unlock()
	m.setState(IndexesRestored)

	if len(errs) > 0 {
		m.logger.WithField("failed", len(errs)).Error("Failed to restore some secondary indexes")
		return errors.Join(errs...)
	}
	m.logger.WithField("indexes", len(m.specs)).Info("Restored secondary indexes")
	return nil
}
