// Package recovery checkpoints in-progress runs so they can be resumed after
// a crash, a stop, or a restart.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/listing-enrich/internal/model"
	"github.com/sells-group/listing-enrich/internal/sink"
)

// DefaultRetention is how long a snapshot stays resumable.
const DefaultRetention = 24 * time.Hour

// DefaultDataset is the dataset key used when none is configured.
const DefaultDataset = "current"

// Store is the durable blob store behind a Manager. Load returns nil, nil
// when the key is absent.
type Store interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Manager saves, loads and expires snapshots for one dataset key.
type Manager struct {
	store     Store
	key       string
	retention time.Duration
	nowFunc   func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithDataset namespaces the snapshot key.
func WithDataset(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.key = "snapshot:" + name
		}
	}
}

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.nowFunc = now }
}

// NewManager creates a Manager on s.
func NewManager(s Store, opts ...Option) *Manager {
	m := &Manager{
		store:     s,
		key:       "snapshot:" + DefaultDataset,
		retention: DefaultRetention,
		nowFunc:   time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Key returns the store key snapshots are saved under.
func (m *Manager) Key() string { return m.key }

// Checkpoint replaces the stored snapshot with snap. snap.Version and
// snap.SavedAt are set here.
func (m *Manager) Checkpoint(ctx context.Context, snap *model.Snapshot) error {
	snap.Version = model.SnapshotVersion
	snap.SavedAt = m.nowFunc().UTC()
	if err := validate(snap); err != nil {
		return eris.Wrap(err, "recovery: refusing to checkpoint")
	}

	data, err := Encode(snap)
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, m.key, data); err != nil {
		return eris.Wrap(err, "recovery: save snapshot")
	}
	zap.L().Debug("recovery: checkpoint saved",
		zap.String("run_id", snap.RunID),
		zap.Int("cursor", snap.Cursor),
		zap.Int("total", snap.TotalRecords),
		zap.Int("bytes", len(data)),
	)
	return nil
}

// Check returns the stored snapshot, or nil when there is none. Corrupt or
// expired snapshots are deleted and reported as absent.
func (m *Manager) Check(ctx context.Context) (*model.Snapshot, error) {
	data, err := m.store.Load(ctx, m.key)
	if err != nil {
		return nil, eris.Wrap(err, "recovery: load snapshot")
	}
	if data == nil {
		return nil, nil
	}

	snap, err := Decode(data)
	if err != nil {
		if !errors.Is(err, ErrSnapshotCorrupt) {
			return nil, err
		}
		zap.L().Warn("recovery: discarding corrupt snapshot", zap.String("key", m.key), zap.Error(err))
		return nil, m.Discard(ctx)
	}

	if age := snap.Age(m.nowFunc()); age > m.retention {
		zap.L().Info("recovery: discarding expired snapshot",
			zap.String("run_id", snap.RunID),
			zap.Duration("age", age),
		)
		return nil, m.Discard(ctx)
	}
	return snap, nil
}

// Discard deletes the stored snapshot.
func (m *Manager) Discard(ctx context.Context) error {
	return eris.Wrap(m.store.Delete(ctx, m.key), "recovery: delete snapshot")
}

// ExportPartial writes the snapshot's completed results through s without
// resuming the run.
func (m *Manager) ExportPartial(ctx context.Context, snap *model.Snapshot, s sink.Sink) (*sink.PersistResult, error) {
	if snap == nil {
		return nil, eris.New("recovery: no snapshot to export")
	}
	res, err := s.Persist(ctx, snap.Results, sink.Metadata{
		RunID:       snap.RunID,
		Filename:    snap.Filename,
		Owner:       snap.Owner,
		Stats:       snap.Stats,
		Config:      snap.Config,
		Columns:     snap.Columns,
		Partial:     true,
		CompletedAt: snap.SavedAt,
	})
	if err != nil {
		return nil, eris.Wrap(err, "recovery: export partial results")
	}
	return res, nil
}
