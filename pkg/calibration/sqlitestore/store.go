// Package sqlitestore persists calibration models in SQLite and publishes
// the active one to in-process subscribers.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teslashibe/go-gaze/pkg/calibration"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a model ID does not exist.
var ErrNotFound = errors.New("sqlitestore: model not found")

// Store is a calibration.Store backed by SQLite. Exactly one stored model
// is active at a time; it is what ReadModel returns.
type Store struct {
	db  *sql.DB
	log *slog.Logger
	pub *calibration.MemoryStore

	// wmu keeps the published model in step with the active row.
	wmu sync.Mutex
}

// Open opens (or creates) the database at path, applies migrations and
// loads the active model.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer keeps ":memory:" databases coherent and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	s := &Store{
		db:  db,
		log: log,
		pub: calibration.NewMemoryStore(nil),
	}

	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	active, err := s.Active(ctx)
	if err != nil && !errors.Is(err, calibration.ErrNoModel) {
		db.Close()
		return nil, err
	}
	if active != nil {
		_ = s.pub.Publish(active)
	}

	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReadModel returns the active model snapshot.
func (s *Store) ReadModel() *calibration.Model {
	return s.pub.ReadModel()
}

// Subscribe registers fn for active-model changes.
func (s *Store) Subscribe(fn func(*calibration.Model)) func() {
	return s.pub.Subscribe(fn)
}

// Save stores m with its source samples (may be nil) and makes it active.
// A missing ID or CreatedAt is filled in.
func (s *Store) Save(ctx context.Context, m *calibration.Model, samples []calibration.Sample) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	transformJSON, gridJSON, err := encode(m)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE calibration_models SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO calibration_models
			(id, created_at, reference_width, reference_height, transform_json, grid_json, active)
		VALUES (?, ?, ?, ?, ?, ?, 1)`,
		m.ID, m.CreatedAt.UnixMilli(), m.ReferenceWidth, m.ReferenceHeight, transformJSON, gridJSON)
	if err != nil {
		return fmt.Errorf("insert model %s: %w", m.ID, err)
	}

	for i, smp := range samples {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO calibration_samples (model_id, seq, raw_x, raw_y, target_x, target_y)
			VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, i, smp.RawX, smp.RawY, smp.TargetX, smp.TargetY)
		if err != nil {
			return fmt.Errorf("insert sample %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.log.Info("calibration saved", "id", m.ID, "samples", len(samples),
		"reference", fmt.Sprintf("%dx%d", m.ReferenceWidth, m.ReferenceHeight))
	return s.pub.Publish(m)
}

// Active returns the active model, or calibration.ErrNoModel.
func (s *Store) Active(ctx context.Context) (*calibration.Model, error) {
	row := s.db.QueryRowContext(ctx, selectModel+` WHERE active = 1 LIMIT 1`)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, calibration.ErrNoModel
	}
	return m, err
}

// Get returns the model with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*calibration.Model, error) {
	row := s.db.QueryRowContext(ctx, selectModel+` WHERE id = ?`, id)
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// List returns up to limit models, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*calibration.Model, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectModel+` ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	var out []*calibration.Model
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Samples returns the samples a model was fitted from, in capture order.
func (s *Store) Samples(ctx context.Context, id string) ([]calibration.Sample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT raw_x, raw_y, target_x, target_y
		FROM calibration_samples WHERE model_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var out []calibration.Sample
	for rows.Next() {
		var smp calibration.Sample
		if err := rows.Scan(&smp.RawX, &smp.RawY, &smp.TargetX, &smp.TargetY); err != nil {
			return nil, err
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

// Activate makes a previously stored model the active one.
func (s *Store) Activate(ctx context.Context, id string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE calibration_models SET active = (id = ?)`, id); err != nil {
		return fmt.Errorf("activate %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return s.pub.Publish(m)
}

// Delete removes a model and its samples. Deleting the active model leaves
// the system uncalibrated.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM calibration_samples WHERE model_id = ?`, id); err != nil {
		return fmt.Errorf("delete samples: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM calibration_models WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if cur := s.pub.ReadModel(); cur != nil && cur.ID == id {
		return s.pub.Publish(nil)
	}
	return nil
}

const selectModel = `
	SELECT id, created_at, reference_width, reference_height, transform_json, grid_json
	FROM calibration_models`

type scanner interface {
	Scan(dest ...any) error
}

func scanModel(row scanner) (*calibration.Model, error) {
	var (
		m             calibration.Model
		createdMs     int64
		transformJSON sql.NullString
		gridJSON      sql.NullString
	)
	if err := row.Scan(&m.ID, &createdMs, &m.ReferenceWidth, &m.ReferenceHeight, &transformJSON, &gridJSON); err != nil {
		return nil, err
	}
	m.CreatedAt = time.UnixMilli(createdMs).UTC()

	if transformJSON.Valid && transformJSON.String != "" {
		var t calibration.AffineTransform
		if err := json.Unmarshal([]byte(transformJSON.String), &t); err != nil {
			return nil, fmt.Errorf("decode transform for %s: %w", m.ID, err)
		}
		m.Transform = &t
	}
	if gridJSON.Valid && gridJSON.String != "" {
		var g calibration.ResidualGrid
		if err := json.Unmarshal([]byte(gridJSON.String), &g); err != nil {
			return nil, fmt.Errorf("decode grid for %s: %w", m.ID, err)
		}
		m.Grid = &g
	}
	return &m, nil
}

func encode(m *calibration.Model) (transformJSON, gridJSON sql.NullString, err error) {
	if m.Transform != nil {
		b, err := json.Marshal(m.Transform)
		if err != nil {
			return transformJSON, gridJSON, err
		}
		transformJSON = sql.NullString{String: string(b), Valid: true}
	}
	if m.Grid != nil {
		b, err := json.Marshal(m.Grid)
		if err != nil {
			return transformJSON, gridJSON, err
		}
		gridJSON = sql.NullString{String: string(b), Valid: true}
	}
	return transformJSON, gridJSON, nil
}
