// Package database persists checkpoints, episode metrics and step logs with
// gorm. SQLite and PostgreSQL are supported.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jinzhu/gorm"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"rlvr/internal/agents"
	"rlvr/internal/models"
)

// ErrNotFound is returned when no matching record exists.
var ErrNotFound = errors.New("record not found")

// Store is the gorm-backed persistence layer. It implements
// agents.Checkpointer, training.Observer and loop.Observer.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open connects with the given gorm dialect ("sqlite3" or "postgres") and
// migrates the schema.
func Open(dialect, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == "sqlite3" {
		// every new sqlite connection to ":memory:" is a separate database
		db.DB().SetMaxOpenConns(1)
	}
	s := New(db, logger)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection without migrating.
func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, log: logger.With("component", "store")}
}

// Migrate creates or updates the tables.
func (s *Store) Migrate() error {
	err := s.db.AutoMigrate(
		&models.AgentCheckpoint{},
		&models.EpisodeRecord{},
		&models.ActionLog{},
	).Error
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// SaveCheckpoint stores cp with its state encoded as JSON.
func (s *Store) SaveCheckpoint(ctx context.Context, cp agents.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("encode agent state: %w", err)
	}
	rec := models.AgentCheckpoint{
		RunID:     cp.RunID,
		AgentName: cp.State.Config.Name,
		Source:    cp.Source,
		Episode:   cp.Episode,
		State:     string(state),
		TakenAt:   cp.CreatedAt,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the newest checkpoint for agentName, or for any
// agent when agentName is empty.
func (s *Store) LatestCheckpoint(ctx context.Context, agentName string) (*agents.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := s.db
	if agentName != "" {
		q = q.Where("agent_name = ?", agentName)
	}
	var rec models.AgentCheckpoint
	if err := q.Order("id desc").First(&rec).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	cp := &agents.Checkpoint{
		RunID:     rec.RunID,
		Source:    rec.Source,
		Episode:   rec.Episode,
		CreatedAt: rec.TakenAt,
	}
	if err := json.Unmarshal([]byte(rec.State), &cp.State); err != nil {
		return nil, fmt.Errorf("decode agent state: %w", err)
	}
	return cp, nil
}

// SaveEpisode stores one episode record.
func (s *Store) SaveEpisode(ctx context.Context, rec *models.EpisodeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("save episode: %w", err)
	}
	return nil
}

// ListEpisodes returns up to limit episodes, newest first. An empty runID
// matches every run and a non-positive limit returns everything.
func (s *Store) ListEpisodes(ctx context.Context, runID string, limit int) ([]models.EpisodeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := s.db.Order("id desc")
	if runID != "" {
		q = q.Where("run_id = ?", runID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []models.EpisodeRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	return recs, nil
}

// SaveAction stores one step log.
func (s *Store) SaveAction(ctx context.Context, rec *models.ActionLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("save action: %w", err)
	}
	return nil
}

// ListActions returns the step logs of one episode in step order.
func (s *Store) ListActions(ctx context.Context, runID string, episode int) ([]models.ActionLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var recs []models.ActionLog
	err := s.db.Where("run_id = ? AND episode = ?", runID, episode).Order("step asc").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return recs, nil
}
