// Package maintenance runs the background jobs that keep the database and
// file store tidy: a periodic WAL checkpoint and an orphaned-file sweep
// for every file-typed field, both driven by cron schedules rather than
// a request.
package maintenance

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/bunbase/bunbase/internal/config"
	"github.com/bunbase/bunbase/internal/database"
	"github.com/bunbase/bunbase/internal/metrics"
	"github.com/bunbase/bunbase/internal/schema"
	"github.com/bunbase/bunbase/internal/storage"
)

// Service owns the cron scheduler and the handles it drives jobs against.
type Service struct {
	db       *database.DB
	registry *schema.Registry
	storage  *storage.Service
	cfg      config.MaintainConfig

	cron *cron.Cron
}

func NewService(db *database.DB, registry *schema.Registry, storageSvc *storage.Service, cfg config.MaintainConfig) *Service {
	return &Service{
		db:       db,
		registry: registry,
		storage:  storageSvc,
		cfg:      cfg,
		cron:     cron.New(),
	}
}

// Start registers the configured jobs and starts the scheduler. Call once
// at startup; Stop halts it.
func (s *Service) Start() error {
	if s.cfg.CheckpointSchedule != "" {
		if _, err := s.cron.AddFunc(s.cfg.CheckpointSchedule, s.runCheckpoint); err != nil {
			return fmt.Errorf("scheduling checkpoint job %q: %w", s.cfg.CheckpointSchedule, err)
		}
	}
	if s.cfg.OrphanSweepSchedule != "" && s.storage != nil && s.storage.Enabled() {
		if _, err := s.cron.AddFunc(s.cfg.OrphanSweepSchedule, s.runOrphanSweep); err != nil {
			return fmt.Errorf("scheduling orphan sweep job %q: %w", s.cfg.OrphanSweepSchedule, err)
		}
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, then waits for any in-flight job to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Service) runCheckpoint() {
	ctx := context.Background()
	if err := s.db.Checkpoint(ctx); err != nil {
		log.Error().Err(err).Msg("maintenance: wal checkpoint failed")
		return
	}
	log.Debug().Msg("maintenance: wal checkpoint complete")

	dbStats := s.db.Stats()
	metrics.UpdateDBStats(dbStats.OpenConnections, dbStats.InUse, dbStats.Idle)
}

// runOrphanSweep removes stored files for every file-typed field whose
// owning record no longer exists, across every collection. A collection
// with no file fields is skipped without touching the storage backend.
func (s *Service) runOrphanSweep() {
	ctx := context.Background()
	for _, col := range s.registry.ListCollections() {
		if !hasFileField(col) {
			continue
		}

		ids, err := s.liveIDs(ctx, col.Name)
		if err != nil {
			log.Error().Err(err).Str("collection", col.Name).Msg("maintenance: listing live records failed")
			continue
		}

		removed, err := s.storage.SweepOrphans(ctx, col.Name, func(id string) bool {
			_, ok := ids[id]
			return ok
		})
		if err != nil {
			log.Error().Err(err).Str("collection", col.Name).Msg("maintenance: orphan sweep failed")
			continue
		}
		if removed > 0 {
			log.Info().Str("collection", col.Name).Int("removed", removed).Msg("maintenance: removed orphaned file directories")
		}
	}
}

func hasFileField(col *schema.Collection) bool {
	for _, f := range col.Fields {
		if f.Type == schema.FieldTypeFile {
			return true
		}
	}
	return false
}

func (s *Service) liveIDs(ctx context.Context, collection string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT id FROM %s", database.QuoteIdentifier(collection)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}
