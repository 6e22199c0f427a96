package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/rebalancer/internal/database"
)

// MaintenanceService keeps the sqlite stores healthy: WAL checkpoints and
// integrity checks daily, VACUUM and ANALYZE weekly.
type MaintenanceService struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewMaintenanceService creates a maintenance service over the given
// databases.
func NewMaintenanceService(databases []*database.DB, log zerolog.Logger) *MaintenanceService {
	return &MaintenanceService{
		databases: databases,
		log:       log.With().Str("service", "maintenance").Logger(),
	}
}

// RunDaily checkpoints the WAL and verifies integrity on every database.
// A failing integrity check is an error the operator must see; checkpoint
// hiccups are only logged.
func (m *MaintenanceService) RunDaily(ctx context.Context) error {
	start := time.Now()
	for _, db := range m.databases {
		if err := db.WALCheckpoint(); err != nil {
			m.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("integrity check failed for %s: %w", db.Name(), err)
		}
	}
	m.log.Info().Dur("duration", time.Since(start)).Msg("Daily maintenance completed")
	return nil
}

// RunWeekly compacts and re-analyzes every database.
func (m *MaintenanceService) RunWeekly(ctx context.Context) error {
	start := time.Now()
	for _, db := range m.databases {
		if _, err := db.Conn().ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum failed for %s: %w", db.Name(), err)
		}
		if _, err := db.Conn().ExecContext(ctx, "ANALYZE"); err != nil {
			return fmt.Errorf("analyze failed for %s: %w", db.Name(), err)
		}
		m.log.Debug().Str("database", db.Name()).Msg("Database compacted")
	}
	m.log.Info().Dur("duration", time.Since(start)).Msg("Weekly maintenance completed")
	return nil
}
