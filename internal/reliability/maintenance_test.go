package reliability

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aristath/rebalancer/internal/database"
)

func TestMaintenanceService_RunDailyAndWeekly(t *testing.T) {
	dir := t.TempDir()
	dbs := []*database.DB{openDB(t, dir, "history"), openDB(t, dir, "results")}

	_, err := dbs[0].Conn().Exec(`CREATE TABLE t (x INTEGER)`)
	require.NoError(t, err)

	svc := NewMaintenanceService(dbs, zerolog.Nop())
	require.NoError(t, svc.RunDaily(context.Background()))
	require.NoError(t, svc.RunWeekly(context.Background()))
}
