package server

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/rebalancer/internal/database"
)

// SystemHandlers serves host and database status.
type SystemHandlers struct {
	databases []*database.DB
	started   time.Time
	log       zerolog.Logger
}

// NewSystemHandlers creates the system status handlers.
func NewSystemHandlers(databases []*database.DB, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		databases: databases,
		started:   time.Now(),
		log:       log.With().Str("component", "system_handlers").Logger(),
	}
}

type databaseStatus struct {
	Name    string  `json:"name"`
	SizeMB  float64 `json:"size_mb"`
	Healthy bool    `json:"healthy"`
}

type systemStatus struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	CPUPercent    float64          `json:"cpu_percent"`
	RAMPercent    float64          `json:"ram_percent"`
	Databases     []databaseStatus `json:"databases"`
}

// HandleStatus reports CPU, RAM and database health.
// GET /api/system/status
func (h *SystemHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	cpuPct, ramPct := h.systemStats()

	status := systemStatus{
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		CPUPercent:    cpuPct,
		RAMPercent:    ramPct,
		Databases:     make([]databaseStatus, 0, len(h.databases)),
	}
	for _, db := range h.databases {
		status.Databases = append(status.Databases, databaseStatus{
			Name:    db.Name(),
			SizeMB:  fileSizeMB(db.Path()),
			Healthy: db.HealthCheck(r.Context()) == nil,
		})
	}
	writeJSON(w, http.StatusOK, status)
}

// systemStats samples CPU over 100ms so the endpoint stays responsive for
// dashboard polling.
func (h *SystemHandlers) systemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}
	return cpuAvg, memStat.UsedPercent
}

func fileSizeMB(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / 1024 / 1024
}
