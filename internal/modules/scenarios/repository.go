package scenarios

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/rebalancer/internal/database"
)

// Repository reads and writes the return history database.
type Repository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewRepository creates a return history repository.
func NewRepository(db *database.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("component", "scenario_repository").Logger(),
	}
}

// UpsertReturns stores a batch of daily returns for one symbol, replacing
// any rows already present for the same dates.
func (r *Repository) UpsertReturns(symbol string, points []ReturnPoint) error {
	return database.WithTransaction(r.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO returns (symbol, date, return) VALUES (?, ?, ?)
			ON CONFLICT (symbol, date) DO UPDATE SET return = excluded.return`)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, p := range points {
			if _, err := stmt.Exec(symbol, p.Date, p.Return); err != nil {
				return fmt.Errorf("failed to upsert return %s/%s: %w", symbol, p.Date, err)
			}
		}
		return nil
	})
}

// Returns loads the trailing return series for a symbol up to and including
// endDate, most recent last, at most limit rows.
func (r *Repository) Returns(symbol, endDate string, limit int) ([]ReturnPoint, error) {
	rows, err := r.db.Conn().Query(`
		SELECT date, return FROM (
			SELECT date, return FROM returns
			WHERE symbol = ? AND date <= ?
			ORDER BY date DESC LIMIT ?
		) ORDER BY date ASC`, symbol, endDate, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query returns for %s: %w", symbol, err)
	}
	defer rows.Close()

	var points []ReturnPoint
	for rows.Next() {
		var p ReturnPoint
		if err := rows.Scan(&p.Date, &p.Return); err != nil {
			return nil, fmt.Errorf("failed to scan return row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Dates lists all distinct return dates for a symbol in ascending order,
// bounded to [startDate, endDate]. The backtest driver walks this series.
func (r *Repository) Dates(symbol, startDate, endDate string) ([]string, error) {
	rows, err := r.db.Conn().Query(`
		SELECT DISTINCT date FROM returns
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`, symbol, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to query dates for %s: %w", symbol, err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan date row: %w", err)
		}
		dates = append(dates, d)
	}
	return dates, rows.Err()
}

// LatestDate returns the most recent return date for a symbol, or "" when
// there is no history.
func (r *Repository) LatestDate(symbol string) (string, error) {
	var date sql.NullString
	err := r.db.Conn().QueryRow(
		`SELECT MAX(date) FROM returns WHERE symbol = ?`, symbol,
	).Scan(&date)
	if err != nil {
		return "", fmt.Errorf("failed to query latest date for %s: %w", symbol, err)
	}
	return date.String, nil
}

// CachedSet loads a msgpack-encoded scenario set from the cache, returning
// (nil, nil) on a miss.
func (r *Repository) CachedSet(key string) (*Set, error) {
	var payload []byte
	err := r.db.Conn().QueryRow(
		`SELECT payload FROM scenario_cache WHERE cache_key = ?`, key,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query scenario cache: %w", err)
	}

	var set Set
	if err := msgpack.Unmarshal(payload, &set); err != nil {
		// A corrupt cache entry is not fatal; the set will be rebuilt.
		r.log.Warn().Err(err).Str("key", key).Msg("Discarding corrupt scenario cache entry")
		return nil, nil
	}
	return &set, nil
}

// StoreSet caches a scenario set under the given key.
func (r *Repository) StoreSet(key string, set *Set) error {
	payload, err := msgpack.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to encode scenario set: %w", err)
	}
	_, err = r.db.Conn().Exec(`
		INSERT INTO scenario_cache (cache_key, payload) VALUES (?, ?)
		ON CONFLICT (cache_key) DO UPDATE SET payload = excluded.payload,
			created_at = datetime('now')`, key, payload)
	if err != nil {
		return fmt.Errorf("failed to store scenario set: %w", err)
	}
	return nil
}
