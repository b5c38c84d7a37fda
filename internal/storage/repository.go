package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ema-price-alerts/internal/signal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS alert_states (
        job         TEXT PRIMARY KEY,
        ema_reset   BOOLEAN NOT NULL,
        last_price  DOUBLE PRECISION,
        last_rising BOOLEAN NOT NULL,
        updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS alerts (
        id            BIGSERIAL PRIMARY KEY,
        job           TEXT NOT NULL,
        product       TEXT NOT NULL,
        price         NUMERIC NOT NULL,
        ema           NUMERIC NOT NULL,
        deviation_pct NUMERIC NOT NULL,
        direction     TEXT NOT NULL,
        reason        TEXT NOT NULL,
        channels      TEXT[] NOT NULL DEFAULT '{}',
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS alerts_created_at_idx ON alerts (created_at DESC);`

	loadStateSQL = `SELECT ema_reset, last_price, last_rising
    FROM alert_states
    WHERE job = $1;`

	saveStateSQL = `INSERT INTO alert_states (
        job,
        ema_reset,
        last_price,
        last_rising,
        updated_at
    ) VALUES (
        $1,$2,$3,$4,now()
    )
    ON CONFLICT (job) DO UPDATE
    SET
        ema_reset   = EXCLUDED.ema_reset,
        last_price  = EXCLUDED.last_price,
        last_rising = EXCLUDED.last_rising,
        updated_at  = EXCLUDED.updated_at;`

	insertAlertSQL = `INSERT INTO alerts (
        job,
        product,
        price,
        ema,
        deviation_pct,
        direction,
        reason,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        job,
        product,
        price::text,
        ema::text,
        deviation_pct::text,
        direction,
        reason,
        channels,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AlertRecord captures an emitted alert for auditing.
type AlertRecord struct {
	ID           int64
	Job          string
	Product      string
	Price        decimal.Decimal
	EMA          decimal.Decimal
	DeviationPct decimal.Decimal
	Direction    string
	Reason       string
	Channels     []string
	CreatedAt    time.Time
}

// Postgres aggregates access to alert state and the alert audit log.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Postgres) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables used by the store if they are missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the session lock dies with the connection if this fails
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Load reads the job's state, falling back to the default state.
func (s *Postgres) Load(ctx context.Context, job string) (signal.AlertState, error) {
	pool, err := s.getPool()
	if err != nil {
		return signal.DefaultState(), fmt.Errorf("%w: %v", ErrStateUnreadable, err)
	}

	var state signal.AlertState
	scanErr := pool.QueryRow(ctx, loadStateSQL, job).Scan(&state.EMAReset, &state.LastPrice, &state.LastRising)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return signal.DefaultState(), nil
		}
		return signal.DefaultState(), fmt.Errorf("%w: %v", ErrStateUnreadable, scanErr)
	}
	return state, nil
}

// Save upserts the job's state row.
func (s *Postgres) Save(ctx context.Context, job string, state signal.AlertState) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, saveStateSQL, job, state.EMAReset, state.LastPrice, state.LastRising); execErr != nil {
		return fmt.Errorf("save state: %w", execErr)
	}
	return nil
}

// InsertAlert persists an alert emission.
func (s *Postgres) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Job,
		alert.Product,
		alert.Price.String(),
		alert.EMA.String(),
		alert.DeviationPct.String(),
		alert.Direction,
		alert.Reason,
		channels,
	)

	rec := alert
	rec.Channels = channels
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Postgres) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts and reports how many went.
func (s *Postgres) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

func scanAlert(rows pgx.Rows) (AlertRecord, error) {
	var (
		rec                            AlertRecord
		priceStr, emaStr, deviationStr string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.Job,
		&rec.Product,
		&priceStr,
		&emaStr,
		&deviationStr,
		&rec.Direction,
		&rec.Reason,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}

	var convErr error
	if rec.Price, convErr = decimal.NewFromString(priceStr); convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse price: %w", convErr)
	}
	if rec.EMA, convErr = decimal.NewFromString(emaStr); convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse ema: %w", convErr)
	}
	if rec.DeviationPct, convErr = decimal.NewFromString(deviationStr); convErr != nil {
		return AlertRecord{}, fmt.Errorf("parse deviation pct: %w", convErr)
	}
	return rec, nil
}

var (
	_ StateStore     = (*Postgres)(nil)
	_ AlertStore     = (*Postgres)(nil)
	_ AdvisoryLocker = (*Postgres)(nil)
)
