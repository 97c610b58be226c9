package metricstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alerting/internal/config"
	"github.com/frostdev-ops/pma-alerting/internal/database/models"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var aggregateSQL = map[models.Aggregation]string{
	models.AggregationAvg:   "AVG",
	models.AggregationMax:   "MAX",
	models.AggregationMin:   "MIN",
	models.AggregationSum:   "SUM",
	models.AggregationCount: "COUNT",
}

// SQLStore queries a metrics table on sqlite3, postgres or mysql
type SQLStore struct {
	db        *sqlx.DB
	owned     bool
	table     string
	metricCol string
	scopeCol  string
	valueCol  string
	timeCol   string
}

// Open connects to the configured metric store. A sqlite3 store without a
// DSN shares the alerting database passed as shared.
func Open(cfg config.MetricStoreConfig, shared *sqlx.DB) (*SQLStore, error) {
	if cfg.Driver == "sqlite3" && cfg.DSN == "" {
		if shared == nil {
			return nil, fmt.Errorf("metric store: sqlite3 without dsn requires the alerting database")
		}
		return NewSQLStore(shared, cfg)
	}

	driver := strings.ToLower(cfg.Driver)
	switch driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("metric store: unsupported driver %q", cfg.Driver)
	}

	dsn := cfg.DSN
	if driver == "mysql" && !strings.Contains(dsn, "parseTime") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "parseTime=true"
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s metric store: %w", driver, err)
	}
	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	db.SetConnMaxLifetime(time.Hour)

	store, err := NewSQLStore(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	store.owned = true
	return store, nil
}

// NewSQLStore wraps an existing connection. Table and column names are
// validated because they are interpolated into the query text.
func NewSQLStore(db *sqlx.DB, cfg config.MetricStoreConfig) (*SQLStore, error) {
	s := &SQLStore{
		db:        db,
		table:     orDefault(cfg.Table, "storage_metrics"),
		metricCol: orDefault(cfg.MetricColumn, "metric_type"),
		scopeCol:  orDefault(cfg.ScopeColumn, "scope"),
		valueCol:  orDefault(cfg.ValueColumn, "value"),
		timeCol:   orDefault(cfg.TimeColumn, "recorded_at"),
	}
	for _, name := range []string{s.table, s.metricCol, s.scopeCol, s.valueCol, s.timeCol} {
		if !identifier.MatchString(name) {
			return nil, fmt.Errorf("metric store: invalid identifier %q", name)
		}
	}
	return s, nil
}

// Query implements Store
func (s *SQLStore) Query(ctx context.Context, metricType, scope string, start, end time.Time, agg models.Aggregation) (float64, error) {
	fn, ok := aggregateSQL[agg]
	if !ok {
		return 0, fmt.Errorf("unsupported aggregation %q", agg)
	}

	query := fmt.Sprintf(
		`SELECT %s(%s) AS agg, COUNT(%s) AS samples FROM %s WHERE %s = ? AND %s > ? AND %s <= ?`,
		fn, s.valueCol, s.valueCol, s.table, s.metricCol, s.timeCol, s.timeCol)
	args := []interface{}{metricType, start.UTC(), end.UTC()}
	if scope != "" {
		query += fmt.Sprintf(` AND %s = ?`, s.scopeCol)
		args = append(args, scope)
	}

	var row struct {
		Agg     sql.NullFloat64 `db:"agg"`
		Samples int64           `db:"samples"`
	}
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(query), args...); err != nil {
		return 0, fmt.Errorf("query %s over %s: %w", agg, metricType, err)
	}
	if agg == models.AggregationCount {
		return float64(row.Samples), nil
	}
	if row.Samples == 0 || !row.Agg.Valid {
		return 0, ErrNoData
	}
	return row.Agg.Float64, nil
}

// Record appends one sample. It exists for seeding and tests; production
// samples arrive through the collection pipeline.
func (s *SQLStore) Record(ctx context.Context, sample models.MetricSample) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s, %s, %s, %s) VALUES (?, ?, ?, ?)`,
		s.table, s.metricCol, s.scopeCol, s.valueCol, s.timeCol)
	_, err := s.db.ExecContext(ctx, s.db.Rebind(query),
		sample.MetricType, sample.Scope, sample.Value, sample.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("record metric sample: %w", err)
	}
	return nil
}

// Ping checks connectivity to the metric store
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection when the store opened it
func (s *SQLStore) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
