package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/benmccoy/go-nem-collector/internal/models"
	"github.com/benmccoy/go-nem-collector/internal/nemerrors"
)

// DuckDBStore implements DatasetStore on DuckDB for the downstream analytics
// stage, which wants fast analytical queries over the same rows the CSV
// layout carries. The path can be ":memory:" or a database file.
type DuckDBStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewDuckDBStore opens (and initializes) a DuckDB-backed store. The
// connection pool is pinned to a single connection, the recommended pattern
// for a single-writer DuckDB workload.
func NewDuckDBStore(path string, logger *slog.Logger) (*DuckDBStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb at %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &DuckDBStore{db: db, path: path, logger: logger.With("component", "duckdb_store")}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (d *DuckDBStore) initialize() error {
	var fuelCols strings.Builder
	for _, fuel := range models.AllFuelTypes {
		fmt.Fprintf(&fuelCols, "%s DOUBLE,\n", fuel)
	}

	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS telemetry (
			region VARCHAR NOT NULL,
			resolution VARCHAR NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			demand_mw DOUBLE,
			%s
			spot_price DOUBLE,
			temperature_c DOUBLE,
			is_imputed BOOLEAN NOT NULL DEFAULT false,
			imputation_strategy VARCHAR,
			is_suspect BOOLEAN NOT NULL DEFAULT false,
			gap_reason VARCHAR,
			suspect_fields VARCHAR,
			PRIMARY KEY (region, resolution, ts)
		)`, fuelCols.String())

	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create telemetry table: %w", err)
	}
	return nil
}

// Save implements DatasetStore. The delete-then-insert runs in one
// transaction, which both serializes writers per key and keeps the overwrite
// atomic.
func (d *DuckDBStore) Save(ctx context.Context, ds *models.Dataset) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM telemetry WHERE region = ? AND resolution = ? AND ts >= ? AND ts < ?`,
		string(ds.Region), string(ds.Resolution), ds.Requested.Start, ds.Requested.End); err != nil {
		return fmt.Errorf("failed to clear saved range: %w", err)
	}

	cols := []string{"region", "resolution", "ts", "demand_mw"}
	for _, fuel := range models.AllFuelTypes {
		cols = append(cols, string(fuel))
	}
	cols = append(cols, "spot_price", "temperature_c", "is_imputed", "imputation_strategy", "is_suspect", "gap_reason", "suspect_fields")
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	insert := fmt.Sprintf("INSERT INTO telemetry (%s) VALUES (%s)", strings.Join(cols, ", "), placeholders)

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	rows := 0
	for _, e := range ds.Entries() {
		if e.Empty() {
			continue
		}
		args := d.entryArgs(ds, e)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row at %s: %w", e.Timestamp.Format(time.RFC3339), err)
		}
		rows++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save: %w", err)
	}

	d.logger.Info("dataset saved",
		"region", ds.Region,
		"resolution", ds.Resolution,
		"range", ds.Requested.String(),
		"rows", rows)
	return nil
}

func (d *DuckDBStore) entryArgs(ds *models.Dataset, e models.Entry) []interface{} {
	args := []interface{}{string(ds.Region), string(ds.Resolution), e.Timestamp}

	if e.Gap != nil {
		args = append(args, nil) // demand
		for range models.AllFuelTypes {
			args = append(args, nil)
		}
		args = append(args, nil, nil, false, nil, false, string(e.Gap.Reason), nil)
		return args
	}

	rec := e.Record
	args = append(args, rec.Demand)
	for _, fuel := range models.AllFuelTypes {
		if v, ok := rec.Generation[fuel]; ok {
			args = append(args, v)
		} else {
			args = append(args, nil)
		}
	}
	args = append(args, rec.SpotPrice)
	if rec.Temperature != nil {
		args = append(args, *rec.Temperature)
	} else {
		args = append(args, nil)
	}
	args = append(args, rec.Imputed)
	if rec.Imputed {
		args = append(args, string(rec.Strategy))
	} else {
		args = append(args, nil)
	}
	args = append(args, len(rec.Suspect) > 0)
	args = append(args, nil) // gap_reason
	if len(rec.Suspect) > 0 {
		names := make([]string, len(rec.Suspect))
		for i, f := range rec.Suspect {
			names[i] = string(f)
		}
		args = append(args, strings.Join(names, suspectSep))
	} else {
		args = append(args, nil)
	}
	return args
}

// Load implements DatasetStore.
func (d *DuckDBStore) Load(ctx context.Context, region models.Region, res models.Resolution, requested models.Range) (*models.Dataset, error) {
	if err := requested.Validate(); err != nil {
		return nil, nemerrors.InvalidRange("%v", err)
	}

	cols := []string{"ts", "demand_mw"}
	for _, fuel := range models.AllFuelTypes {
		cols = append(cols, string(fuel))
	}
	cols = append(cols, "spot_price", "temperature_c", "is_imputed", "imputation_strategy", "is_suspect", "gap_reason", "suspect_fields")

	query := fmt.Sprintf(
		`SELECT %s FROM telemetry WHERE region = ? AND resolution = ? AND ts >= ? AND ts < ? ORDER BY ts`,
		strings.Join(cols, ", "))

	rows, err := d.db.QueryContext(ctx, query,
		string(region), string(res), requested.Start, requested.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry: %w", err)
	}
	defer rows.Close()

	stored := make(map[time.Time]models.Entry)
	for rows.Next() {
		entry, err := d.scanEntry(rows, region)
		if err != nil {
			return nil, err
		}
		stored[entry.Timestamp] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate telemetry rows: %w", err)
	}

	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: no stored rows for %s %s in %s",
			nemerrors.ErrNotFound, region, res, requested)
	}
	return assemble(region, res, requested, stored, "store:duckdb:"+d.path)
}

func (d *DuckDBStore) scanEntry(rows *sql.Rows, region models.Region) (models.Entry, error) {
	var (
		ts        time.Time
		demand    sql.NullFloat64
		fuels     = make([]sql.NullFloat64, len(models.AllFuelTypes))
		spot      sql.NullFloat64
		temp      sql.NullFloat64
		imputed   bool
		strategy  sql.NullString
		suspect   bool
		gapReason sql.NullString
		suspects  sql.NullString
	)

	dest := []interface{}{&ts, &demand}
	for i := range fuels {
		dest = append(dest, &fuels[i])
	}
	dest = append(dest, &spot, &temp, &imputed, &strategy, &suspect, &gapReason, &suspects)
	if err := rows.Scan(dest...); err != nil {
		return models.Entry{}, fmt.Errorf("failed to scan telemetry row: %w", err)
	}
	ts = ts.In(models.MarketTime)

	if gapReason.Valid && gapReason.String != "" {
		return models.Entry{
			Timestamp: ts,
			Gap:       &models.Gap{Region: region, Timestamp: ts, Reason: models.GapReason(gapReason.String)},
		}, nil
	}

	rec := &models.Record{Region: region, Timestamp: ts, Demand: demand.Float64, SpotPrice: spot.Float64}
	for i, fuel := range models.AllFuelTypes {
		if fuels[i].Valid {
			if rec.Generation == nil {
				rec.Generation = make(map[models.FuelType]float64)
			}
			rec.Generation[fuel] = fuels[i].Float64
		}
	}
	if temp.Valid {
		t := temp.Float64
		rec.Temperature = &t
	}
	rec.Imputed = imputed
	if imputed && strategy.Valid {
		rec.Strategy = models.ImputeStrategy(strategy.String)
	}
	if suspects.Valid && suspects.String != "" {
		for _, name := range strings.Split(suspects.String, suspectSep) {
			rec.Suspect = append(rec.Suspect, models.FieldName(name))
		}
	}
	return models.Entry{Timestamp: ts, Record: rec}, nil
}

// HealthCheck implements DatasetStore.
func (d *DuckDBStore) HealthCheck(ctx context.Context) error {
	var one int
	if err := d.db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("duckdb health check failed: %w", err)
	}
	return nil
}

// Close implements DatasetStore.
func (d *DuckDBStore) Close() error {
	return d.db.Close()
}
