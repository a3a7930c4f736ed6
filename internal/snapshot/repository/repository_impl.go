package repository

import (
	"context"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	snapshotdomain "github.com/smallbiznis/revlens/internal/snapshot/domain"
	pkgdb "github.com/smallbiznis/revlens/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// dbTime scans date values that arrive without column type information.
// Aggregate aliases like MIN(snapshot_date) come back as plain text on the
// sqlite driver and as time.Time on postgres.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var dbTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (t *dbTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported date value of type %T", value)
	}
}

func (t dbTime) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time, nil
}

func (t *dbTime) parse(raw string) error {
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unparseable date %q", raw)
}

type repo struct{}

func Provide() snapshotdomain.Repository {
	return &repo{}
}

func (r *repo) DeleteByDate(ctx context.Context, db *gorm.DB, date time.Time) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM subscription_snapshots WHERE snapshot_date = ?`, date,
	).Error
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, rows []snapshotdomain.Snapshot) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "snapshot_date"}, {Name: "subscription_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"customer_id", "status", "monthly_value", "is_active",
			"is_counted", "is_trial_counted", "discount_percent", "source",
		}),
	}).Create(&rows).Error
}

func (r *repo) CountedRowsByDate(ctx context.Context, db *gorm.DB, date time.Time) ([]snapshotdomain.Snapshot, error) {
	var rows []snapshotdomain.Snapshot
	err := db.WithContext(ctx).Raw(
		`SELECT snapshot_date, subscription_id, customer_id, status, monthly_value,
		 is_active, is_counted, is_trial_counted, discount_percent, source, created_at
		 FROM subscription_snapshots
		 WHERE snapshot_date = ? AND is_counted
		 ORDER BY monthly_value DESC, subscription_id ASC`,
		date,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) TrialingSubscriptionsByDate(ctx context.Context, db *gorm.DB, date time.Time) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Raw(
		`SELECT subscription_id FROM subscription_snapshots
		 WHERE snapshot_date = ? AND status = 'trialing'`,
		date,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) TrialOccurrencesBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]snapshotdomain.TrialOccurrence, error) {
	var raw []struct {
		CustomerID     string
		SubscriptionID string
		MonthlyValue   decimal.Decimal
		FirstTrialDate dbTime
	}
	err := db.WithContext(ctx).Raw(
		`SELECT s.customer_id, s.subscription_id, s.monthly_value, f.first_trial_date
		 FROM (
		   SELECT subscription_id, MIN(snapshot_date) AS first_trial_date
		   FROM subscription_snapshots
		   WHERE is_trial_counted AND snapshot_date BETWEEN ? AND ?
		   GROUP BY subscription_id
		 ) f
		 JOIN subscription_snapshots s
		   ON s.subscription_id = f.subscription_id AND s.snapshot_date = f.first_trial_date
		 ORDER BY f.first_trial_date ASC, s.subscription_id ASC`,
		from, to,
	).Scan(&raw).Error
	if err != nil {
		return nil, err
	}
	rows := make([]snapshotdomain.TrialOccurrence, 0, len(raw))
	for _, row := range raw {
		rows = append(rows, snapshotdomain.TrialOccurrence{
			CustomerID:     row.CustomerID,
			SubscriptionID: row.SubscriptionID,
			MonthlyValue:   row.MonthlyValue,
			FirstTrialDate: row.FirstTrialDate.Time,
		})
	}
	return rows, nil
}

func (r *repo) FirstCountedOnOrAfter(ctx context.Context, db *gorm.DB, customerID string, from time.Time) (*time.Time, error) {
	var row struct {
		FirstCounted dbTime
	}
	err := db.WithContext(ctx).Raw(
		`SELECT MIN(snapshot_date) AS first_counted FROM subscription_snapshots
		 WHERE customer_id = ? AND is_counted AND snapshot_date >= ?`,
		customerID, from,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if !row.FirstCounted.Valid {
		return nil, nil
	}
	first := row.FirstCounted.Time
	return &first, nil
}

func (r *repo) LatestDate(ctx context.Context, db *gorm.DB) (*time.Time, error) {
	var row struct {
		Latest dbTime
	}
	err := db.WithContext(ctx).Raw(
		`SELECT MAX(snapshot_date) AS latest FROM subscription_snapshots`,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if !row.Latest.Valid {
		return nil, nil
	}
	latest := row.Latest.Time
	return &latest, nil
}

func (r *repo) CountByDate(ctx context.Context, db *gorm.DB, date time.Time) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM subscription_snapshots WHERE snapshot_date = ?`, date,
	).Scan(&count).Error
	return count, err
}

func (r *repo) AggregateByDate(ctx context.Context, db *gorm.DB, date time.Time) (snapshotdomain.Aggregate, error) {
	var agg snapshotdomain.Aggregate
	err := db.WithContext(ctx).Raw(
		`SELECT
		   COALESCE(SUM(CASE WHEN is_counted THEN monthly_value ELSE 0 END), 0) AS mrr,
		   COALESCE(SUM(CASE WHEN is_counted THEN 1 ELSE 0 END), 0) AS counted_customers,
		   COALESCE(SUM(CASE WHEN is_trial_counted THEN monthly_value ELSE 0 END), 0) AS trial_pipeline,
		   COALESCE(SUM(CASE WHEN is_trial_counted THEN 1 ELSE 0 END), 0) AS trial_customers
		 FROM subscription_snapshots WHERE snapshot_date = ?`,
		date,
	).Scan(&agg).Error
	return agg, err
}

func (r *repo) ListByDate(ctx context.Context, db *gorm.DB, date time.Time) ([]snapshotdomain.Snapshot, error) {
	var rows []snapshotdomain.Snapshot
	err := db.WithContext(ctx).Raw(
		`SELECT snapshot_date, subscription_id, customer_id, status, monthly_value,
		 is_active, is_counted, is_trial_counted, discount_percent, source, created_at
		 FROM subscription_snapshots WHERE snapshot_date = ?
		 ORDER BY monthly_value DESC, subscription_id ASC`,
		date,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type runRepo struct{}

func ProvideRuns() snapshotdomain.RunRepository {
	return &runRepo{}
}

func (r *runRepo) Claim(ctx context.Context, db *gorm.DB, run *snapshotdomain.Run) (bool, error) {
	result := db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_date"}},
		DoNothing: true,
	}).Create(run)
	if result.Error != nil {
		// Not every driver resolves the conflict target against the
		// unique index; a raised duplicate still means "already claimed".
		if pkgdb.IsDuplicateKeyErr(result.Error) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *runRepo) Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, rows int64, pagesFailed int) error {
	return db.WithContext(ctx).Exec(
		`UPDATE snapshot_runs
		 SET status = ?, rows_written = ?, pages_failed = ?, completed_at = ?
		 WHERE id = ?`,
		snapshotdomain.RunCompleted, rows, pagesFailed, time.Now().UTC(), id,
	).Error
}

func (r *runRepo) Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, cause string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE snapshot_runs
		 SET status = ?, error = ?, completed_at = ?
		 WHERE id = ?`,
		snapshotdomain.RunFailed, cause, time.Now().UTC(), id,
	).Error
}

func (r *runRepo) FindByDate(ctx context.Context, db *gorm.DB, date time.Time) (*snapshotdomain.Run, error) {
	var run snapshotdomain.Run
	err := db.WithContext(ctx).Raw(
		`SELECT id, run_date, status, rows_written, pages_failed, error, started_at, completed_at
		 FROM snapshot_runs WHERE run_date = ?`,
		date,
	).Scan(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == 0 {
		return nil, nil
	}
	return &run, nil
}
