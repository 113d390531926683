package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

// Repo is the postgres-backed alert and notification store, mirroring the
// sqlite schema with NUMERIC thresholds and millisecond BIGINT timestamps.
type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS alerts (
  id TEXT PRIMARY KEY,
  owner TEXT NOT NULL,
  symbol TEXT NOT NULL,
  asset TEXT NOT NULL,
  kind TEXT NOT NULL,
  status TEXT NOT NULL,
  target_price NUMERIC NOT NULL DEFAULT 0,
  percent_change NUMERIC NOT NULL DEFAULT 0,
  base_price NUMERIC NOT NULL DEFAULT 0,
  portfolio_threshold NUMERIC NOT NULL DEFAULT 0,
  condition TEXT NOT NULL DEFAULT '',
  timeframe TEXT NOT NULL DEFAULT '',
  notify_via TEXT NOT NULL DEFAULT '',
  custom_message TEXT NOT NULL DEFAULT '',
  recurring BOOLEAN NOT NULL DEFAULT FALSE,
  armed BOOLEAN NOT NULL DEFAULT TRUE,
  current_price DOUBLE PRECISION NOT NULL DEFAULT 0,
  last_checked_at BIGINT,
  check_count INTEGER NOT NULL DEFAULT 0,
  triggered_at BIGINT,
  triggered_price DOUBLE PRECISION NOT NULL DEFAULT 0,
  expires_at BIGINT,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_owner ON alerts(owner);
CREATE INDEX IF NOT EXISTS idx_alerts_status_kind ON alerts(status, kind);
CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol);

CREATE TABLE IF NOT EXISTS notifications (
  id TEXT PRIMARY KEY,
  owner TEXT NOT NULL,
  type TEXT NOT NULL,
  title TEXT NOT NULL,
  message TEXT NOT NULL,
  data JSONB NOT NULL DEFAULT '{}',
  read BOOLEAN NOT NULL DEFAULT FALSE,
  created_at BIGINT NOT NULL,
  expires_at BIGINT
);
CREATE INDEX IF NOT EXISTS idx_notifications_owner ON notifications(owner, read);
CREATE INDEX IF NOT EXISTS idx_notifications_expires ON notifications(expires_at);
`)
	return err
}

func msOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func (r *Repo) InsertAlert(ctx context.Context, a *domain.Alert) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts(
			id, owner, symbol, asset, kind, status,
			target_price, percent_change, base_price, portfolio_threshold, condition,
			timeframe, notify_via, custom_message, recurring, armed,
			current_price, last_checked_at, check_count, triggered_at, triggered_price,
			expires_at, created_at, updated_at
		) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`, a.ID, a.Owner, a.Symbol, string(a.Asset), string(a.Kind), string(a.Status),
		a.TargetPrice.String(), a.PercentChange.String(), a.BasePrice.String(),
		a.PortfolioThreshold.String(), a.Condition,
		a.Timeframe, a.NotifyVia, a.CustomMessage, a.Recurring, a.Armed,
		a.CurrentPrice, msOrNull(a.LastCheckedAt), a.CheckCount, msOrNull(a.TriggeredAt), a.TriggeredPrice,
		msOrNull(a.ExpiresAt), a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli())
	return err
}

func (r *Repo) UpdateAlert(ctx context.Context, a *domain.Alert) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET
			status=$1, target_price=$2, percent_change=$3, base_price=$4, portfolio_threshold=$5,
			condition=$6, timeframe=$7, notify_via=$8, custom_message=$9, recurring=$10, armed=$11,
			current_price=$12, last_checked_at=$13, check_count=$14, triggered_at=$15,
			triggered_price=$16, expires_at=$17, updated_at=$18
		WHERE id=$19
	`, string(a.Status), a.TargetPrice.String(), a.PercentChange.String(), a.BasePrice.String(),
		a.PortfolioThreshold.String(),
		a.Condition, a.Timeframe, a.NotifyVia, a.CustomMessage, a.Recurring, a.Armed,
		a.CurrentPrice, msOrNull(a.LastCheckedAt), a.CheckCount, msOrNull(a.TriggeredAt),
		a.TriggeredPrice, msOrNull(a.ExpiresAt), a.UpdatedAt.UnixMilli(), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return port.ErrNotFound
	}
	return nil
}

const alertColumns = `id, owner, symbol, asset, kind, status,
	target_price::text, percent_change::text, base_price::text, portfolio_threshold::text, condition,
	timeframe, notify_via, custom_message, recurring, armed,
	current_price, last_checked_at, check_count, triggered_at, triggered_price,
	expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var (
		a                                domain.Alert
		asset, kind, status              string
		target, percent, base, portfolio string
		lastChecked, triggered, expires  sql.NullInt64
		createdAt, updatedAt             int64
	)
	err := row.Scan(&a.ID, &a.Owner, &a.Symbol, &asset, &kind, &status,
		&target, &percent, &base, &portfolio, &a.Condition,
		&a.Timeframe, &a.NotifyVia, &a.CustomMessage, &a.Recurring, &a.Armed,
		&a.CurrentPrice, &lastChecked, &a.CheckCount, &triggered, &a.TriggeredPrice,
		&expires, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.Asset = domain.AssetType(asset)
	a.Kind = domain.AlertKind(kind)
	a.Status = domain.AlertStatus(status)
	a.LastCheckedAt = timeOrNil(lastChecked)
	a.TriggeredAt = timeOrNil(triggered)
	a.ExpiresAt = timeOrNil(expires)
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	a.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	if a.TargetPrice, err = decimal.NewFromString(target); err != nil {
		return nil, fmt.Errorf("bad target_price %q: %w", target, err)
	}
	if a.PercentChange, err = decimal.NewFromString(percent); err != nil {
		return nil, fmt.Errorf("bad percent_change %q: %w", percent, err)
	}
	if a.BasePrice, err = decimal.NewFromString(base); err != nil {
		return nil, fmt.Errorf("bad base_price %q: %w", base, err)
	}
	if a.PortfolioThreshold, err = decimal.NewFromString(portfolio); err != nil {
		return nil, fmt.Errorf("bad portfolio_threshold %q: %w", portfolio, err)
	}
	return &a, nil
}

func (r *Repo) GetAlert(ctx context.Context, id string) (*domain.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=$1`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.ErrNotFound
	}
	return a, err
}

func (r *Repo) ListAlerts(ctx context.Context, f port.AlertFilter) ([]*domain.Alert, error) {
	q := `SELECT ` + alertColumns + ` FROM alerts WHERE 1=1`
	args := make([]any, 0, 4)
	if f.Owner != "" {
		args = append(args, f.Owner)
		q += fmt.Sprintf(` AND owner=$%d`, len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		q += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	if f.Symbol != "" {
		args = append(args, f.Symbol)
		q += fmt.Sprintf(` AND symbol=$%d`, len(args))
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return r.queryAlerts(ctx, q, args...)
}

func (r *Repo) ListEvaluable(ctx context.Context, kinds []domain.AlertKind) ([]*domain.Alert, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(kinds))
	placeholders := make([]string, 0, len(kinds))
	for _, k := range kinds {
		args = append(args, string(k))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	q := `SELECT ` + alertColumns + ` FROM alerts WHERE status='active' AND kind IN (` +
		strings.Join(placeholders, ",") + `) ORDER BY id`
	return r.queryAlerts(ctx, q, args...)
}

func (r *Repo) queryAlerts(ctx context.Context, q string, args ...any) ([]*domain.Alert, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repo) AlertStats(ctx context.Context, owner string) (port.AlertStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(check_count), 0)
		FROM alerts WHERE owner=$1 GROUP BY status
	`, owner)
	if err != nil {
		return port.AlertStats{}, err
	}
	defer rows.Close()

	var st port.AlertStats
	for rows.Next() {
		var status string
		var count, checks int
		if err := rows.Scan(&status, &count, &checks); err != nil {
			return port.AlertStats{}, err
		}
		st.Total += count
		st.TotalChecks += checks
		switch domain.AlertStatus(status) {
		case domain.StatusActive:
			st.Active = count
		case domain.StatusTriggered:
			st.Triggered = count
		case domain.StatusExpired:
			st.Expired = count
		case domain.StatusCancelled:
			st.Cancelled = count
		}
	}
	return st, rows.Err()
}

func (r *Repo) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM alerts
		WHERE status IN ('triggered', 'expired', 'cancelled') AND updated_at < $1
	`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) InsertNotification(ctx context.Context, n *domain.Notification) error {
	data, err := json.Marshal(n.Data)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO notifications(id, owner, type, title, message, data, read, created_at, expires_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, n.Owner, n.Type, n.Title, n.Message, string(data), n.Read,
		n.CreatedAt.UnixMilli(), msOrNull(n.ExpiresAt))
	return err
}

func (r *Repo) ListNotifications(ctx context.Context, owner string, unreadOnly bool) ([]*domain.Notification, error) {
	q := `SELECT id, owner, type, title, message, data::text, read, created_at, expires_at
		FROM notifications WHERE owner=$1`
	if unreadOnly {
		q += ` AND read=FALSE`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		var (
			n         domain.Notification
			data      string
			createdAt int64
			expires   sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.Owner, &n.Type, &n.Title, &n.Message, &data, &n.Read, &createdAt, &expires); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
			return nil, fmt.Errorf("bad notification data for %s: %w", n.ID, err)
		}
		n.CreatedAt = time.UnixMilli(createdAt).UTC()
		n.ExpiresAt = timeOrNil(expires)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (r *Repo) MarkNotificationsRead(ctx context.Context, owner string, ids []string) (int64, error) {
	q := `UPDATE notifications SET read=TRUE WHERE owner=$1 AND read=FALSE`
	args := []any{owner}
	if len(ids) > 0 {
		placeholders := make([]string, 0, len(ids))
		for _, id := range ids {
			args = append(args, id)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		q += ` AND id IN (` + strings.Join(placeholders, ",") + `)`
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) DeleteExpiredNotifications(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at < $1
	`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

var (
	_ port.AlertRepository        = (*Repo)(nil)
	_ port.NotificationRepository = (*Repo)(nil)
)
