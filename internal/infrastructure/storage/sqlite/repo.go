package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

// Repo persists alerts and notifications in a single sqlite file. Decimal
// thresholds are stored as TEXT so they round-trip exactly; timestamps are
// unix milliseconds.
type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

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
  target_price TEXT NOT NULL DEFAULT '0',
  percent_change TEXT NOT NULL DEFAULT '0',
  base_price TEXT NOT NULL DEFAULT '0',
  portfolio_threshold TEXT NOT NULL DEFAULT '0',
  condition TEXT NOT NULL DEFAULT '',
  timeframe TEXT NOT NULL DEFAULT '',
  notify_via TEXT NOT NULL DEFAULT '',
  custom_message TEXT NOT NULL DEFAULT '',
  recurring INTEGER NOT NULL DEFAULT 0,
  armed INTEGER NOT NULL DEFAULT 1,
  current_price REAL NOT NULL DEFAULT 0,
  last_checked_at INTEGER,
  check_count INTEGER NOT NULL DEFAULT 0,
  triggered_at INTEGER,
  triggered_price REAL NOT NULL DEFAULT 0,
  expires_at INTEGER,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
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
  data TEXT NOT NULL DEFAULT '{}',
  read INTEGER NOT NULL DEFAULT 0,
  created_at INTEGER NOT NULL,
  expires_at INTEGER
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
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Owner, a.Symbol, string(a.Asset), string(a.Kind), string(a.Status),
		a.TargetPrice.String(), a.PercentChange.String(), a.BasePrice.String(),
		a.PortfolioThreshold.String(), a.Condition,
		a.Timeframe, a.NotifyVia, a.CustomMessage, boolInt(a.Recurring), boolInt(a.Armed),
		a.CurrentPrice, msOrNull(a.LastCheckedAt), a.CheckCount, msOrNull(a.TriggeredAt), a.TriggeredPrice,
		msOrNull(a.ExpiresAt), a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli())
	return err
}

func (r *Repo) UpdateAlert(ctx context.Context, a *domain.Alert) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET
			status=?, target_price=?, percent_change=?, base_price=?, portfolio_threshold=?,
			condition=?, timeframe=?, notify_via=?, custom_message=?, recurring=?, armed=?,
			current_price=?, last_checked_at=?, check_count=?, triggered_at=?, triggered_price=?,
			expires_at=?, updated_at=?
		WHERE id=?
	`, string(a.Status), a.TargetPrice.String(), a.PercentChange.String(), a.BasePrice.String(),
		a.PortfolioThreshold.String(),
		a.Condition, a.Timeframe, a.NotifyVia, a.CustomMessage, boolInt(a.Recurring), boolInt(a.Armed),
		a.CurrentPrice, msOrNull(a.LastCheckedAt), a.CheckCount, msOrNull(a.TriggeredAt), a.TriggeredPrice,
		msOrNull(a.ExpiresAt), a.UpdatedAt.UnixMilli(), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return port.ErrNotFound
	}
	return nil
}

const alertColumns = `id, owner, symbol, asset, kind, status,
	target_price, percent_change, base_price, portfolio_threshold, condition,
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
		recurring, armed                 int
		lastChecked, triggered, expires  sql.NullInt64
		createdAt, updatedAt             int64
	)
	err := row.Scan(&a.ID, &a.Owner, &a.Symbol, &asset, &kind, &status,
		&target, &percent, &base, &portfolio, &a.Condition,
		&a.Timeframe, &a.NotifyVia, &a.CustomMessage, &recurring, &armed,
		&a.CurrentPrice, &lastChecked, &a.CheckCount, &triggered, &a.TriggeredPrice,
		&expires, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.Asset = domain.AssetType(asset)
	a.Kind = domain.AlertKind(kind)
	a.Status = domain.AlertStatus(status)
	a.Recurring = recurring != 0
	a.Armed = armed != 0
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
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id=?`, id)
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
		q += ` AND owner=?`
		args = append(args, f.Owner)
	}
	if f.Status != "" {
		q += ` AND status=?`
		args = append(args, string(f.Status))
	}
	if f.Symbol != "" {
		q += ` AND symbol=?`
		args = append(args, f.Symbol)
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return r.queryAlerts(ctx, q, args...)
}

func (r *Repo) ListEvaluable(ctx context.Context, kinds []domain.AlertKind) ([]*domain.Alert, error) {
	if len(kinds) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(kinds)), ",")
	args := make([]any, 0, len(kinds))
	for _, k := range kinds {
		args = append(args, string(k))
	}
	q := `SELECT ` + alertColumns + ` FROM alerts WHERE status='active' AND kind IN (` + placeholders + `) ORDER BY id`
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
		FROM alerts WHERE owner=? GROUP BY status
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
		WHERE status IN ('triggered', 'expired', 'cancelled') AND updated_at < ?
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
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.ID, n.Owner, n.Type, n.Title, n.Message, string(data), boolInt(n.Read),
		n.CreatedAt.UnixMilli(), msOrNull(n.ExpiresAt))
	return err
}

func (r *Repo) ListNotifications(ctx context.Context, owner string, unreadOnly bool) ([]*domain.Notification, error) {
	q := `SELECT id, owner, type, title, message, data, read, created_at, expires_at
		FROM notifications WHERE owner=?`
	if unreadOnly {
		q += ` AND read=0`
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
			read      int
			createdAt int64
			expires   sql.NullInt64
		)
		if err := rows.Scan(&n.ID, &n.Owner, &n.Type, &n.Title, &n.Message, &data, &read, &createdAt, &expires); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
			return nil, fmt.Errorf("bad notification data for %s: %w", n.ID, err)
		}
		n.Read = read != 0
		n.CreatedAt = time.UnixMilli(createdAt).UTC()
		n.ExpiresAt = timeOrNil(expires)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (r *Repo) MarkNotificationsRead(ctx context.Context, owner string, ids []string) (int64, error) {
	q := `UPDATE notifications SET read=1 WHERE owner=? AND read=0`
	args := []any{owner}
	if len(ids) > 0 {
		q += ` AND id IN (` + strings.TrimRight(strings.Repeat("?,", len(ids)), ",") + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) DeleteExpiredNotifications(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at < ?
	`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ port.AlertRepository        = (*Repo)(nil)
	_ port.NotificationRepository = (*Repo)(nil)
)
