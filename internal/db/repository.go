// Repository implements app.Repository over the schema created by Migrate.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pushi-dev/pushi/internal/app"
	"github.com/pushi-dev/pushi/internal/logger"
)

// Repository is the PostgreSQL-backed app.Repository implementation.
type Repository struct {
	db *Database
}

// NewRepository wraps a Database as an app.Repository.
func NewRepository(db *Database) *Repository {
	return &Repository{db: db}
}

var _ app.Repository = (*Repository)(nil)

func (r *Repository) CreateApp(ctx context.Context, a *app.App) error {
	_, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO apps (id, key, secret, name, smtp_url, apn_key, apn_cer, vapid_key, vapid_public, vapid_email)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.Key, a.Secret, a.Name, a.SMTPURL, a.APNKey, a.APNCert, a.VapidKey, a.VapidPublic, a.VapidEmail)
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}
	return nil
}

func (r *Repository) scanApp(row *sql.Row) (*app.App, error) {
	var a app.App
	var smtpURL, apnKey, apnCert, vapidKey, vapidPublic, vapidEmail sql.NullString
	err := row.Scan(&a.ID, &a.Key, &a.Secret, &a.Name, &smtpURL, &apnKey, &apnCert, &vapidKey, &vapidPublic, &vapidEmail)
	if err != nil {
		return nil, err
	}
	a.SMTPURL = smtpURL.String
	a.APNKey = apnKey.String
	a.APNCert = apnCert.String
	a.VapidKey = vapidKey.String
	a.VapidPublic = vapidPublic.String
	a.VapidEmail = vapidEmail.String
	return &a, nil
}

const appColumns = `id, key, secret, name, smtp_url, apn_key, apn_cer, vapid_key, vapid_public, vapid_email`

func (r *Repository) GetApp(ctx context.Context, id string) (*app.App, error) {
	row := r.db.DB().QueryRowContext(ctx, `SELECT `+appColumns+` FROM apps WHERE id = $1`, id)
	a, err := r.scanApp(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("app %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get app: %w", err)
	}
	return a, nil
}

func (r *Repository) GetAppByKey(ctx context.Context, key string) (*app.App, error) {
	row := r.db.DB().QueryRowContext(ctx, `SELECT `+appColumns+` FROM apps WHERE key = $1`, key)
	a, err := r.scanApp(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("app with key %s not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get app by key: %w", err)
	}
	return a, nil
}

func (r *Repository) ListApps(ctx context.Context) ([]*app.App, error) {
	rows, err := r.db.DB().QueryContext(ctx, `SELECT `+appColumns+` FROM apps ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list apps: %w", err)
	}
	defer rows.Close()

	var out []*app.App
	for rows.Next() {
		var a app.App
		var smtpURL, apnKey, apnCert, vapidKey, vapidPublic, vapidEmail sql.NullString
		if err := rows.Scan(&a.ID, &a.Key, &a.Secret, &a.Name, &smtpURL, &apnKey, &apnCert, &vapidKey, &vapidPublic, &vapidEmail); err != nil {
			return nil, fmt.Errorf("scan app: %w", err)
		}
		a.SMTPURL, a.APNKey, a.APNCert, a.VapidKey, a.VapidPublic, a.VapidEmail = smtpURL.String, apnKey.String, apnCert.String, vapidKey.String, vapidPublic.String, vapidEmail.String
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *Repository) UpdateApp(ctx context.Context, a *app.App) error {
	_, err := r.db.DB().ExecContext(ctx, `
		UPDATE apps SET name = $2, smtp_url = $3, apn_key = $4, apn_cer = $5,
			vapid_key = $6, vapid_public = $7, vapid_email = $8, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1`,
		a.ID, a.Name, a.SMTPURL, a.APNKey, a.APNCert, a.VapidKey, a.VapidPublic, a.VapidEmail)
	if err != nil {
		return fmt.Errorf("update app: %w", err)
	}
	return nil
}

// LoadApps reads every app eagerly at startup; a failure here aborts
// startup per spec section 4.8.
func (r *Repository) LoadApps(ctx context.Context) ([]*app.App, error) {
	apps, err := r.ListApps(ctx)
	if err != nil {
		logger.Database().Error().Err(err).Msg("failed to load apps at startup")
		return nil, err
	}
	return apps, nil
}

func (r *Repository) LoadPersonalSubs(ctx context.Context) ([]app.PersonalSub, error) {
	rows, err := r.db.DB().QueryContext(ctx, `SELECT app_id, user_id, event FROM subs_personal`)
	if err != nil {
		return nil, fmt.Errorf("load personal subs: %w", err)
	}
	defer rows.Close()

	var out []app.PersonalSub
	for rows.Next() {
		var s app.PersonalSub
		if err := rows.Scan(&s.AppID, &s.UserID, &s.Event); err != nil {
			return nil, fmt.Errorf("scan personal sub: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func adapterTable(adapter string) (table string, extraCols []string, ok bool) {
	switch adapter {
	case "mobile":
		return "subs_mobile", nil, true
	case "webhook":
		return "subs_webhook", nil, true
	case "email":
		return "subs_email", nil, true
	case "web_push":
		return "subs_web_push", []string{"p256dh", "auth"}, true
	default:
		return "", nil, false
	}
}

func (r *Repository) LoadAdapterSubs(ctx context.Context, adapter string) ([]app.AdapterSub, error) {
	table, extraCols, ok := adapterTable(adapter)
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q", adapter)
	}

	cols := "app_id, target, event"
	for _, c := range extraCols {
		cols += ", " + c
	}

	rows, err := r.db.DB().QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s`, cols, table))
	if err != nil {
		return nil, fmt.Errorf("load %s subs: %w", adapter, err)
	}
	defer rows.Close()

	var out []app.AdapterSub
	for rows.Next() {
		var s app.AdapterSub
		s.Extras = make(map[string]string)

		dest := []interface{}{&s.AppID, &s.Target, &s.Event}
		extraVals := make([]string, len(extraCols))
		for i := range extraCols {
			dest = append(dest, &extraVals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s sub: %w", adapter, err)
		}
		for i, col := range extraCols {
			s.Extras[col] = extraVals[i]
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) AddPersonalSub(ctx context.Context, s app.PersonalSub) error {
	_, err := r.db.DB().ExecContext(ctx, `
		INSERT INTO subs_personal (app_id, user_id, event) VALUES ($1, $2, $3)
		ON CONFLICT (app_id, user_id, event) DO NOTHING`, s.AppID, s.UserID, s.Event)
	if err != nil {
		return fmt.Errorf("add personal sub: %w", err)
	}
	return nil
}

func (r *Repository) RemovePersonalSub(ctx context.Context, s app.PersonalSub) error {
	_, err := r.db.DB().ExecContext(ctx, `
		DELETE FROM subs_personal WHERE app_id = $1 AND user_id = $2 AND event = $3`,
		s.AppID, s.UserID, s.Event)
	if err != nil {
		return fmt.Errorf("remove personal sub: %w", err)
	}
	return nil
}

func (r *Repository) AddAdapterSub(ctx context.Context, adapter string, s app.AdapterSub) error {
	table, extraCols, ok := adapterTable(adapter)
	if !ok {
		return fmt.Errorf("unknown adapter %q", adapter)
	}

	cols := []string{"app_id", "target", "event"}
	vals := []interface{}{s.AppID, s.Target, s.Event}
	for _, c := range extraCols {
		cols = append(cols, c)
		vals = append(vals, s.Extras[c])
	}

	placeholders := ""
	for i := range cols {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (app_id, target, event) DO NOTHING`, table, joinCols(cols), placeholders)
	if _, err := r.db.DB().ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("add %s sub: %w", adapter, err)
	}
	return nil
}

func (r *Repository) RemoveAdapterSub(ctx context.Context, adapter string, appID, target, event string) error {
	table, _, ok := adapterTable(adapter)
	if !ok {
		return fmt.Errorf("unknown adapter %q", adapter)
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE app_id = $1 AND target = $2 AND event = $3`, table)
	if _, err := r.db.DB().ExecContext(ctx, query, appID, target, event); err != nil {
		return fmt.Errorf("remove %s sub: %w", adapter, err)
	}
	return nil
}

// AppendEvent writes the event log row and its per-subscriber assoc rows.
// Failure here is logged by the caller and never blocks live fan-out
// (spec section 4.2, step 2 and section 4.8).
func (r *Repository) AppendEvent(ctx context.Context, rec app.EventRecord, userIDs []string) error {
	tx, err := r.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (mid, app_id, channel, owner_id, timestamp, data)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.MID, rec.AppID, rec.Channel, nullIfEmpty(rec.OwnerID), rec.Timestamp, rec.Data)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	for _, uid := range userIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO assoc (app_id, mid, user_id) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, rec.AppID, rec.MID, uid); err != nil {
			return fmt.Errorf("insert assoc: %w", err)
		}
	}

	return tx.Commit()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}
