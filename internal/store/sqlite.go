package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/carrier-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS carriers (
	mc_number                TEXT PRIMARY KEY,
	dot_number               TEXT NOT NULL DEFAULT '',
	legal_name               TEXT NOT NULL DEFAULT '',
	dba_name                 TEXT NOT NULL DEFAULT '',
	entity_type              TEXT NOT NULL DEFAULT '',
	status                   TEXT NOT NULL DEFAULT '',
	email                    TEXT NOT NULL DEFAULT '',
	phone                    TEXT NOT NULL DEFAULT '',
	power_units              TEXT NOT NULL DEFAULT '',
	drivers                  TEXT NOT NULL DEFAULT '',
	physical_address         TEXT NOT NULL DEFAULT '',
	mailing_address          TEXT NOT NULL DEFAULT '',
	date_scraped             DATETIME NOT NULL,
	mcs150_date              TEXT NOT NULL DEFAULT '',
	mcs150_mileage           TEXT NOT NULL DEFAULT '',
	operation_classification TEXT NOT NULL DEFAULT '[]',
	carrier_operation        TEXT NOT NULL DEFAULT '[]',
	cargo_carried            TEXT NOT NULL DEFAULT '[]',
	out_of_service_date      TEXT NOT NULL DEFAULT '',
	state_carrier_id         TEXT NOT NULL DEFAULT '',
	duns_number              TEXT NOT NULL DEFAULT '',
	insurance_policies       TEXT NOT NULL DEFAULT '[]',
	safety_rating            TEXT NOT NULL DEFAULT '',
	safety_rating_date       TEXT NOT NULL DEFAULT '',
	basic_scores             TEXT NOT NULL DEFAULT '[]',
	oos_rates                TEXT NOT NULL DEFAULT '[]',
	created_at               DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
	updated_at               DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_carriers_dot_number ON carriers(dot_number);
CREATE INDEX IF NOT EXISTS idx_carriers_created_at ON carriers(created_at);

CREATE TABLE IF NOT EXISTS users (
	id                      TEXT PRIMARY KEY,
	name                    TEXT NOT NULL DEFAULT '',
	email                   TEXT NOT NULL UNIQUE,
	role                    TEXT NOT NULL DEFAULT 'user',
	plan                    TEXT NOT NULL DEFAULT 'Free',
	daily_limit             INTEGER NOT NULL DEFAULT 100,
	records_extracted_today INTEGER NOT NULL DEFAULT 0,
	last_active             DATETIME NOT NULL,
	ip_address              TEXT NOT NULL DEFAULT '',
	is_online               BOOLEAN NOT NULL DEFAULT 0,
	is_blocked              BOOLEAN NOT NULL DEFAULT 0,
	password_hash           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS blocked_ips (
	ip         TEXT PRIMARY KEY,
	reason     TEXT NOT NULL,
	blocked_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// placeholders returns n comma-separated "?" markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *SQLiteStore) UpsertCarrier(ctx context.Context, c model.Carrier) error {
	row, err := toCarrierRow(c)
	if err != nil {
		return err
	}

	updates := make([]string, 0, len(carrierColumns)-1)
	for _, col := range carrierColumns[1:] {
		updates = append(updates, col+" = excluded."+col)
	}
	query := `INSERT INTO carriers (` + strings.Join(carrierColumns, ", ") + `) VALUES (` +
		placeholders(len(carrierColumns)) + `) ON CONFLICT (mc_number) DO UPDATE SET ` +
		strings.Join(updates, ", ") + `, updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now')`

	_, err = s.db.ExecContext(ctx, query, row.args()...)
	return eris.Wrapf(err, "sqlite: upsert carrier %s", c.MCNumber)
}

func (s *SQLiteStore) ListCarriers(ctx context.Context) ([]model.Carrier, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(carrierColumns, ", ")+` FROM carriers ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list carriers")
	}
	defer rows.Close()

	out := []model.Carrier{}
	for rows.Next() {
		var r carrierRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan carrier")
		}
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list carriers iterate")
}

func (s *SQLiteStore) UpdatePartial(ctx context.Context, dot string, patch CarrierPatch) error {
	var sets []string
	var args []any
	if patch.HasInsurance() {
		text, err := jsonText(patch.InsurancePolicies)
		if err != nil {
			return err
		}
		sets = append(sets, "insurance_policies = ?")
		args = append(args, text)
	}
	if patch.HasSafety() {
		rating, date, scores, rates, err := safetyArgs(patch.Safety)
		if err != nil {
			return err
		}
		sets = append(sets, "safety_rating = ?", "safety_rating_date = ?", "basic_scores = ?", "oos_rates = ?")
		args = append(args, rating, date, scores, rates)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, dot)
	_, err := s.db.ExecContext(ctx,
		`UPDATE carriers SET `+strings.Join(sets, ", ")+`, updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now') WHERE dot_number = ?`,
		args...,
	)
	return eris.Wrapf(err, "sqlite: update carrier dot %s", dot)
}

const sqliteUserSelect = `SELECT id, name, email, role, plan, daily_limit, records_extracted_today,
	last_active, ip_address, is_online, is_blocked, password_hash FROM users`

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, sqliteUserSelect+` ORDER BY email`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list users")
	}
	defer rows.Close()

	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan user")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list users iterate")
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, sqliteUserSelect+` WHERE email = ?`, model.NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get user")
	}
	return &u, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.Email = model.NormalizeEmail(u.Email)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (`+strings.Join(userColumns, ", ")+`) VALUES (`+placeholders(len(userColumns))+`)`,
		userArgs(*u)...,
	)
	if isSQLiteUnique(err) {
		return ErrDuplicateEmail
	}
	return eris.Wrapf(err, "sqlite: insert user %s", u.Email)
}

func (s *SQLiteStore) UpdateUser(ctx context.Context, u model.User) error {
	args := userArgs(u)
	args = append(args[1:], u.ID)
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET name = ?, email = ?, role = ?, plan = ?, daily_limit = ?,
		 records_extracted_today = ?, last_active = ?, ip_address = ?, is_online = ?,
		 is_blocked = ?, password_hash = ? WHERE id = ?`,
		args...,
	)
	if isSQLiteUnique(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update user %s", u.ID)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, id string) error {
	var role string
	err := s.db.QueryRowContext(ctx, `SELECT role FROM users WHERE id = ?`, id).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: lookup user %s", id)
	}
	if model.Role(role) == model.RoleAdmin {
		return ErrAdminUndeletable
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ? AND role <> ?`, id, string(model.RoleAdmin))
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete user %s", id)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) ListBlockedIPs(ctx context.Context) ([]model.BlockedIP, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ip, reason, blocked_at FROM blocked_ips ORDER BY blocked_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list blocked ips")
	}
	defer rows.Close()

	out := []model.BlockedIP{}
	for rows.Next() {
		var b model.BlockedIP
		if err := rows.Scan(&b.IP, &b.Reason, &b.BlockedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan blocked ip")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list blocked ips iterate")
}

func (s *SQLiteStore) BlockIP(ctx context.Context, ip, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocked_ips (ip, reason, blocked_at) VALUES (?, ?, ?)
		 ON CONFLICT (ip) DO UPDATE SET reason = excluded.reason, blocked_at = excluded.blocked_at`,
		ip, blockReason(reason), now(),
	)
	return eris.Wrapf(err, "sqlite: block ip %s", ip)
}

func (s *SQLiteStore) UnblockIP(ctx context.Context, ip string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blocked_ips WHERE ip = ?`, ip)
	if err != nil {
		return eris.Wrapf(err, "sqlite: unblock ip %s", ip)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteStore) IsIPBlocked(ctx context.Context, ip string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocked_ips WHERE ip = ?`, ip).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check ip %s", ip)
	}
	return n > 0, nil
}

// helpers

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
