package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/carrier-cli/internal/db"
	"github.com/sells-group/carrier-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
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
	date_scraped             TIMESTAMPTZ NOT NULL,
	mcs150_date              TEXT NOT NULL DEFAULT '',
	mcs150_mileage           TEXT NOT NULL DEFAULT '',
	operation_classification JSONB NOT NULL DEFAULT '[]',
	carrier_operation        JSONB NOT NULL DEFAULT '[]',
	cargo_carried            JSONB NOT NULL DEFAULT '[]',
	out_of_service_date      TEXT NOT NULL DEFAULT '',
	state_carrier_id         TEXT NOT NULL DEFAULT '',
	duns_number              TEXT NOT NULL DEFAULT '',
	insurance_policies       JSONB NOT NULL DEFAULT '[]',
	safety_rating            TEXT NOT NULL DEFAULT '',
	safety_rating_date       TEXT NOT NULL DEFAULT '',
	basic_scores             JSONB NOT NULL DEFAULT '[]',
	oos_rates                JSONB NOT NULL DEFAULT '[]',
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_carriers_dot_number ON carriers(dot_number);
CREATE INDEX IF NOT EXISTS idx_carriers_created_at ON carriers(created_at DESC);

CREATE TABLE IF NOT EXISTS users (
	id                      TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name                    TEXT NOT NULL DEFAULT '',
	email                   TEXT NOT NULL UNIQUE,
	role                    TEXT NOT NULL DEFAULT 'user',
	plan                    TEXT NOT NULL DEFAULT 'Free',
	daily_limit             INTEGER NOT NULL DEFAULT 100,
	records_extracted_today INTEGER NOT NULL DEFAULT 0,
	last_active             TIMESTAMPTZ NOT NULL DEFAULT now(),
	ip_address              TEXT NOT NULL DEFAULT '',
	is_online               BOOLEAN NOT NULL DEFAULT false,
	is_blocked              BOOLEAN NOT NULL DEFAULT false,
	password_hash           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS blocked_ips (
	ip         TEXT PRIMARY KEY,
	reason     TEXT NOT NULL,
	blocked_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

var (
	carrierUpsertSQL = mustUpsertSQL(db.UpsertConfig{
		Table:        "carriers",
		Columns:      carrierColumns,
		ConflictKeys: []string{"mc_number"},
	})
	blockIPSQL = mustUpsertSQL(db.UpsertConfig{
		Table:        "blocked_ips",
		Columns:      []string{"ip", "reason", "blocked_at"},
		ConflictKeys: []string{"ip"},
	})
)

func mustUpsertSQL(cfg db.UpsertConfig) string {
	sql, err := db.UpsertSQL(cfg)
	if err != nil {
		panic(err)
	}
	return sql
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertCarrier(ctx context.Context, c model.Carrier) error {
	row, err := toCarrierRow(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, carrierUpsertSQL+`, "updated_at" = now()`, row.args()...)
	return eris.Wrapf(err, "postgres: upsert carrier %s", c.MCNumber)
}

func (s *PostgresStore) ListCarriers(ctx context.Context) ([]model.Carrier, error) {
	cols := make([]string, len(carrierColumns))
	for i, c := range carrierColumns {
		cols[i] = c
		if isJSONColumn(c) {
			cols[i] = c + "::text"
		}
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+strings.Join(cols, ", ")+` FROM carriers ORDER BY created_at DESC, mc_number`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list carriers")
	}
	defer rows.Close()

	out := []model.Carrier{}
	for rows.Next() {
		var r carrierRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan carrier")
		}
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list carriers iterate")
}

func isJSONColumn(col string) bool {
	switch col {
	case "operation_classification", "carrier_operation", "cargo_carried",
		"insurance_policies", "basic_scores", "oos_rates":
		return true
	}
	return false
}

func (s *PostgresStore) UpdatePartial(ctx context.Context, dot string, patch CarrierPatch) error {
	var sets []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.HasInsurance() {
		text, err := jsonText(patch.InsurancePolicies)
		if err != nil {
			return err
		}
		sets = append(sets, "insurance_policies = "+arg(text)+"::jsonb")
	}
	if patch.HasSafety() {
		rating, date, scores, rates, err := safetyArgs(patch.Safety)
		if err != nil {
			return err
		}
		sets = append(sets,
			"safety_rating = "+arg(rating),
			"safety_rating_date = "+arg(date),
			"basic_scores = "+arg(scores)+"::jsonb",
			"oos_rates = "+arg(rates)+"::jsonb",
		)
	}
	if len(sets) == 0 {
		return nil
	}

	query := `UPDATE carriers SET ` + strings.Join(sets, ", ") + `, updated_at = now() WHERE dot_number = ` + arg(dot)
	_, err := s.pool.Exec(ctx, query, args...)
	return eris.Wrapf(err, "postgres: update carrier dot %s", dot)
}

const postgresUserSelect = `SELECT id, name, email, role, plan, daily_limit, records_extracted_today,
	last_active, ip_address, is_online, is_blocked, password_hash FROM users`

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx, postgresUserSelect+` ORDER BY email`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list users")
	}
	defer rows.Close()

	out := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan user")
		}
		out = append(out, u)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list users iterate")
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, postgresUserSelect+` WHERE email = $1`, model.NormalizeEmail(email)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get user")
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	u.Email = model.NormalizeEmail(u.Email)

	marks := make([]string, len(userColumns))
	for i := range marks {
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+strings.Join(userColumns, ", ")+`) VALUES (`+strings.Join(marks, ", ")+`)`,
		userArgs(*u)...,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return eris.Wrapf(err, "postgres: insert user %s", u.Email)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u model.User) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET name = $2, email = $3, role = $4, plan = $5, daily_limit = $6,
		 records_extracted_today = $7, last_active = $8, ip_address = $9, is_online = $10,
		 is_blocked = $11, password_hash = $12 WHERE id = $1`,
		userArgs(u)...,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update user %s", u.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a non-admin user. The role check and the delete run in
// one transaction.
func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: delete user: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var role string
	err = tx.QueryRow(ctx, `SELECT role FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: lookup user %s", id)
	}
	if model.Role(role) == model.RoleAdmin {
		return ErrAdminUndeletable
	}

	if _, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return eris.Wrapf(err, "postgres: delete user %s", id)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: delete user: commit tx")
}

func (s *PostgresStore) ListBlockedIPs(ctx context.Context) ([]model.BlockedIP, error) {
	rows, err := s.pool.Query(ctx, `SELECT ip, reason, blocked_at FROM blocked_ips ORDER BY blocked_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list blocked ips")
	}
	defer rows.Close()

	out := []model.BlockedIP{}
	for rows.Next() {
		var b model.BlockedIP
		if err := rows.Scan(&b.IP, &b.Reason, &b.BlockedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan blocked ip")
		}
		out = append(out, b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list blocked ips iterate")
}

func (s *PostgresStore) BlockIP(ctx context.Context, ip, reason string) error {
	_, err := s.pool.Exec(ctx, blockIPSQL, ip, blockReason(reason), now())
	return eris.Wrapf(err, "postgres: block ip %s", ip)
}

func (s *PostgresStore) UnblockIP(ctx context.Context, ip string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM blocked_ips WHERE ip = $1`, ip)
	if err != nil {
		return eris.Wrapf(err, "postgres: unblock ip %s", ip)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IsIPBlocked(ctx context.Context, ip string) (bool, error) {
	var blocked bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM blocked_ips WHERE ip = $1)`, ip).Scan(&blocked)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check ip %s", ip)
	}
	return blocked, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
