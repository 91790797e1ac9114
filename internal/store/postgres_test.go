package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/carrier-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS carriers`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCarrier(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	args := anyArgs(len(carrierColumns))
	args[0] = "100"
	args[1] = "200"
	mock.ExpectExec(`INSERT INTO "carriers" .* ON CONFLICT \("mc_number"\) DO UPDATE SET .*"updated_at" = now\(\)`).
		WithArgs(args...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertCarrier(context.Background(), sampleCarrier("100", "200", "Acme")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCarriers(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	scraped := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows(carrierColumns).AddRow(
		"100", "200", "Acme", "", "CARRIER", "AUTHORIZED", "a@b.com", "", "5", "6", "", "",
		scraped, "", "", `["Auth. For Hire"]`, `[]`, `["General Freight"]`, "", "", "",
		`[{"dot":"200","carrier":"ACE"}]`, "SATISFACTORY", "01/01/2020", `[]`, `[]`,
	)
	mock.ExpectQuery(`SELECT mc_number, .*insurance_policies::text.* FROM carriers ORDER BY created_at DESC`).
		WillReturnRows(rows)

	list, err := s.ListCarriers(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Acme", list[0].LegalName)
	assert.Equal(t, []string{"Auth. For Hire"}, list[0].OperationClassification)
	require.Len(t, list[0].InsurancePolicies, 1)
	assert.Equal(t, "ACE", list[0].InsurancePolicies[0].Carrier)
	assert.True(t, list[0].ScrapedAt.Equal(scraped))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdatePartial_Insurance(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE carriers SET insurance_policies = \$1::jsonb, updated_at = now\(\) WHERE dot_number = \$2`).
		WithArgs(`[{"dot":"200","carrier":"ACE","policyNumber":"","effectiveDate":"","coverageAmount":"","type":"","class":""}]`, "200").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.UpdatePartial(context.Background(), "200", InsurancePatch([]model.InsurancePolicy{{DOT: "200", Carrier: "ACE"}}))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdatePartial_Safety(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE carriers SET safety_rating = \$1, safety_rating_date = \$2, basic_scores = \$3::jsonb, oos_rates = \$4::jsonb, updated_at = now\(\) WHERE dot_number = \$5`).
		WithArgs("CONDITIONAL", "N/A", "[]", "[]", "200").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdatePartial(context.Background(), "200", SafetyPatch(&model.SafetyRecord{Rating: "CONDITIONAL", RatingDate: "N/A"}))
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetUserByEmail_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, name, email, .* FROM users WHERE email = \$1`).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetUserByEmail(context.Background(), "Nobody@Example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateUser_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO users`).
		WithArgs(anyArgs(len(userColumns))...).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})

	err := s.CreateUser(context.Background(), &model.User{Email: "a@b.com"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateUser_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE users SET`).
		WithArgs(anyArgs(len(userColumns))...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateUser(context.Background(), model.User{ID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteUser_RefusesAdmin(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT role FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs("admin-1").
		WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("admin"))
	mock.ExpectRollback()

	err := s.DeleteUser(context.Background(), "admin-1")
	assert.ErrorIs(t, err, ErrAdminUndeletable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_DeleteUser(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT role FROM users`).
		WithArgs("u-1").
		WillReturnRows(pgxmock.NewRows([]string{"role"}).AddRow("user"))
	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs("u-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteUser(context.Background(), "u-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BlockIP_DefaultReason(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "blocked_ips" .* ON CONFLICT \("ip"\) DO UPDATE`).
		WithArgs("9.9.9.9", model.DefaultBlockReason, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.BlockIP(context.Background(), "9.9.9.9", ""))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_IsIPBlocked(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("9.9.9.9").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	blocked, err := s.IsIPBlocked(context.Background(), "9.9.9.9")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UnblockIP_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM blocked_ips`).
		WithArgs("1.1.1.1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.ErrorIs(t, s.UnblockIP(context.Background(), "1.1.1.1"), ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
