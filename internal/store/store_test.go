package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/carrier-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// backends runs fn against every embedded backend.
func backends(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestSQLiteStore(t)) })
}

func sampleCarrier(mc, dot, name string) model.Carrier {
	return model.Carrier{
		MCNumber:                mc,
		DOTNumber:               dot,
		LegalName:               name,
		EntityType:              "CARRIER",
		Status:                  "AUTHORIZED FOR Property",
		Email:                   "ops@example.com",
		ScrapedAt:               time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		OperationClassification: []string{"Auth. For Hire"},
		CarrierOperation:        []string{"Interstate"},
		CargoCarried:            []string{"General Freight"},
	}
}

func TestUpsertCarrier_IdempotentLatestWins(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		require.NoError(t, st.UpsertCarrier(ctx, sampleCarrier("100", "200", "First Name")))
		require.NoError(t, st.UpsertCarrier(ctx, sampleCarrier("100", "200", "Second Name")))

		list, err := st.ListCarriers(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Second Name", list[0].LegalName)
		assert.Equal(t, []string{"General Freight"}, list[0].CargoCarried)
		assert.True(t, list[0].ScrapedAt.Equal(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)))
	})
}

func TestListCarriers_NewestFirst(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		for _, mc := range []string{"1", "2", "3"} {
			require.NoError(t, st.UpsertCarrier(ctx, sampleCarrier(mc, "D"+mc, "C"+mc)))
		}

		list, err := st.ListCarriers(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, "3", list[0].MCNumber)
		assert.Equal(t, "1", list[2].MCNumber)
	})
}

func TestUpdatePartial_OnlyEnrichmentColumns(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.UpsertCarrier(ctx, sampleCarrier("100", "200", "Acme")))
		require.NoError(t, st.UpsertCarrier(ctx, sampleCarrier("101", "201", "Other")))

		policies := []model.InsurancePolicy{{DOT: "200", Carrier: "ACE", CoverageAmount: "$1,000,000", Type: "BI&PD", Class: "PRIMARY"}}
		require.NoError(t, st.UpdatePartial(ctx, "200", InsurancePatch(policies)))
		require.NoError(t, st.UpdatePartial(ctx, "200", SafetyPatch(&model.SafetyRecord{
			Rating:      "SATISFACTORY",
			RatingDate:  "01/01/2020",
			BasicScores: []model.BasicScore{{Category: "Unsafe Driving", Measure: "1.5"}},
			OosRates:    []model.OosRate{{Type: "Driver", Rate: "2%", NationalAvg: "5%"}},
		})))

		list, err := st.ListCarriers(ctx)
		require.NoError(t, err)
		byMC := map[string]model.Carrier{}
		for _, c := range list {
			byMC[c.MCNumber] = c
		}

		acme := byMC["100"]
		assert.Equal(t, "Acme", acme.LegalName)
		assert.Equal(t, "ops@example.com", acme.Email)
		assert.Equal(t, policies, acme.InsurancePolicies)
		assert.Equal(t, "SATISFACTORY", acme.SafetyRating)
		assert.Equal(t, "01/01/2020", acme.SafetyRatingDate)
		assert.Len(t, acme.BasicScores, 1)
		assert.Len(t, acme.OosRates, 1)

		other := byMC["101"]
		assert.Empty(t, other.InsurancePolicies)
		assert.Empty(t, other.SafetyRating)
	})
}

func TestUpdatePartial_NoMatchIsNotError(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		assert.NoError(t, st.UpdatePartial(context.Background(), "nope", InsurancePatch(nil)))
		assert.NoError(t, st.UpdatePartial(context.Background(), "nope", CarrierPatch{}))
	})
}

func TestUsers_CreateGetUpdate(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		u := &model.User{Name: "Jo", Email: " Jo@Example.com ", Role: model.RoleUser, Plan: model.PlanFree, DailyLimit: 100}
		require.NoError(t, st.CreateUser(ctx, u))
		assert.NotEmpty(t, u.ID)
		assert.Equal(t, "jo@example.com", u.Email)

		got, err := st.GetUserByEmail(ctx, "JO@EXAMPLE.COM")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, model.PlanFree, got.Plan)

		got.RecordsExtractedToday = 42
		got.IsOnline = true
		got.IPAddress = "10.0.0.1"
		require.NoError(t, st.UpdateUser(ctx, *got))

		again, err := st.GetUserByEmail(ctx, "jo@example.com")
		require.NoError(t, err)
		assert.Equal(t, 42, again.RecordsExtractedToday)
		assert.True(t, again.IsOnline)
		assert.Equal(t, "10.0.0.1", again.IPAddress)

		users, err := st.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 1)
	})
}

func TestUsers_DuplicateEmailIgnoresCase(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		require.NoError(t, st.CreateUser(ctx, &model.User{Email: "a@b.com", Role: model.RoleUser}))
		err := st.CreateUser(ctx, &model.User{Email: "A@B.COM", Role: model.RoleUser})
		assert.ErrorIs(t, err, ErrDuplicateEmail)
	})
}

func TestUsers_NotFound(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		_, err := st.GetUserByEmail(ctx, "missing@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, st.UpdateUser(ctx, model.User{ID: "missing"}), ErrNotFound)
		assert.ErrorIs(t, st.DeleteUser(ctx, "missing"), ErrNotFound)
	})
}

func TestDeleteUser_RefusesAdmin(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		admin := &model.User{Email: "admin@example.com", Role: model.RoleAdmin}
		user := &model.User{Email: "user@example.com", Role: model.RoleUser}
		require.NoError(t, st.CreateUser(ctx, admin))
		require.NoError(t, st.CreateUser(ctx, user))

		assert.ErrorIs(t, st.DeleteUser(ctx, admin.ID), ErrAdminUndeletable)
		require.NoError(t, st.DeleteUser(ctx, user.ID))

		users, err := st.ListUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, admin.ID, users[0].ID)
	})
}

func TestBlockedIPs(t *testing.T) {
	backends(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		blocked, err := st.IsIPBlocked(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.False(t, blocked)

		require.NoError(t, st.BlockIP(ctx, "1.2.3.4", ""))
		require.NoError(t, st.BlockIP(ctx, "5.6.7.8", "abuse"))

		blocked, err = st.IsIPBlocked(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, blocked)

		list, err := st.ListBlockedIPs(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		reasons := map[string]string{}
		for _, b := range list {
			reasons[b.IP] = b.Reason
		}
		assert.Equal(t, model.DefaultBlockReason, reasons["1.2.3.4"])
		assert.Equal(t, "abuse", reasons["5.6.7.8"])

		require.NoError(t, st.UnblockIP(ctx, "1.2.3.4"))
		assert.ErrorIs(t, st.UnblockIP(ctx, "1.2.3.4"), ErrNotFound)

		blocked, err = st.IsIPBlocked(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.False(t, blocked)
	})
}

func TestSQLite_MigrateIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Migrate(context.Background()))
}

func TestCarrierRowRoundTrip(t *testing.T) {
	c := sampleCarrier("9", "10", "Row Co")
	c.InsurancePolicies = []model.InsurancePolicy{{DOT: "10", Carrier: "X"}}

	row, err := toCarrierRow(c)
	require.NoError(t, err)
	assert.Equal(t, `["General Freight"]`, row.CargoCarried)
	assert.Equal(t, "[]", row.BasicScores)
	assert.Len(t, row.args(), len(carrierColumns))
	assert.Len(t, row.dest(), len(carrierColumns))

	back, err := row.toModel()
	require.NoError(t, err)
	assert.Equal(t, c.InsurancePolicies, back.InsurancePolicies)
	assert.Equal(t, c.CargoCarried, back.CargoCarried)
}
