// Package store persists carriers, users, and blocked IPs. Three backends
// implement Store: an in-memory map, SQLite, and PostgreSQL.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/carrier-cli/internal/model"
)

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrDuplicateEmail is returned when creating a user whose email is taken.
	ErrDuplicateEmail = eris.New("store: email already registered")
	// ErrAdminUndeletable is returned when deleting a user with the admin role.
	ErrAdminUndeletable = eris.New("store: admin users cannot be deleted")
)

// CarrierPatch is a partial update of a carrier's enrichment columns.
// Build one with InsurancePatch or SafetyPatch.
type CarrierPatch struct {
	InsurancePolicies []model.InsurancePolicy
	Safety            *model.SafetyRecord
	setInsurance      bool
}

// InsurancePatch replaces the insurance policies.
func InsurancePatch(policies []model.InsurancePolicy) CarrierPatch {
	if policies == nil {
		policies = []model.InsurancePolicy{}
	}
	return CarrierPatch{InsurancePolicies: policies, setInsurance: true}
}

// SafetyPatch replaces the safety rating, rating date, BASIC scores, and
// OOS rates.
func SafetyPatch(rec *model.SafetyRecord) CarrierPatch {
	return CarrierPatch{Safety: rec}
}

// HasInsurance reports whether the patch replaces the insurance policies.
func (p CarrierPatch) HasInsurance() bool { return p.setInsurance }

// HasSafety reports whether the patch replaces the safety columns.
func (p CarrierPatch) HasSafety() bool { return p.Safety != nil }

// apply merges the patch into c.
func (p CarrierPatch) apply(c *model.Carrier) {
	if p.setInsurance {
		c.InsurancePolicies = p.InsurancePolicies
	}
	if p.Safety != nil {
		c.ApplySafety(p.Safety)
	}
}

// CarrierStore is the carrier persistence gateway.
type CarrierStore interface {
	// UpsertCarrier inserts c or replaces the row with the same MC number.
	UpsertCarrier(ctx context.Context, c model.Carrier) error
	// ListCarriers returns every carrier, most recently created first.
	ListCarriers(ctx context.Context) ([]model.Carrier, error)
	// UpdatePartial applies patch to every carrier with the given DOT
	// number. Matching no rows is not an error.
	UpdatePartial(ctx context.Context, dot string, patch CarrierPatch) error
}

// UserStore is the user and IP-blocklist repository.
type UserStore interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	// CreateUser stores u, assigning an ID when empty. The email is stored
	// normalized.
	CreateUser(ctx context.Context, u *model.User) error
	// UpdateUser replaces every mutable field of the user with u.ID.
	UpdateUser(ctx context.Context, u model.User) error
	DeleteUser(ctx context.Context, id string) error

	ListBlockedIPs(ctx context.Context) ([]model.BlockedIP, error)
	BlockIP(ctx context.Context, ip, reason string) error
	UnblockIP(ctx context.Context, ip string) error
	IsIPBlocked(ctx context.Context, ip string) (bool, error)
}

// Store is the full persistence interface.
type Store interface {
	CarrierStore
	UserStore

	Migrate(ctx context.Context) error
	Close() error
}

func blockReason(reason string) string {
	if reason == "" {
		return model.DefaultBlockReason
	}
	return reason
}

func now() time.Time {
	return time.Now().UTC()
}
