package model

import (
	"strings"
	"time"
)

// Role is a user's authorization role.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Plan is a subscription plan. Each plan implies a daily extraction ceiling.
type Plan string

const (
	PlanFree       Plan = "Free"
	PlanStarter    Plan = "Starter"
	PlanPro        Plan = "Pro"
	PlanEnterprise Plan = "Enterprise"
)

// User is an account with a daily extraction quota.
type User struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Email                 string    `json:"email"`
	Role                  Role      `json:"role"`
	Plan                  Plan      `json:"plan"`
	DailyLimit            int       `json:"dailyLimit"`
	RecordsExtractedToday int       `json:"recordsExtractedToday"`
	LastActive            time.Time `json:"lastActive"`
	IPAddress             string    `json:"ipAddress"`
	IsOnline              bool      `json:"isOnline"`
	IsBlocked             bool      `json:"isBlocked"`
	PasswordHash          string    `json:"-"`
}

// IsAdmin reports whether the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// NormalizeEmail lowercases and trims an email for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// BlockedIP is a client address refused by the scrape endpoints.
type BlockedIP struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blockedAt"`
}

// DefaultBlockReason is stored when an IP is blocked without a reason.
const DefaultBlockReason = "No reason provided"
