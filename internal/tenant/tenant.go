// Package tenant holds per-tenant TML settings: the enable flag, the API
// credentials and the store profile sent when a tenant is provisioned.
package tenant

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("tenant: settings not found")

// Settings is one tenant_settings row.
type Settings struct {
	TenantID     int64     `json:"tenant_id"`
	Enabled      bool      `json:"enabled"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	StoreName    string    `json:"store_name"`
	StoreURL     string    `json:"store_url"`
	ContactEmail string    `json:"contact_email"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Credentials returns the signing pair for this tenant.
func (s Settings) Credentials() Credentials {
	return Credentials{ClientID: s.ClientID, ClientSecret: s.ClientSecret}
}

type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Complete reports whether both halves of the pair are set.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

// Source reads settings on demand. Lookup returns ErrNotFound for unknown
// tenants.
type Source interface {
	Lookup(ctx context.Context, tenantID int64) (Settings, error)
}

// Store is the durable settings table.
type Store interface {
	Source
	// Save upserts s by TenantID.
	Save(ctx context.Context, s Settings) error
}

// Invalidator drops any cached copy of a tenant's settings.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID int64) error
}

// Enabled reports whether the tenant is switched on. Unknown tenants are
// disabled.
func Enabled(ctx context.Context, src Source, tenantID int64) (bool, error) {
	s, err := src.Lookup(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.Enabled, nil
}
