package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/austindbirch/tml_hook/internal/tenant"
)

type TenantStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewTenantStore(db *sql.DB) *TenantStore {
	return &TenantStore{db: db, now: time.Now}
}

func (s *TenantStore) Lookup(ctx context.Context, tenantID int64) (tenant.Settings, error) {
	const op = "sqlite.TenantStore.Lookup"
	var (
		st        tenant.Settings
		updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, enabled, client_id, client_secret, store_name, store_url, contact_email, updated_at
		FROM tenant_settings
		WHERE tenant_id = ?`, tenantID,
	).Scan(&st.TenantID, &st.Enabled, &st.ClientID, &st.ClientSecret,
		&st.StoreName, &st.StoreURL, &st.ContactEmail, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Settings{}, fmt.Errorf("%s: %w", op, tenant.ErrNotFound)
	}
	if err != nil {
		return tenant.Settings{}, fmt.Errorf("%s: %w", op, err)
	}
	st.UpdatedAt = fromMicros(updatedAt)
	return st, nil
}

func (s *TenantStore) Save(ctx context.Context, st tenant.Settings) error {
	const op = "sqlite.TenantStore.Save"
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenant_settings (tenant_id, enabled, client_id, client_secret, store_name, store_url, contact_email, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id) DO UPDATE SET
			enabled = excluded.enabled,
			client_id = excluded.client_id,
			client_secret = excluded.client_secret,
			store_name = excluded.store_name,
			store_url = excluded.store_url,
			contact_email = excluded.contact_email,
			updated_at = excluded.updated_at`,
		st.TenantID, st.Enabled, st.ClientID, st.ClientSecret, st.StoreName, st.StoreURL, st.ContactEmail,
		toMicros(s.now()),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
