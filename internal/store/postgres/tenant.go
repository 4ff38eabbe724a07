package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/austindbirch/tml_hook/internal/tenant"
)

// TenantStore keeps tenant_settings rows.
type TenantStore struct {
	pool *pgxpool.Pool
}

func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

func (s *TenantStore) Lookup(ctx context.Context, tenantID int64) (tenant.Settings, error) {
	const op = "postgres.TenantStore.Lookup"
	var st tenant.Settings
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, enabled, client_id, client_secret, store_name, store_url, contact_email, updated_at
		FROM tenant_settings
		WHERE tenant_id = $1`, tenantID,
	).Scan(&st.TenantID, &st.Enabled, &st.ClientID, &st.ClientSecret,
		&st.StoreName, &st.StoreURL, &st.ContactEmail, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return tenant.Settings{}, fmt.Errorf("%s: %w", op, tenant.ErrNotFound)
	}
	if err != nil {
		return tenant.Settings{}, fmt.Errorf("%s: %w", op, err)
	}
	st.UpdatedAt = st.UpdatedAt.UTC()
	return st, nil
}

func (s *TenantStore) Save(ctx context.Context, st tenant.Settings) error {
	const op = "postgres.TenantStore.Save"
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenant_settings (tenant_id, enabled, client_id, client_secret, store_name, store_url, contact_email, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (tenant_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			store_name = EXCLUDED.store_name,
			store_url = EXCLUDED.store_url,
			contact_email = EXCLUDED.contact_email,
			updated_at = now()`,
		st.TenantID, st.Enabled, st.ClientID, st.ClientSecret, st.StoreName, st.StoreURL, st.ContactEmail,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
