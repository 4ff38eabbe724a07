package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/tmlapi"
)

// provisionProvider is the X-Provider value the /stores endpoint expects.
const provisionProvider = "magento"

// Profile describes the store registered with TML on first enable.
type Profile struct {
	StoreName    string
	StoreEmail   string
	StoreDomain  string
	Country      string
	Province     string
	MainLanguage string
	MainCurrency string
	MainTimezone string
	Edition      string
}

type storeRequest struct {
	ProviderWebsiteID   int64  `json:"providerWebsiteId"`
	ProviderStoreName   string `json:"providerStoreName"`
	ProviderStoreEmail  string `json:"providerStoreEmail"`
	ProviderStoreDomain string `json:"providerStoreDomain"`
	Country             string `json:"country"`
	Province            string `json:"province"`
	MainLanguage        string `json:"mainLanguage"`
	MainCurrency        string `json:"mainCurrency"`
	MainTimezone        string `json:"mainTimezone"`
	Edition             string `json:"edition"`
}

type storeResponse struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// Poster is the transport the provisioner posts through.
type Poster interface {
	Post(ctx context.Context, url string, body []byte, header http.Header) (tmlapi.Response, error)
}

// Provisioner switches tenants on and registers them with TML.
type Provisioner struct {
	store    Store
	client   Poster
	resolver tmlapi.Resolver
	cache    Invalidator
	logger   *logging.Logger
}

func NewProvisioner(store Store, client Poster, resolver tmlapi.Resolver, cache Invalidator, logger *logging.Logger) *Provisioner {
	if logger == nil {
		logger = logging.Default()
	}
	return &Provisioner{store: store, client: client, resolver: resolver, cache: cache, logger: logger}
}

// Enable turns tenantID on. Only the off to on transition registers the
// store; enabling an enabled tenant returns its settings unchanged. The
// enabled flag is saved before the API call and stays set if the call
// fails, in which case the error is returned with the saved settings.
func (p *Provisioner) Enable(ctx context.Context, tenantID int64, profile Profile) (Settings, error) {
	cur, err := p.store.Lookup(ctx, tenantID)
	if errors.Is(err, ErrNotFound) {
		cur = Settings{TenantID: tenantID}
	} else if err != nil {
		return Settings{}, fmt.Errorf("load tenant %d: %w", tenantID, err)
	}
	if cur.Enabled {
		return cur, nil
	}

	cur.Enabled = true
	cur.StoreName = profile.StoreName
	cur.StoreURL = profile.StoreDomain
	cur.ContactEmail = profile.StoreEmail
	if err := p.save(ctx, cur); err != nil {
		return Settings{}, err
	}

	log := p.logger.WithContext(ctx).WithTenant(tenantID)
	creds, err := p.register(ctx, tenantID, profile)
	if err != nil {
		log.WithError(err).Error("tenant registration failed")
		return cur, fmt.Errorf("register tenant %d: %w", tenantID, err)
	}

	changed := false
	if v := strings.TrimSpace(creds.ClientID); v != "" {
		cur.ClientID = v
		changed = true
	}
	if v := strings.TrimSpace(creds.ClientSecret); v != "" {
		cur.ClientSecret = v
		changed = true
	}
	if !changed {
		log.Warn("tenant registration returned no credentials")
		return cur, nil
	}
	if err := p.save(ctx, cur); err != nil {
		return cur, err
	}
	log.Info("tenant registered")
	return cur, nil
}

// Disable turns tenantID off and keeps its credentials.
func (p *Provisioner) Disable(ctx context.Context, tenantID int64) (Settings, error) {
	cur, err := p.store.Lookup(ctx, tenantID)
	if err != nil {
		return Settings{}, fmt.Errorf("load tenant %d: %w", tenantID, err)
	}
	if !cur.Enabled {
		return cur, nil
	}
	cur.Enabled = false
	if err := p.save(ctx, cur); err != nil {
		return Settings{}, err
	}
	return cur, nil
}

func (p *Provisioner) save(ctx context.Context, s Settings) error {
	if err := p.store.Save(ctx, s); err != nil {
		return fmt.Errorf("save tenant %d: %w", s.TenantID, err)
	}
	if p.cache != nil {
		if err := p.cache.Invalidate(ctx, s.TenantID); err != nil {
			p.logger.WithContext(ctx).WithTenant(s.TenantID).WithError(err).Warn("tenant cache invalidation failed")
		}
	}
	return nil
}

func (p *Provisioner) register(ctx context.Context, tenantID int64, profile Profile) (storeResponse, error) {
	body, err := tmlapi.Marshal(storeRequest{
		ProviderWebsiteID:   tenantID,
		ProviderStoreName:   profile.StoreName,
		ProviderStoreEmail:  profile.StoreEmail,
		ProviderStoreDomain: profile.StoreDomain,
		Country:             profile.Country,
		Province:            profile.Province,
		MainLanguage:        profile.MainLanguage,
		MainCurrency:        profile.MainCurrency,
		MainTimezone:        profile.MainTimezone,
		Edition:             profile.Edition,
	})
	if err != nil {
		return storeResponse{}, err
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(tmlapi.HeaderProvider, provisionProvider)

	resp, err := p.client.Post(ctx, p.resolver.Stores(), body, h)
	if err != nil {
		return storeResponse{}, err
	}

	var out storeResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return storeResponse{}, fmt.Errorf("decode stores response: %w", err)
	}
	return out, nil
}
