package rates

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/signing"
	"github.com/austindbirch/tml_hook/internal/tenant"
	"github.com/austindbirch/tml_hook/internal/tmlapi"
)

// Poster is the transport the client posts through.
type Poster interface {
	Post(ctx context.Context, url string, body []byte, header http.Header) (tmlapi.Response, error)
}

type quoteRequest struct {
	TotalWeightInGrams int    `json:"totalWeightInGrams"`
	PostalCode         string `json:"postalCode"`
}

// Client calls the signed carrier rates endpoint.
type Client struct {
	client   Poster
	tenants  tenant.Source
	resolver tmlapi.Resolver
	provider string
	logger   *logging.Logger
}

func NewClient(client Poster, tenants tenant.Source, resolver tmlapi.Resolver, provider string, logger *logging.Logger) *Client {
	if provider == "" {
		provider = tmlapi.DefaultProvider
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{client: client, tenants: tenants, resolver: resolver, provider: provider, logger: logger}
}

// Quote asks TML for the price of shipping grams to postalCode.
func (c *Client) Quote(ctx context.Context, tenantID int64, grams int, postalCode string) (Rate, error) {
	s, err := c.tenants.Lookup(ctx, tenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		return Rate{}, &tmlapi.ConfigError{TenantID: tenantID, Detail: "no settings"}
	}
	if err != nil {
		return Rate{}, fmt.Errorf("load tenant %d settings: %w", tenantID, err)
	}
	creds := s.Credentials()

	body, err := tmlapi.Marshal(quoteRequest{TotalWeightInGrams: grams, PostalCode: postalCode})
	if err != nil {
		return Rate{}, err
	}
	sig := signing.Sign([]string{c.provider, creds.ClientID}, string(body), creds.ClientSecret)

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(tmlapi.HeaderProvider, c.provider)
	h.Set(tmlapi.HeaderClientID, creds.ClientID)
	h.Set(tmlapi.HeaderSignature, sig)

	c.logger.WithContext(ctx).WithTenant(tenantID).WithFields(map[string]any{
		"postal_code": postalCode,
		"grams":       grams,
	}).Debug("sending rates request")

	resp, err := c.client.Post(ctx, c.resolver.CarrierRates(), body, h)
	if err != nil {
		return Rate{}, err
	}
	return parseRate(resp.Body)
}
