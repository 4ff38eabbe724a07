// Package webhook signs and posts outbox events to the TML webhooks
// endpoint.
package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/metrics"
	"github.com/austindbirch/tml_hook/internal/signing"
	"github.com/austindbirch/tml_hook/internal/tenant"
	"github.com/austindbirch/tml_hook/internal/tmlapi"
	"github.com/austindbirch/tml_hook/internal/tracing"
)

// family is the wire shape of one producer event type.
type family struct {
	header string
	nonce  bool
}

var families = map[string]family{
	"shipment_created": {header: "orders/fulfilled"},
	"order_paid":       {header: "orders/paid", nonce: true},
}

// Poster is the transport the dispatcher posts through.
type Poster interface {
	Post(ctx context.Context, url string, body []byte, header http.Header) (tmlapi.Response, error)
}

type Dispatcher struct {
	client   Poster
	tenants  tenant.Source
	resolver tmlapi.Resolver
	provider string
	logger   *logging.Logger
	newID    func() string
}

type Option func(*Dispatcher)

func WithProvider(p string) Option {
	return func(d *Dispatcher) {
		if p != "" {
			d.provider = p
		}
	}
}

func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithIDSource replaces the random fallback event id generator.
func WithIDSource(f func() string) Option {
	return func(d *Dispatcher) { d.newID = f }
}

func NewDispatcher(client Poster, tenants tenant.Source, resolver tmlapi.Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:   client,
		tenants:  tenants,
		resolver: resolver,
		provider: tmlapi.DefaultProvider,
		logger:   logging.Default(),
		newID:    randomID,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Send encodes payload, signs it with the tenant's credentials and posts it
// once. Any non-2xx response is an error.
func (d *Dispatcher) Send(ctx context.Context, payload any, eventID string, tenantID int64, eventType string) error {
	ctx, span := tracing.StartSpan(ctx, "webhook.send",
		attribute.String("event_type", eventType),
		attribute.Int64("tenant_id", tenantID),
	)
	defer span.End()

	err := d.send(ctx, payload, eventID, tenantID, eventType)
	if err != nil {
		tracing.SetSpanError(ctx, err)
	}
	return err
}

func (d *Dispatcher) send(ctx context.Context, payload any, eventID string, tenantID int64, eventType string) error {
	fam, ok := families[eventType]
	if !ok {
		return &tmlapi.ConfigError{TenantID: tenantID, Detail: fmt.Sprintf("unknown event type %q", eventType)}
	}

	creds, err := d.credentials(ctx, tenantID)
	if err != nil {
		return err
	}

	body, err := tmlapi.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		eventID = d.newID()
		d.logger.WithContext(ctx).WithTenant(tenantID).WithEvent(eventID).
			Warn("empty event id, using random id")
	}
	tracing.AddSpanEvent(ctx, "webhook.sign", attribute.String("event_id", eventID))

	sig := signing.Sign([]string{d.provider, creds.ClientID, fam.header, eventID}, string(body), creds.ClientSecret)

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set(tmlapi.HeaderProvider, d.provider)
	h.Set(tmlapi.HeaderClientID, creds.ClientID)
	h.Set(tmlapi.HeaderEventType, fam.header)
	h.Set(tmlapi.HeaderEventID, eventID)
	if fam.nonce {
		h.Set(tmlapi.HeaderNonce, eventID)
	}
	h.Set(tmlapi.HeaderSignature, sig)

	start := time.Now()
	_, err = d.client.Post(ctx, d.resolver.Webhooks(), body, h)
	latency := time.Since(start)
	if err != nil {
		metrics.RecordDelivery(eventType, "failed", latency)
		var httpErr *tmlapi.HTTPError
		if errors.As(err, &httpErr) {
			d.logger.WithContext(ctx).WithTenant(tenantID).WithEvent(eventID).WithFields(map[string]any{
				"status":   httpErr.Status,
				"response": httpErr.Body,
			}).Warn("webhook non-2xx")
		}
		return err
	}
	metrics.RecordDelivery(eventType, "delivered", latency)
	return nil
}

func (d *Dispatcher) credentials(ctx context.Context, tenantID int64) (tenant.Credentials, error) {
	s, err := d.tenants.Lookup(ctx, tenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		return tenant.Credentials{}, &tmlapi.ConfigError{TenantID: tenantID, Detail: "no settings"}
	}
	if err != nil {
		return tenant.Credentials{}, fmt.Errorf("load tenant %d settings: %w", tenantID, err)
	}
	creds := s.Credentials()
	if !creds.Complete() {
		return tenant.Credentials{}, &tmlapi.ConfigError{TenantID: tenantID, Detail: "missing client credentials"}
	}
	return creds, nil
}

func randomID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
