package rates

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/metrics"
	"github.com/austindbirch/tml_hook/internal/tenant"
)

const (
	CarrierCode      = "tml"
	supportedCountry = "AR"
)

// Quoter is satisfied by *Client.
type Quoter interface {
	Quote(ctx context.Context, tenantID int64, grams int, postalCode string) (Rate, error)
}

// Request is a checkout asking for shipping methods.
type Request struct {
	TenantID      int64   `json:"tenant_id"`
	PostalCode    string  `json:"postal_code"`
	CountryID     string  `json:"country_id"`
	PackageWeight float64 `json:"package_weight"`
	WeightUnit    string  `json:"weight_unit"`
}

// Method is the shipping option offered at checkout.
type Method struct {
	Carrier      string          `json:"carrier"`
	CarrierTitle string          `json:"carrier_title"`
	Method       string          `json:"method"`
	MethodTitle  string          `json:"method_title"`
	Price        decimal.Decimal `json:"price"`
	Cost         decimal.Decimal `json:"cost"`
	Rate         Rate            `json:"rate"`
}

// Carrier turns checkout requests into at most one TML method.
type Carrier struct {
	quoter  Quoter
	tenants tenant.Source
	title   string
	logger  *logging.Logger
}

func NewCarrier(quoter Quoter, tenants tenant.Source, title string, logger *logging.Logger) *Carrier {
	if title == "" {
		title = "TML"
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Carrier{quoter: quoter, tenants: tenants, title: title, logger: logger}
}

// Collect returns the TML method for req. ok is false when the tenant is
// off, the destination is incomplete or outside Argentina, or no rate came
// back; the reason is logged.
func (c *Carrier) Collect(ctx context.Context, req Request) (m Method, ok bool) {
	log := c.logger.WithContext(ctx).WithTenant(req.TenantID)

	enabled, err := tenant.Enabled(ctx, c.tenants, req.TenantID)
	if err != nil {
		log.WithError(err).Error("tenant lookup failed")
		metrics.RecordRateQuote("error")
		return Method{}, false
	}
	if !enabled {
		log.Info("rates skipped, tenant disabled")
		metrics.RecordRateQuote("skipped")
		return Method{}, false
	}

	postalCode := strings.TrimSpace(req.PostalCode)
	if postalCode == "" {
		log.Warn("rates skipped, no postal code")
		metrics.RecordRateQuote("skipped")
		return Method{}, false
	}
	if country := strings.ToUpper(strings.TrimSpace(req.CountryID)); country != supportedCountry {
		log.WithField("country", country).Warn("rates skipped, country not supported")
		metrics.RecordRateQuote("skipped")
		return Method{}, false
	}

	grams := GramsFromWeight(req.PackageWeight, req.WeightUnit)
	rate, err := c.quoter.Quote(ctx, req.TenantID, grams, postalCode)
	if err != nil {
		log.WithError(err).WithFields(map[string]any{"postal_code": postalCode, "grams": grams}).
			Warn("no rate returned from API")
		metrics.RecordRateQuote("no_rate")
		return Method{}, false
	}

	price := decimal.Max(decimal.Zero, rate.TotalPrice)
	metrics.RecordRateQuote("ok")
	return Method{
		Carrier:      CarrierCode,
		CarrierTitle: c.title,
		Method:       CarrierCode,
		MethodTitle:  MethodTitle(rate),
		Price:        price,
		Cost:         price,
		Rate:         rate,
	}, true
}
