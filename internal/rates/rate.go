// Package rates quotes TML shipping prices for a checkout.
package rates

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "ARS"

// Rate is one quote returned by the carrier rates endpoint.
type Rate struct {
	ServiceName     string          `json:"serviceName"`
	ServiceCode     string          `json:"serviceCode"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	Currency        string          `json:"currency"`
	Description     *string         `json:"description,omitempty"`
	MinDeliveryDate *string         `json:"minDeliveryDate,omitempty"`
	MaxDeliveryDate *string         `json:"maxDeliveryDate,omitempty"`
}

// ErrInvalidResponse means the endpoint answered 2xx with something other
// than a JSON object.
var ErrInvalidResponse = errors.New("rates: response is not a JSON object")

// parseRate reads a rates response body. Missing fields take their zero
// value; totalPrice accepts a number or a string with a decimal comma.
func parseRate(body []byte) (Rate, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil || m == nil {
		return Rate{}, ErrInvalidResponse
	}

	r := Rate{
		ServiceName:     stringField(m, "serviceName"),
		ServiceCode:     stringField(m, "serviceCode"),
		TotalPrice:      price(m["totalPrice"]),
		Currency:        stringField(m, "currency"),
		Description:     optionalField(m, "description"),
		MinDeliveryDate: optionalField(m, "minDeliveryDate"),
		MaxDeliveryDate: optionalField(m, "maxDeliveryDate"),
	}
	if r.Currency == "" {
		r.Currency = DefaultCurrency
	}
	return r, nil
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func optionalField(m map[string]any, key string) *string {
	if m[key] == nil {
		return nil
	}
	s := stringField(m, key)
	return &s
}

func price(v any) decimal.Decimal {
	var s string
	switch p := v.(type) {
	case json.Number:
		s = p.String()
	case string:
		s = strings.ReplaceAll(strings.TrimSpace(p), ",", ".")
	default:
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// GramsFromWeight converts a package weight in unit to whole grams. Units
// other than lbs are read as kilograms.
func GramsFromWeight(weight float64, unit string) int {
	if weight <= 0 {
		return 0
	}
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "lbs", "lb":
		return int(math.Round(weight * 453.59237))
	default:
		return int(math.Round(weight * 1000))
	}
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func formatDate(s *string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, strings.TrimSpace(*s)); err == nil {
			return t.Format("02/01/2006")
		}
	}
	return ""
}

func deliveryWindow(earliest, latest *string) string {
	from, to := formatDate(earliest), formatDate(latest)
	switch {
	case from != "" && to != "":
		return "Entrega estimada: " + from + " al " + to
	case from != "":
		return "Entrega estimada desde: " + from
	case to != "":
		return "Entrega estimada hasta: " + to
	}
	return ""
}

// MethodTitle is the checkout label for r.
func MethodTitle(r Rate) string {
	parts := []string{r.ServiceName}
	if r.Description != nil && *r.Description != "" {
		parts = append(parts, *r.Description)
	}
	if w := deliveryWindow(r.MinDeliveryDate, r.MaxDeliveryDate); w != "" {
		parts = append(parts, w)
	}
	return strings.Join(parts, " · ")
}
