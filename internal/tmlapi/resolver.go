package tmlapi

import "strings"

// Mode selects which API base URL the resolver hands out.
type Mode string

const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

const (
	DefaultDevBaseURL  = "http://host.docker.internal:8080"
	DefaultProdBaseURL = "http://localhost:8080"
)

// ParseMode maps a config value to a Mode. Anything that is not a
// development alias is production.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "development", "developer", "dev":
		return ModeDevelopment
	default:
		return ModeProduction
	}
}

// Resolver builds TML API endpoint URLs.
type Resolver struct {
	Mode        Mode
	DevBaseURL  string
	ProdBaseURL string
}

func (r Resolver) BaseURL() string {
	base := r.ProdBaseURL
	if base == "" {
		base = DefaultProdBaseURL
	}
	if r.Mode == ModeDevelopment {
		base = r.DevBaseURL
		if base == "" {
			base = DefaultDevBaseURL
		}
	}
	return strings.TrimRight(base, "/")
}

func (r Resolver) Webhooks() string     { return r.BaseURL() + "/webhooks" }
func (r Resolver) CarrierRates() string { return r.BaseURL() + "/carrier/rates" }
func (r Resolver) Stores() string       { return r.BaseURL() + "/stores" }
