package tmlapi

import "testing"

func TestResolver(t *testing.T) {
	tests := []struct {
		name     string
		r        Resolver
		wantBase string
	}{
		{"production default", Resolver{Mode: ModeProduction}, DefaultProdBaseURL},
		{"development default", Resolver{Mode: ModeDevelopment}, DefaultDevBaseURL},
		{"empty mode is production", Resolver{}, DefaultProdBaseURL},
		{"custom prod trimmed", Resolver{ProdBaseURL: "https://api.tml.test//"}, "https://api.tml.test"},
		{"custom dev", Resolver{Mode: ModeDevelopment, DevBaseURL: "http://127.0.0.1:9000/", ProdBaseURL: "https://x"}, "http://127.0.0.1:9000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.BaseURL(); got != tt.wantBase {
				t.Errorf("BaseURL() = %q, want %q", got, tt.wantBase)
			}
			if got := tt.r.Webhooks(); got != tt.wantBase+"/webhooks" {
				t.Errorf("Webhooks() = %q", got)
			}
			if got := tt.r.CarrierRates(); got != tt.wantBase+"/carrier/rates" {
				t.Errorf("CarrierRates() = %q", got)
			}
			if got := tt.r.Stores(); got != tt.wantBase+"/stores" {
				t.Errorf("Stores() = %q", got)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := map[string]Mode{
		"development": ModeDevelopment,
		" DEV ":       ModeDevelopment,
		"developer":   ModeDevelopment,
		"production":  ModeProduction,
		"":            ModeProduction,
		"staging":     ModeProduction,
	}
	for in, want := range tests {
		if got := ParseMode(in); got != want {
			t.Errorf("ParseMode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMarshal(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"unicode kept", map[string]string{"city": "Neuquén"}, `{"city":"Neuquén"}`},
		{"html not escaped", map[string]string{"q": "a<b&c>d"}, `{"q":"a<b&c>d"}`},
		{"slashes kept", map[string]string{"url": "https://a.test/x?a=1&b=<2>"}, `{"url":"https://a.test/x?a=1&b=<2>"}`},
		{"no trailing newline", []int{1, 2}, `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := Marshal(func() {}); err == nil {
		t.Error("Marshal(func) error = nil, want unsupported type")
	}
}
