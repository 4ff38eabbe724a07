// Command fake-receiver stands in for the TML API in local runs: it accepts
// webhooks, quotes a flat rate and registers stores.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/austindbirch/tml_hook/internal/config"
	"github.com/austindbirch/tml_hook/internal/logging"
	"github.com/austindbirch/tml_hook/internal/signing"
	"github.com/austindbirch/tml_hook/internal/tmlapi"
)

type receiver struct {
	cfg      config.FakeReceiver
	logger   *logging.Logger
	reqCount atomic.Int64
}

func newReceiver(cfg config.FakeReceiver, logger *logging.Logger) *receiver {
	return &receiver{cfg: cfg, logger: logger}
}

func (rc *receiver) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/webhooks", rc.handleWebhook)
	mux.HandleFunc("/carrier/rates", rc.handleRates)
	mux.HandleFunc("/stores", rc.handleStores)
	return mux
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("fake-receiver")
	defer logger.Sync()

	rc := newReceiver(cfg.FakeReceiver, logger)
	srv := &http.Server{
		Addr:         cfg.FakeReceiver.Port,
		Handler:      rc.routes(),
		ReadTimeout:  cfg.FakeReceiver.ReadTimeout,
		WriteTimeout: cfg.FakeReceiver.WriteTimeout,
		IdleTimeout:  cfg.FakeReceiver.IdleTimeout,
	}

	logger.Plain().WithFields(map[string]any{
		"addr":         srv.Addr,
		"fail_first_n": cfg.FakeReceiver.FailFirstN,
		"verify":       cfg.FakeReceiver.ClientSecret != "",
	}).Info("fake-receiver listening")
	if err := srv.ListenAndServe(); err != nil {
		logger.Plain().WithError(err).Fatal("fake-receiver stopped")
	}
}

// verify checks X-Hmac-Sha256 over the given header values when a secret is
// configured.
func (rc *receiver) verify(r *http.Request, body []byte, headers ...string) (bool, string) {
	if rc.cfg.ClientSecret == "" {
		return true, ""
	}
	sig := r.Header.Get(tmlapi.HeaderSignature)
	if sig == "" {
		return false, "missing signature"
	}
	parts := make([]string, len(headers))
	for i, h := range headers {
		parts[i] = r.Header.Get(h)
	}
	if !signing.Verify(parts, string(body), rc.cfg.ClientSecret, sig) {
		return false, "sig mismatch"
	}
	return true, ""
}

func (rc *receiver) delay() {
	if rc.cfg.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(rc.cfg.ResponseDelayMS) * time.Millisecond)
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	b, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return nil, false
	}
	return b, true
}

func (rc *receiver) handleWebhook(w http.ResponseWriter, r *http.Request) {
	b, ok := readBody(w, r)
	if !ok {
		return
	}
	n := rc.reqCount.Add(1)
	rc.delay()

	log := rc.logger.Plain().WithEvent(r.Header.Get(tmlapi.HeaderEventID)).WithFields(map[string]any{
		"event_type": r.Header.Get(tmlapi.HeaderEventType),
		"client_id":  r.Header.Get(tmlapi.HeaderClientID),
	})

	if ok, msg := rc.verify(r, b, tmlapi.HeaderProvider, tmlapi.HeaderClientID, tmlapi.HeaderEventType, tmlapi.HeaderEventID); !ok {
		log.WithField("reason", msg).Warn("webhook signature rejected")
		http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
		return
	}

	// Simulate flakiness: first N requests -> 500
	if n <= int64(rc.cfg.FailFirstN) {
		log.WithField("body", truncate(string(b), 160)).Warnf("FAILING (%d/%d)", n, rc.cfg.FailFirstN)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.WithField("body", truncate(string(b), 160)).Info("webhook accepted")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

type rateRequest struct {
	TotalWeightInGrams int    `json:"totalWeightInGrams"`
	PostalCode         string `json:"postalCode"`
}

// handleRates quotes 100 per started kilogram, or 404 for postal code 0000.
func (rc *receiver) handleRates(w http.ResponseWriter, r *http.Request) {
	b, ok := readBody(w, r)
	if !ok {
		return
	}
	rc.delay()
	if ok, msg := rc.verify(r, b, tmlapi.HeaderProvider, tmlapi.HeaderClientID); !ok {
		http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
		return
	}

	var req rateRequest
	if err := json.Unmarshal(b, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.PostalCode == "0000" {
		http.Error(w, "no coverage", http.StatusNotFound)
		return
	}

	kilos := (req.TotalWeightInGrams + 999) / 1000
	if kilos < 1 {
		kilos = 1
	}
	earliest := time.Now().AddDate(0, 0, 2).Format("2006-01-02")
	latest := time.Now().AddDate(0, 0, 5).Format("2006-01-02")
	writeJSON(w, map[string]any{
		"serviceName":     "Estándar",
		"serviceCode":     "STD",
		"totalPrice":      fmt.Sprintf("%d,00", kilos*100),
		"currency":        "ARS",
		"minDeliveryDate": earliest,
		"maxDeliveryDate": latest,
	})
}

func (rc *receiver) handleStores(w http.ResponseWriter, r *http.Request) {
	b, ok := readBody(w, r)
	if !ok {
		return
	}
	rc.delay()

	var req map[string]any
	if err := json.Unmarshal(b, &req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	rc.logger.Plain().WithField("store", req["providerStoreName"]).Info("store registered")
	writeJSON(w, map[string]string{
		"clientId":     "fake-" + uuid.NewString()[:8],
		"clientSecret": strings.ReplaceAll(uuid.NewString(), "-", ""),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
