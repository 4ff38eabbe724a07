// Command token-issuer mints RS256 tokens for the ingest API in local and
// test environments.
package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/austindbirch/tml_hook/internal/config"
	"github.com/austindbirch/tml_hook/internal/logging"
)

const (
	keyID      = "tml_hook-key-1"
	defaultTTL = time.Hour
)

type JWKSResponse struct {
	Keys []JWK `json:"keys"`
}

type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type issuer struct {
	key      *rsa.PrivateKey
	issuer   string
	audience string
	now      func() time.Time
}

// loadKey parses a PKCS1 or PKCS8 PEM private key, or generates one when
// pemData is empty.
func loadKey(pemData string) (*rsa.PrivateKey, error) {
	if pemData == "" {
		return rsa.GenerateKey(rand.Reader, 2048)
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("failed to decode PEM private key")
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return rk, nil
}

func (is *issuer) publicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(&is.key.PublicKey)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

func (is *issuer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/jwks.json", is.jwksHandler)
	mux.HandleFunc("/public-key.pem", is.publicKeyHandler)
	mux.HandleFunc("/token", is.createTokenHandler)
	mux.HandleFunc("/healthz", healthHandler)
	return mux
}

// jwksHandler serves the JWKS endpoint
func (is *issuer) jwksHandler(w http.ResponseWriter, _ *http.Request) {
	pub := is.key.PublicKey
	response := JWKSResponse{Keys: []JWK{{
		Kty: "RSA",
		Use: "sig",
		Alg: "RS256",
		Kid: keyID,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300") // Cache for 5 minutes
	_ = json.NewEncoder(w).Encode(response)
}

func (is *issuer) publicKeyHandler(w http.ResponseWriter, _ *http.Request) {
	b, err := is.publicKeyPEM()
	if err != nil {
		http.Error(w, "Failed to encode public key", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	_, _ = w.Write(b)
}

// createTokenHandler handles token creation requests
func (is *issuer) createTokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		TenantID int64 `json:"tenant_id"`
		TTL      int   `json:"ttl_seconds,omitempty"` // Optional, defaults to 1 hour
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TenantID <= 0 {
		http.Error(w, "tenant_id must be a positive integer", http.StatusBadRequest)
		return
	}

	ttl := defaultTTL
	if req.TTL > 0 {
		ttl = time.Duration(req.TTL) * time.Second
	}

	tokenString, err := is.sign(req.TenantID, ttl)
	if err != nil {
		http.Error(w, "Failed to sign token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token":      tokenString,
		"expires_in": int(ttl.Seconds()),
		"token_type": "Bearer",
	})
}

func (is *issuer) sign(tenantID int64, ttl time.Duration) (string, error) {
	now := is.now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":       is.issuer,
		"aud":       is.audience,
		"sub":       strconv.FormatInt(tenantID, 10),
		"tenant_id": tenantID,
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	})
	token.Header["kid"] = keyID
	return token.SignedString(is.key)
}

// healthHandler provides a simple health check endpoint
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("token-issuer")
	defer logger.Sync()

	key, err := loadKey(os.Getenv("JWT_PRIVATE_KEY"))
	if err != nil {
		logger.Plain().WithError(err).Fatal("load signing key failed")
	}
	is := &issuer{key: key, issuer: cfg.Auth.Issuer, audience: cfg.Auth.Audience, now: time.Now}

	// Share the public key with ingest through JWT_PUBLIC_KEY_PATH.
	if path := cfg.Auth.PublicKeyPath; path != "" {
		b, err := is.publicKeyPEM()
		if err == nil {
			err = os.WriteFile(path, b, 0o644)
		}
		if err != nil {
			logger.Plain().WithError(err).WithField("path", path).Fatal("write public key failed")
		}
		logger.Plain().WithField("path", path).Info("public key written")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}
	srv := &http.Server{Addr: ":" + port, Handler: is.routes(), ReadHeaderTimeout: 5 * time.Second}
	logger.Plain().WithField("addr", srv.Addr).Info("token issuer starting")
	if err := srv.ListenAndServe(); err != nil {
		logger.Plain().WithError(err).Fatal("token issuer failed")
	}
}
