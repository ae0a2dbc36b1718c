// Package auth validates bearer tokens against the configured OpenID
// Connect identity provider and normalizes Keycloak role claims.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/gamecloud/gateway/internal/config"
)

// Identity is an authenticated principal with flattened roles.
type Identity struct {
	Subject string
	Name    string
	Roles   []string
}

// ErrInvalidToken wraps every validation failure so callers can answer
// 401 without inspecting the cause.
var ErrInvalidToken = errors.New("auth: invalid token")

// Verifier validates RS256 bearer tokens issued by the configured
// authority. Signing keys are discovered via the OIDC metadata document
// and cached; an unknown key id triggers a rate-limited refresh.
type Verifier struct {
	authority string
	audiences map[string]struct{}
	client    *http.Client
	parser    *jwt.Parser

	mu          sync.Mutex
	keys        map[string]*rsa.PublicKey
	lastRefresh time.Time
}

// NewVerifier builds a verifier from the Keycloak settings. With
// RequireHttpsMetadata set, a plain-http authority is a configuration
// error.
func NewVerifier(cfg config.Keycloak) (*Verifier, error) {
	authority := strings.TrimRight(cfg.Authority, "/")
	if authority == "" {
		return nil, errors.New("auth: Keycloak authority not configured")
	}
	if cfg.RequireHttpsMetadata && !strings.HasPrefix(authority, "https://") {
		return nil, fmt.Errorf("auth: authority %s is not https but RequireHttpsMetadata is set", authority)
	}

	// The three fixed audiences are always accepted; a configured
	// Audience adds a fourth rather than replacing one.
	audiences := map[string]struct{}{
		"account":        {},
		"gc-front":       {},
		"gc-gateway-api": {},
	}
	if cfg.Audience != "" {
		audiences[cfg.Audience] = struct{}{}
	}

	return &Verifier{
		authority: authority,
		audiences: audiences,
		client:    &http.Client{Timeout: 10 * time.Second},
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithIssuer(authority),
			jwt.WithExpirationRequired(),
		),
		keys: make(map[string]*rsa.PublicKey),
	}, nil
}

// Verify validates the raw token and returns the flattened identity.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.signingKey(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if err := v.checkAudience(claims); err != nil {
		return nil, err
	}

	roles := FlattenRoles(claims)
	name, _ := claims["preferred_username"].(string)
	subject, _ := claims.GetSubject()

	return &Identity{Subject: subject, Name: name, Roles: roles}, nil
}

// checkAudience accepts the token when any of its audiences is in the
// accepted set.
func (v *Verifier) checkAudience(claims jwt.MapClaims) error {
	auds, err := claims.GetAudience()
	if err != nil {
		return fmt.Errorf("%w: malformed audience", ErrInvalidToken)
	}
	for _, aud := range auds {
		if _, ok := v.audiences[aud]; ok {
			return nil
		}
	}
	return fmt.Errorf("%w: audience %v not accepted", ErrInvalidToken, []string(auds))
}

// signingKey returns the cached key for kid, refreshing the JWKS on a
// miss. Refreshes are limited to one per minute so a flood of bad
// tokens cannot hammer the identity provider.
func (v *Verifier) signingKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	if time.Since(v.lastRefresh) < time.Minute {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	if err := v.refreshKeysLocked(ctx); err != nil {
		return nil, err
	}
	if key, ok := v.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("unknown signing key %q", kid)
}

type discoveryDocument struct {
	JWKSURI string `json:"jwks_uri"`
}

type jwksDocument struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

// refreshKeysLocked fetches the discovery document and reloads the RSA
// keys from the advertised JWKS endpoint. Caller holds v.mu.
func (v *Verifier) refreshKeysLocked(ctx context.Context) error {
	v.lastRefresh = time.Now()

	var disco discoveryDocument
	if err := v.getJSON(ctx, v.authority+"/.well-known/openid-configuration", &disco); err != nil {
		return fmt.Errorf("fetch discovery document: %w", err)
	}
	if disco.JWKSURI == "" {
		return errors.New("discovery document has no jwks_uri")
	}

	var jwks jwksDocument
	if err := v.getJSON(ctx, disco.JWKSURI, &jwks); err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		key, err := parseRSAKey(k.N, k.E)
		if err != nil {
			log.Warn().Str("kid", k.Kid).Err(err).Msg("Skipping unparsable JWKS key")
			continue
		}
		keys[k.Kid] = key
	}
	if len(keys) == 0 {
		return errors.New("jwks contains no usable RSA keys")
	}

	v.keys = keys
	log.Debug().Int("keys", len(keys)).Msg("JWKS refreshed")
	return nil
}

func (v *Verifier) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseRSAKey(n, e string) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}
