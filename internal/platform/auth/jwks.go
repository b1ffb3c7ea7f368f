package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWKSCacheTTL   = 5 * time.Minute
	defaultJWKSMinRefresh = 30 * time.Second
)

// JWKSKey is a single RSA JSON Web Key.
type JWKSKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type JWKSResponse struct {
	Keys []JWKSKey `json:"keys"`
}

// JWKSCache holds the issuer's public keys by kid and refetches the whole set
// when the TTL expires or an unknown kid is requested (key rotation).
// Fetch attempts are at least minRefresh apart, failed ones included.
type JWKSCache struct {
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	refreshMu   sync.Mutex
	lastAttempt time.Time

	url        string
	ttl        time.Duration
	minRefresh time.Duration
	client     *http.Client
	now        func() time.Time
}

func NewJWKSCache(url string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		keys:       make(map[string]*rsa.PublicKey),
		url:        url,
		ttl:        ttl,
		minRefresh: defaultJWKSMinRefresh,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

func (c *JWKSCache) lookup(kid string) (*rsa.PublicKey, bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	return key, ok, c.now().Sub(c.fetchedAt) <= c.ttl
}

func (c *JWKSCache) GetKey(kid string) (*rsa.PublicKey, error) {
	if key, ok, fresh := c.lookup(kid); ok && fresh {
		return key, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// another caller may have refreshed while we waited
	key, ok, fresh := c.lookup(kid)
	if ok && fresh {
		return key, nil
	}
	if !c.lastAttempt.IsZero() && c.now().Sub(c.lastAttempt) < c.minRefresh {
		if ok {
			return key, nil
		}
		return nil, fmt.Errorf("no key with kid %q in JWKS", kid)
	}

	c.lastAttempt = c.now()
	if err := c.refresh(); err != nil {
		return nil, fmt.Errorf("refresh JWKS: %w", err)
	}
	if key, ok, _ = c.lookup(kid); !ok {
		return nil, fmt.Errorf("no key with kid %q in JWKS", kid)
	}
	return key, nil
}

func (c *JWKSCache) refresh() error {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var set JWKSResponse
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := k.rsaPublicKey()
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = c.now()
	c.mu.Unlock()
	return nil
}

func (k JWKSKey) rsaPublicKey() (*rsa.PublicKey, error) {
	n, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	e, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: int(new(big.Int).SetBytes(e).Int64()),
	}, nil
}

// KeyFunc resolves the verification key from the token's kid header.
func (c *JWKSCache) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return c.GetKey(kid)
	}
}

// DiscoverJWKSURL reads jwks_uri from the issuer's OpenID Connect discovery
// document.
func DiscoverJWKSURL(issuer string) (string, error) {
	url := strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration"

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("discovery document has no jwks_uri")
	}
	return doc.JWKSURI, nil
}

// ResolveJWKSURL returns explicit when set, otherwise the discovered
// jwks_uri, otherwise the conventional location under the issuer.
func ResolveJWKSURL(explicit, issuer string) string {
	if explicit != "" {
		return explicit
	}
	if issuer == "" {
		return ""
	}
	if url, err := DiscoverJWKSURL(issuer); err == nil {
		return url
	}
	return strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
}
