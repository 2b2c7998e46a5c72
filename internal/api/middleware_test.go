package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestInternalKeyMiddleware(t *testing.T) {
	protected := InternalKeyMiddleware("secret-key")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name string
		key  string
		want int
	}{
		{name: "missing_key", key: "", want: http.StatusUnauthorized},
		{name: "wrong_key", key: "not-the-key", want: http.StatusUnauthorized},
		{name: "correct_key", key: "secret-key", want: http.StatusNoContent},
		{name: "correct_key_with_whitespace", key: "  secret-key  ", want: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/test", nil)
			if tt.key != "" {
				req.Header.Set("x-internal-api-key", tt.key)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestGetAuthUserID(t *testing.T) {
	if _, ok := GetAuthUserID(context.Background()); ok {
		t.Fatal("expected no user id on an empty context")
	}

	ctx := context.WithValue(context.Background(), authUserIDKey, "user_123")
	userID, ok := GetAuthUserID(ctx)
	if !ok || userID != "user_123" {
		t.Fatalf("expected user_123, got %q (ok=%v)", userID, ok)
	}
}

func jwksDocument(t *testing.T, kids ...string) ([]byte, map[string]*rsa.PublicKey) {
	t.Helper()
	type jwk struct {
		Kid string `json:"kid"`
		Kty string `json:"kty"`
		Use string `json:"use"`
		N   string `json:"n"`
		E   string `json:"e"`
	}
	var doc struct {
		Keys []jwk `json:"keys"`
	}
	want := make(map[string]*rsa.PublicKey, len(kids))
	for _, kid := range kids {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("failed to generate key: %v", err)
		}
		pub := &priv.PublicKey
		want[kid] = pub
		doc.Keys = append(doc.Keys, jwk{
			Kid: kid,
			Kty: "RSA",
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString([]byte{1, 0, 1}),
		})
	}
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("failed to marshal JWKS: %v", err)
	}
	return body, want
}

func TestJWKSKeyCacheFetchesOnce(t *testing.T) {
	body, want := jwksDocument(t, "key-1")
	var fetches int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&fetches, 1)
		w.Write(body)
	}))
	defer server.Close()

	cache := &jwksKeyCache{httpClient: server.Client()}
	for i := 0; i < 5; i++ {
		key, err := cache.publicKey(server.URL, "key-1")
		if err != nil {
			t.Fatalf("publicKey returned error on call %d: %v", i, err)
		}
		if key.N.Cmp(want["key-1"].N) != 0 {
			t.Fatal("cache returned the wrong key")
		}
	}
	if got := atomic.LoadInt64(&fetches); got != 1 {
		t.Fatalf("expected a single JWKS fetch for repeated lookups, got %d", got)
	}
}

func TestJWKSKeyCacheRefreshesOnUnknownKid(t *testing.T) {
	firstBody, _ := jwksDocument(t, "key-1")
	secondBody, want := jwksDocument(t, "key-1", "key-2")
	var fetches int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&fetches, 1) == 1 {
			w.Write(firstBody)
			return
		}
		w.Write(secondBody)
	}))
	defer server.Close()

	cache := &jwksKeyCache{httpClient: server.Client()}
	if _, err := cache.publicKey(server.URL, "key-1"); err != nil {
		t.Fatalf("publicKey(key-1) returned error: %v", err)
	}

	// key-2 is not in the cached document: a rotation must trigger a refresh.
	key, err := cache.publicKey(server.URL, "key-2")
	if err != nil {
		t.Fatalf("publicKey(key-2) returned error: %v", err)
	}
	if key.N.Cmp(want["key-2"].N) != 0 {
		t.Fatal("cache returned the wrong key after rotation")
	}
	if got := atomic.LoadInt64(&fetches); got != 2 {
		t.Fatalf("expected exactly two JWKS fetches, got %d", got)
	}
}

func TestJWKSKeyCacheServesStaleKeyWhenRefreshFails(t *testing.T) {
	body, _ := jwksDocument(t, "key-1")
	var fetches int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&fetches, 1) == 1 {
			w.Write(body)
			return
		}
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cache := &jwksKeyCache{httpClient: server.Client()}
	if _, err := cache.publicKey(server.URL, "key-1"); err != nil {
		t.Fatalf("publicKey returned error: %v", err)
	}

	// Expire the cache so the next lookup attempts a refresh, which now fails.
	cache.mu.Lock()
	cache.fetchedAt = time.Now().Add(-2 * jwksRefreshInterval)
	cache.mu.Unlock()

	if _, err := cache.publicKey(server.URL, "key-1"); err != nil {
		t.Fatalf("expected the stale key to keep serving, got error: %v", err)
	}
}

func TestParseRSAPublicKey(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	pub, err := parseRSAPublicKey(
		base64.RawURLEncoding.EncodeToString(priv.PublicKey.N.Bytes()),
		base64.RawURLEncoding.EncodeToString([]byte{1, 0, 1}),
	)
	if err != nil {
		t.Fatalf("parseRSAPublicKey returned error: %v", err)
	}
	if pub.N.Cmp(priv.PublicKey.N) != 0 || pub.E != 65537 {
		t.Fatalf("parsed key does not match: E=%d", pub.E)
	}

	if _, err := parseRSAPublicKey("not-base64!!", "AQAB"); err == nil {
		t.Fatal("expected an error for an invalid modulus")
	}
}

func TestAuthMiddlewareRejectsMissingOrMalformedHeader(t *testing.T) {
	protected := AuthMiddleware("http://127.0.0.1:0/jwks")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not be reached without a valid token")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing_header", header: ""},
		{name: "not_bearer", header: "Basic abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/groups", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			protected.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
		})
	}
}
