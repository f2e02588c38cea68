// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package testutils

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	TestIssuer   = "https://issuer.test"
	TestAudience = "ratewindow-test"

	testKeyID = "test-key-id"
)

// JWKSIssuer serves a JWKS over httptest and signs tokens with the
// matching private key.
type JWKSIssuer struct {
	t      testing.TB
	server *httptest.Server
	key    jwk.Key
}

// NewJWKSIssuer starts a JWKS endpoint that is closed with the test.
func NewJWKSIssuer(t testing.TB) *JWKSIssuer {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	key, err := jwk.FromRaw(privateKey)
	if err != nil {
		t.Fatalf("failed to build private jwk: %v", err)
	}
	mustSet(t, key, jwk.KeyIDKey, testKeyID)
	mustSet(t, key, jwk.AlgorithmKey, jwa.RS256)

	public, err := jwk.PublicKeyOf(key)
	if err != nil {
		t.Fatalf("failed to derive public jwk: %v", err)
	}
	keyset := jwk.NewSet()
	if err := keyset.AddKey(public); err != nil {
		t.Fatalf("failed to build key set: %v", err)
	}
	body, err := json.Marshal(keyset)
	if err != nil {
		t.Fatalf("failed to encode key set: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/jwks.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(server.Close)

	return &JWKSIssuer{t: t, server: server, key: key}
}

// URL returns the JWKS endpoint.
func (i *JWKSIssuer) URL() string {
	return i.server.URL + "/.well-known/jwks.json"
}

// Token signs a token for subject with TestIssuer and TestAudience, valid
// for an hour. extra claims override the defaults.
func (i *JWKSIssuer) Token(subject string, extra map[string]any) string {
	i.t.Helper()

	now := time.Now()
	claims := map[string]any{
		jwt.IssuerKey:     TestIssuer,
		jwt.AudienceKey:   TestAudience,
		jwt.IssuedAtKey:   now,
		jwt.ExpirationKey: now.Add(time.Hour),
	}
	if subject != "" {
		claims[jwt.SubjectKey] = subject
	}
	for k, v := range extra {
		claims[k] = v
	}

	token := jwt.New()
	for k, v := range claims {
		if err := token.Set(k, v); err != nil {
			i.t.Fatalf("failed to set claim %s: %v", k, err)
		}
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, i.key))
	if err != nil {
		i.t.Fatalf("failed to sign token: %v", err)
	}
	return string(signed)
}

func mustSet(t testing.TB, key jwk.Key, name string, value any) {
	t.Helper()
	if err := key.Set(name, value); err != nil {
		t.Fatalf("failed to set %s: %v", name, err)
	}
}
