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

// Package auth validates JWT bearer tokens for the ratewindow API.
//
// Tokens are verified against a JSON Web Key Set fetched from the identity
// provider and refreshed in the background. Validated claims are stored in
// the request context, where the rate limit key functions pick up the
// subject:
//
//	validator, err := auth.NewJWTValidator(ctx, auth.JWTValidatorConfig{
//	    JWKSURL:  "https://auth.example.com/.well-known/jwks.json",
//	    Issuer:   "https://auth.example.com",
//	    Audience: "ratewindow",
//	})
//	handler = auth.Middleware(validator, "/health")(handler)
package auth

import (
	"context"
)

type claimsContextKey struct{}

// Claims represents the validated claims from a JWT token.
type Claims struct {
	// Subject is the unique identifier for the caller (sub claim).
	Subject string `json:"sub"`

	// Email is the caller's email address (if provided).
	Email string `json:"email,omitempty"`

	// Role is the caller's role.
	Role string `json:"role,omitempty"`

	// TenantID supports multi-tenant deployments.
	TenantID string `json:"tenant_id,omitempty"`

	// Custom contains any additional claims not mapped to struct fields.
	Custom map[string]any `json:"-"`
}

// GetStringClaim retrieves a custom claim as a string.
func (c *Claims) GetStringClaim(key string) string {
	if c == nil || c.Custom == nil {
		return ""
	}
	if s, ok := c.Custom[key].(string); ok {
		return s
	}
	return ""
}

// ClaimsFromContext extracts claims from a context.
// Returns nil if no claims are present.
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey{}).(*Claims); ok {
		return claims
	}
	return nil
}

// ContextWithClaims returns a new context with the given claims.
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}
