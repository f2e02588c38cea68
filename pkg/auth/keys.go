// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"net/http"

	"github.com/kadirpekel/ratewindow/pkg/ratelimit"
)

// SubjectKeyPrefix namespaces subject keys so they cannot collide with
// API keys or client addresses.
const SubjectKeyPrefix = "sub:"

// SubjectKeyFunc keys authenticated requests by their token subject and
// defers to fallback for the rest.
func SubjectKeyFunc(fallback ratelimit.KeyFunc) ratelimit.KeyFunc {
	if fallback == nil {
		fallback = ratelimit.DefaultKeyFunc
	}
	return func(r *http.Request) string {
		if claims := ClaimsFromContext(r.Context()); claims != nil && claims.Subject != "" {
			return SubjectKeyPrefix + claims.Subject
		}
		return fallback(r)
	}
}

// SubjectGRPCKeyFunc is the gRPC counterpart of SubjectKeyFunc.
func SubjectGRPCKeyFunc(fallback ratelimit.GRPCKeyFunc) ratelimit.GRPCKeyFunc {
	if fallback == nil {
		fallback = ratelimit.DefaultGRPCKeyFunc
	}
	return func(ctx context.Context, fullMethod string) string {
		if claims := ClaimsFromContext(ctx); claims != nil && claims.Subject != "" {
			return SubjectKeyPrefix + claims.Subject
		}
		return fallback(ctx, fullMethod)
	}
}
