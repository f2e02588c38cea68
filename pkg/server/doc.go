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

// Package server exposes rate limit policies over HTTP and gRPC.
//
// HTTP API:
//   - GET    /health                              → liveness
//   - GET    /metrics                             → Prometheus metrics (if enabled)
//   - GET    /v1/schema                           → configuration JSON Schema
//   - GET    /v1/policies                         → configured policies
//   - POST   /v1/policies/{policy}/check          → admission check
//   - GET    /v1/policies/{policy}/keys/{key}     → usage of a key
//   - DELETE /v1/policies/{policy}/keys/{key}     → forget a key
//
// The gRPC listener serves grpc.health.v1 behind the rate limiting
// interceptors.
package server
