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

package ratelimit

import "time"

// Clock supplies the current instant to a limiter.
//
// Implementations must be safe for concurrent use. Limiters only ever compare
// instants they obtained from the same Clock, so a monotonic source is enough.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock. Values returned by time.Now carry a
// monotonic reading, which is what elapsed-time arithmetic uses.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
