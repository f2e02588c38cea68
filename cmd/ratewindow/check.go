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

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kadirpekel/ratewindow/pkg/client"
)

// ErrDenied is returned by the check command when the server denies the
// request, so scripts can branch on the exit code.
var ErrDenied = errors.New("request denied")

// CheckCmd asks a running server for a decision.
type CheckCmd struct {
	Policy  string        `arg:"" help:"Policy name."`
	Key     string        `arg:"" help:"Key to check."`
	Cost    int64         `default:"1" help:"Units to consume."`
	Server  string        `default:"http://localhost:8080" help:"Server base URL."`
	Token   string        `help:"Bearer token for servers with authentication enabled."`
	Timeout time.Duration `default:"10s" help:"Overall timeout."`
	JSON    bool          `name:"json" help:"Print the decision as JSON."`
}

func (c *CheckCmd) Run(out io.Writer) error {
	opts := []client.Option{}
	if c.Token != "" {
		opts = append(opts, client.WithBearerToken(c.Token))
	}
	cl, err := client.New(c.Server, opts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()

	d, err := cl.Check(ctx, c.Policy, c.Key, c.Cost)
	if err != nil {
		return err
	}

	if c.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(d); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "%s %s/%s: %s (remaining %d of %d, estimate %.2f)\n",
			verdict(d.Allowed), d.Policy, d.Key, d.Reason, d.Remaining, d.Limit, d.Estimate)
		if d.RetryAfter > 0 {
			fmt.Fprintf(out, "retry after %v\n", d.RetryAfter.Round(time.Millisecond))
		}
	}

	if !d.Allowed {
		return ErrDenied
	}
	return nil
}

func verdict(allowed bool) string {
	if allowed {
		return "ALLOWED"
	}
	return "DENIED"
}
