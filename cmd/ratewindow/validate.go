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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/ratewindow/pkg/config"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	// File overrides the global --config flag.
	File string `arg:"" optional:"" name:"file" help:"Configuration file path (default: --config)." placeholder:"PATH"`

	Format string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`

	PrintConfig bool `short:"p" name:"print-config" help:"Print the expanded configuration (with defaults applied and env vars resolved)."`
}

// Run executes the validate command.
func (c *ValidateCmd) Run(cli *CLI, out io.Writer) error {
	opts, err := cli.loaderOptions(c.File)
	if err != nil {
		return err
	}
	file := opts.Path

	cfg, err := config.LoadConfig(opts)
	if err != nil {
		return printLoadError(out, c.Format, file, err)
	}

	if c.PrintConfig {
		return printExpandedConfig(out, c.Format, file, cfg)
	}

	printSuccess(out, c.Format, file)
	return nil
}

// ValidationError is a single problem reported in JSON output.
type ValidationError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type jsonOutput struct {
	Valid    bool              `json:"valid"`
	File     string            `json:"file"`
	Policies []string          `json:"policies,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`
}

// errorLines flattens a load error into one message per problem.
func errorLines(err error) []string {
	var lines []string
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func printLoadError(out io.Writer, format, file string, err error) error {
	switch format {
	case "json":
		var errs []ValidationError
		for _, line := range errorLines(err) {
			errs = append(errs, ValidationError{Type: "load", Message: line})
		}
		printJSONResult(out, jsonOutput{Valid: false, File: file, Errors: errs})
	case "verbose":
		fmt.Fprintf(out, "Configuration Load Error\n")
		fmt.Fprintf(out, "========================\n\n")
		fmt.Fprintf(out, "File:    %s\n", file)
		for _, line := range errorLines(err) {
			fmt.Fprintf(out, "Error:   %s\n", line)
		}
	default:
		fmt.Fprintf(out, "%s: %s\n", file, strings.Join(errorLines(err), "; "))
	}
	return fmt.Errorf("config validation failed")
}

func printSuccess(out io.Writer, format, file string) {
	switch format {
	case "json":
		printJSONResult(out, jsonOutput{Valid: true, File: file})
	case "verbose":
		fmt.Fprintf(out, "Configuration Validation Successful\n")
		fmt.Fprintf(out, "===================================\n\n")
		fmt.Fprintf(out, "File:   %s\n", file)
		fmt.Fprintf(out, "Status: OK Valid\n")
	default:
		fmt.Fprintf(out, "%s: valid\n", file)
	}
}

func printExpandedConfig(out io.Writer, format, file string, cfg *config.Config) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config as JSON: %w", err)
		}
	default:
		fmt.Fprintf(out, "# Expanded Configuration from: %s\n", file)
		fmt.Fprintf(out, "# (defaults applied, env vars resolved)\n\n")

		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		if err := encoder.Encode(cfg); err != nil {
			return fmt.Errorf("failed to encode config as YAML: %w", err)
		}
		return encoder.Close()
	}
	return nil
}

func printJSONResult(out io.Writer, result jsonOutput) {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		fmt.Fprintf(out, "Error encoding JSON: %v\n", err)
	}
}
