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
	"fmt"
	"io"
	"os"

	"github.com/kadirpekel/ratewindow/pkg/config"
	"github.com/kadirpekel/ratewindow/pkg/logger"
)

const (
	// LogFileEnvVar is the environment variable name for log file path
	LogFileEnvVar = "LOG_FILE"
	// LogLevelEnvVar is the environment variable name for log level
	LogLevelEnvVar = "LOG_LEVEL"
	// LogFormatEnvVar is the environment variable name for log format
	LogFormatEnvVar = "LOG_FORMAT"
)

// loggerSettings resolves the effective logger settings.
// Priority: CLI flags > env vars > config file > defaults
func loggerSettings(cliLevel, cliFile, cliFormat string, cfg *config.LoggerConfig) config.LoggerConfig {
	resolved := config.LoggerConfig{
		Level:  firstNonEmpty(cliLevel, os.Getenv(LogLevelEnvVar)),
		File:   firstNonEmpty(cliFile, os.Getenv(LogFileEnvVar)),
		Format: firstNonEmpty(cliFormat, os.Getenv(LogFormatEnvVar)),
	}
	if cfg != nil {
		resolved.Level = firstNonEmpty(resolved.Level, cfg.Level)
		resolved.File = firstNonEmpty(resolved.File, cfg.File)
		resolved.Format = firstNonEmpty(resolved.Format, cfg.Format)
	}
	resolved.SetDefaults()
	return resolved
}

// initLogger installs the default logger and returns a cleanup function
// for the log file, if one was opened.
func initLogger(cliLevel, cliFile, cliFormat string, cfg *config.LoggerConfig) (func(), error) {
	settings := loggerSettings(cliLevel, cliFile, cliFormat, cfg)
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger settings: %w", err)
	}

	level, err := logger.ParseLevel(settings.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer = os.Stderr
	var cleanup func()
	if settings.File != "" {
		file, cleanupFn, err := logger.OpenLogFile(settings.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		cleanup = cleanupFn
	}

	logger.Init(level, output, settings.Format)
	return cleanup, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
