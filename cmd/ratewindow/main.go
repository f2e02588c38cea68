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

// Command ratewindow serves named sliding window rate limiting policies.
//
// Usage:
//
//	ratewindow serve --config ratewindow.yaml
//	ratewindow serve --config ratewindow.yaml --watch
//	ratewindow validate ratewindow.yaml --print-config
//	ratewindow schema > ratewindow.schema.json
//	ratewindow check api alice --cost 2 --server http://localhost:8080
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/ratewindow"
	"github.com/kadirpekel/ratewindow/pkg/config"
)

// DefaultConfigFile is used when --config is not given.
const DefaultConfigFile = "ratewindow.yaml"

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the rate limiting server."`
	Validate ValidateCmd `cmd:"" help:"Validate configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration file."`
	Check    CheckCmd    `cmd:"" help:"Ask a running server for a decision."`

	Config          string   `short:"c" help:"Config file path, or the key holding the config in a remote store." default:"${config_file}" env:"RATEWINDOW_CONFIG"`
	ConfigSource    string   `name:"config-source" help:"Config source: file, consul, etcd, zookeeper." default:"file" enum:"file,consul,etcd,zookeeper,zk" env:"RATEWINDOW_CONFIG_SOURCE"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Remote store endpoints (default: the store's local address)." env:"RATEWINDOW_CONFIG_ENDPOINTS"`
	EnvFile         []string `name:"env-file" help:"Dotenv files to load before reading the config (default: .env.local, .env)." type:"path"`
	LogLevel        string   `help:"Log level (debug, info, warn, error)."`
	LogFile         string   `help:"Log file path (empty = stderr)."`
	LogFormat       string   `help:"Log format (simple, verbose, json)."`
}

// VersionCmd shows version information.
type VersionCmd struct {
	Short bool `short:"s" help:"Print only the version number."`
}

func (c *VersionCmd) Run(out io.Writer) error {
	info := ratewindow.GetVersion()
	if c.Short {
		fmt.Fprintln(out, info.Version)
		return nil
	}
	fmt.Fprintln(out, info.String())
	return nil
}

// loaderOptions builds the config loader options from the global flags.
func (c *CLI) loaderOptions(path string) (config.LoaderOptions, error) {
	source, err := config.ParseSourceType(c.ConfigSource)
	if err != nil {
		return config.LoaderOptions{}, err
	}
	if path == "" {
		path = c.Config
	}
	return config.LoaderOptions{
		Type:      source,
		Path:      path,
		Endpoints: c.ConfigEndpoints,
	}, nil
}

func newParser(cli *CLI, out io.Writer, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name("ratewindow"),
		kong.Description("Per-key sliding window rate limiting server."),
		kong.UsageOnError(),
		kong.Vars{"config_file": DefaultConfigFile},
		kong.BindTo(out, (*io.Writer)(nil)),
	}, options...)
	return kong.New(cli, options...)
}

func main() {
	var cli CLI
	parser, err := newParser(&cli, os.Stdout)
	if err != nil {
		panic(err)
	}

	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if err := config.LoadEnvFiles(cli.EnvFile...); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	err = ctx.Run(&cli)
	if cleanup != nil {
		cleanup()
	}
	ctx.FatalIfErrorf(err)
}
