// MIT License
//
// Copyright (c) 2020 codingfinest
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"fmt"
	"os"

	gogm "github.com/disneystreaming/neo4j-go-ogm-uow"
	"github.com/disneystreaming/neo4j-go-ogm-uow/idgen"
	"github.com/disneystreaming/neo4j-go-ogm-uow/internal/config"
	"github.com/disneystreaming/neo4j-go-ogm-uow/internal/logging"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose     bool
	configPath  string
	mappingPath string

	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
)

var rootCmd = &cobra.Command{
	Use:   "gogmctl",
	Short: "gogmctl - stage entities and flush them to Neo4j",
	Long: `gogmctl drives the unit of work from the command line. Entity kinds are
described by a YAML mapping, instances by a YAML data file.

Examples:
  gogmctl ping -c config.yaml
  gogmctl explain -m mapping.yaml data.yaml
  gogmctl import -c config.yaml -m mapping.yaml data.yaml`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every statement")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "configuration file")
	rootCmd.PersistentFlags().StringVarP(&mappingPath, "mapping", "m", "mapping.yaml", "entity mapping file")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		errorColor.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printSuccess(format string, args ...interface{}) {
	successColor.Printf("✓ "+format+"\n", args...)
}

func printError(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, "✗ "+format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	warningColor.Printf("⚠ "+format+"\n", args...)
}

func printInfo(format string, args ...interface{}) {
	infoColor.Printf("ℹ "+format+"\n", args...)
}

//loadConfig reads --config, falling back to the defaults when none is given.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(configPath)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logCfg := cfg.Logging
	if verbose {
		logCfg.Level = "debug"
	}
	return logging.New(logCfg)
}

//loadRegistry reads --mapping with the id generators the configuration selects.
//The returned function releases them.
func loadRegistry(cfg *config.Config) (*gogm.Registry, func(), error) {
	generators := map[string]gogm.IDGenerator{config.IDGenUUID: idgen.UUID{}}
	release := func() {}
	if cfg.IDGen.Strategy == config.IDGenSequence {
		seq, err := idgen.OpenSequence(cfg.IDGen.Path, cfg.IDGen.Key, cfg.IDGen.Bandwidth)
		if err != nil {
			return nil, nil, err
		}
		generators[config.IDGenSequence] = seq
		release = func() {
			if err := seq.Close(); err != nil {
				printWarning("could not release sequence: %v", err)
			}
		}
	}
	registry, err := gogm.LoadMapping(mappingPath, generators)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to load mapping %s: %w", mappingPath, err)
	}
	return registry, release, nil
}
