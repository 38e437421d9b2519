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

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database,omitempty"`
}

type SessionConfig struct {
	LedgerCapacity     int           `yaml:"ledger_capacity,omitempty"`
	TransactionTimeout time.Duration `yaml:"transaction_timeout,omitempty"`
	//FlushEvery flushes after that many staged entities; 0 flushes only on commit.
	FlushEvery int `yaml:"flush_every,omitempty"`
}

type LoggingConfig struct {
	Level       string `yaml:"level,omitempty"`
	Development bool   `yaml:"development,omitempty"`
}

type IDGenConfig struct {
	Strategy  string `yaml:"strategy,omitempty"`
	Path      string `yaml:"path,omitempty"`
	Key       string `yaml:"key,omitempty"`
	Bandwidth uint64 `yaml:"bandwidth,omitempty"`
}

type Config struct {
	Neo4j   Neo4jConfig   `yaml:"neo4j"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
	IDGen   IDGenConfig   `yaml:"idgen"`
}

const (
	IDGenUUID     = "uuid"
	IDGenSequence = "sequence"
)

func Default() *Config {
	return &Config{
		Neo4j: Neo4jConfig{URI: "bolt://localhost:7687", Username: "neo4j"},
		Session: SessionConfig{
			LedgerCapacity:     5000,
			TransactionTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		IDGen:   IDGenConfig{Strategy: IDGenUUID, Key: "gogm", Bandwidth: 100},
	}
}

//LoadConfig reads path, expands ${VAR} references and applies defaults for unset fields.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Neo4j.URI == "" {
		return fmt.Errorf("neo4j.uri is required")
	}
	if c.Session.LedgerCapacity < 0 {
		return fmt.Errorf("session.ledger_capacity must not be negative, got %d", c.Session.LedgerCapacity)
	}
	if c.Session.TransactionTimeout < 0 {
		return fmt.Errorf("session.transaction_timeout must not be negative, got %s", c.Session.TransactionTimeout)
	}
	if c.Session.FlushEvery < 0 {
		return fmt.Errorf("session.flush_every must not be negative, got %d", c.Session.FlushEvery)
	}
	switch c.IDGen.Strategy {
	case IDGenUUID:
	case IDGenSequence:
		if c.IDGen.Key == "" {
			return fmt.Errorf("idgen.key is required for the sequence strategy")
		}
	default:
		return fmt.Errorf("idgen.strategy must be %q or %q, got %q", IDGenUUID, IDGenSequence, c.IDGen.Strategy)
	}
	return nil
}
