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
	gogm "github.com/disneystreaming/neo4j-go-ogm-uow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var importCmd = &cobra.Command{
	Use:   "import <data.yaml>",
	Short: "Write the data file to Neo4j in one transaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync()

		registry, release, err := loadRegistry(cfg)
		if err != nil {
			return err
		}
		defer release()

		entities, err := loadData(args[0], registry)
		if err != nil {
			return err
		}

		driver, err := newDriver(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password)
		if err != nil {
			return err
		}
		defer driver.Close()

		session := gogm.NewSession(registry,
			gogm.WithDriver(driver, cfg.Neo4j.Database),
			gogm.WithLogger(logger),
			gogm.WithLedgerCapacity(cfg.Session.LedgerCapacity),
			gogm.WithTransactionTimeout(cfg.Session.TransactionTimeout))
		defer session.Disconnect()

		if _, err = session.BeginTransaction(); err != nil {
			return err
		}
		for i, e := range entities {
			if err = session.Persist(e); err != nil {
				return rollback(session, logger, err)
			}
			if every := cfg.Session.FlushEvery; every > 0 && (i+1)%every == 0 {
				if err = session.Flush(); err != nil {
					return rollback(session, logger, err)
				}
				logger.Debug("flushed", zap.Int("entities", i+1))
			}
		}
		if err = session.Commit(); err != nil {
			if gogm.IsResourceExhausted(err) {
				printWarning("too many relationship updates for one flush, set session.flush_every")
			}
			return rollback(session, logger, err)
		}
		printSuccess("imported %d entities into %s", len(entities), cfg.Neo4j.URI)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func rollback(session *gogm.SessionImpl, logger *zap.Logger, cause error) error {
	if session.GetTransaction() == nil {
		return cause
	}
	if err := session.Rollback(); err != nil {
		logger.Warn("rollback failed", zap.Error(err))
	}
	return cause
}
