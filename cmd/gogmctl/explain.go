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

	gogm "github.com/disneystreaming/neo4j-go-ogm-uow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

var explainParams bool

var explainCmd = &cobra.Command{
	Use:   "explain <data.yaml>",
	Short: "Print the Cypher a flush of the data file would execute",
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

		session := gogm.NewSession(registry, gogm.WithLogger(logger), gogm.WithLedgerCapacity(cfg.Session.LedgerCapacity))
		defer session.Disconnect()
		runner := &gogm.RecordingRunner{}
		session.UseTransaction(runner)
		for _, e := range entities {
			if err = session.Persist(e); err != nil {
				return err
			}
		}
		if err = session.Flush(); err != nil {
			logger.Error("flush failed", zap.Error(err), zap.Stringer("state", session.FlushState()))
			return err
		}

		for i, s := range runner.Statements {
			infoColor.Printf("-- %d\n", i+1)
			fmt.Println(s.Cypher)
			if explainParams && len(s.Params) > 0 {
				out, err := yaml.Marshal(s.Params)
				if err != nil {
					return err
				}
				warningColor.Print(string(out))
			}
		}
		printSuccess("%d entities, %d statements", len(entities), len(runner.Statements))
		return nil
	},
}

func init() {
	explainCmd.Flags().BoolVarP(&explainParams, "params", "p", false, "print the parameters of each statement")
	rootCmd.AddCommand(explainCmd)
}
