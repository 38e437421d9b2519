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

package gogm

import (
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"go.uber.org/zap"
)

const (
	createOperationLog = "CREATE Cypher"
	updateOperationLog = "UPDATE Cypher"
	deleteOperationLog = "DELETE Cypher"
	mergeOperationLog  = "MERGE Cypher"
	queryOperationLog  = "QUERY Cypher"
)

type statement struct {
	cypher    string
	params    map[string]any
	operation string
}

type transactionExecuter func(work neo4j.TransactionWork, configurers ...func(*neo4j.TransactionConfig)) (any, error)

//cypherExecuter runs statements on the session's runner when one is bound, otherwise in a
//managed driver transaction.
type cypherExecuter struct {
	driver     neo4j.Driver
	database   string
	accessMode neo4j.AccessMode
	runner     Runner
	logger     *zap.Logger
}

func newCypherExecuter(driver neo4j.Driver, database string, logger *zap.Logger) *cypherExecuter {
	return &cypherExecuter{driver: driver, database: database, accessMode: neo4j.AccessModeWrite, logger: logger}
}

//Executes a given cql statement using the provided params within the context of the provided `transactionExecuter`
func (c *cypherExecuter) execTransaction(te transactionExecuter, cql string, params map[string]any) ([]*neo4j.Record, error) {
	records, err := te(func(tx neo4j.Transaction) (any, error) {
		result, err := tx.Run(cql, params)
		if err != nil {
			return nil, err
		}
		return result.Collect()
	})
	if err != nil {
		return nil, err
	}
	if resultAsRecords, isRecordSlice := records.([]*neo4j.Record); isRecordSlice {
		return resultAsRecords, nil
	}
	return nil, fmt.Errorf("records returned by query, but not in expected form")
}

func (c *cypherExecuter) run(s statement) ([]*neo4j.Record, error) {
	operation := s.operation
	if operation == emptyString {
		operation = queryOperationLog
	}
	c.logger.Debug(operation, zap.String("cypher", s.cypher), zap.Any("params", s.params))
	return c.exec(s.cypher, s.params)
}

//Executes a given cql statements using the provided params within the context of the c's own state.
func (c *cypherExecuter) exec(cql string, params map[string]any) ([]*neo4j.Record, error) {
	if c.runner != nil {
		return c.runner.Run(cql, params)
	}
	if c.driver == nil {
		return nil, ErrNoTransaction
	}

	session := c.driver.NewSession(neo4j.SessionConfig{
		AccessMode:   c.accessMode,
		DatabaseName: c.database,
	})
	defer session.Close()

	transactionMode := session.ReadTransaction
	if c.accessMode == neo4j.AccessModeWrite {
		transactionMode = session.WriteTransaction
	}
	return c.execTransaction(transactionMode, cql, params)
}

func (c *cypherExecuter) setRunner(runner Runner) {
	c.runner = runner
}
