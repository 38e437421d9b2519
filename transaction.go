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
	"time"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
)

//Runner executes statements in order inside one logical transaction.
type Runner interface {
	Run(cypher string, params map[string]any) ([]*neo4j.Record, error)
	Commit() error
	Rollback() error
	SetTimeout(timeout time.Duration)
}

type transactionEnder func() error

//Transaction is a Runner over a neo4j explicit transaction. The neo4j transaction begins
//with the first statement so that a timeout set before it applies.
type Transaction struct {
	neo4jTransaction neo4j.Transaction
	session          neo4j.Session
	accessMode       neo4j.AccessMode
	timeout          time.Duration
	rollbackOnly     bool
	close            transactionEnder
}

func newTransaction(driver neo4j.Driver, database string, accessMode neo4j.AccessMode, timeout time.Duration) *Transaction {
	t := &Transaction{
		session: driver.NewSession(neo4j.SessionConfig{
			AccessMode:   accessMode,
			DatabaseName: database,
		}),
		accessMode: accessMode,
		timeout:    timeout,
	}
	t.close = t.session.Close
	return t
}

func (t *Transaction) begin() error {
	if t.neo4jTransaction != nil {
		return nil
	}
	var configurers []func(*neo4j.TransactionConfig)
	if t.timeout > 0 {
		configurers = append(configurers, neo4j.WithTxTimeout(t.timeout))
	}
	neo4jTransaction, err := t.session.BeginTransaction(configurers...)
	if err != nil {
		return err
	}
	t.neo4jTransaction = neo4jTransaction
	return nil
}

func (t *Transaction) Run(cql string, params map[string]any) ([]*neo4j.Record, error) {
	if t.rollbackOnly {
		return nil, ErrRollbackOnly
	}
	if err := t.begin(); err != nil {
		return nil, err
	}
	result, err := t.neo4jTransaction.Run(cql, params)
	if err != nil {
		return nil, err
	}
	return result.Collect()
}

func (t *Transaction) Commit() error {
	if t.rollbackOnly {
		return ErrRollbackOnly
	}
	if t.neo4jTransaction == nil {
		return nil
	}
	return t.neo4jTransaction.Commit()
}

func (t *Transaction) Rollback() error {
	if t.neo4jTransaction == nil {
		return nil
	}
	return t.neo4jTransaction.Rollback()
}

func (t *Transaction) SetTimeout(timeout time.Duration) {
	t.timeout = timeout
}

//SetRollbackOnly makes every later statement and the commit fail with ErrRollbackOnly.
func (t *Transaction) SetRollbackOnly() {
	t.rollbackOnly = true
}

func (t *Transaction) IsRollbackOnly() bool {
	return t.rollbackOnly
}

func (t *Transaction) IsReadOnly() bool {
	return t.accessMode == neo4j.AccessModeRead
}

func (t *Transaction) Close() error {
	if t.neo4jTransaction != nil {
		t.neo4jTransaction.Close()
	}
	return t.close()
}
