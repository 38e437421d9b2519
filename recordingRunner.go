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
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
)

//RecordedStatement is one statement a RecordingRunner received.
type RecordedStatement struct {
	Cypher string
	Params map[string]any
}

//RecordingRunner is a Runner that keeps the statements it receives instead of sending them.
//Respond, when set, supplies the records of each statement. Otherwise every returned column
//is answered with a fresh int64, so that a flush can complete without a database.
type RecordingRunner struct {
	Statements []RecordedStatement
	Respond    func(cypher string, params map[string]any) ([]*neo4j.Record, error)
	Committed  bool
	RolledBack bool
	Timeout    time.Duration

	rollbackOnly bool
	nextID       int64
}

func (r *RecordingRunner) Run(cypher string, params map[string]any) ([]*neo4j.Record, error) {
	if r.rollbackOnly {
		return nil, ErrRollbackOnly
	}
	r.Statements = append(r.Statements, RecordedStatement{Cypher: cypher, Params: params})
	if r.Respond != nil {
		return r.Respond(cypher, params)
	}
	return r.synthesize(cypher, params), nil
}

func (r *RecordingRunner) Commit() error {
	if r.rollbackOnly {
		return ErrRollbackOnly
	}
	r.Committed = true
	return nil
}

func (r *RecordingRunner) Rollback() error {
	r.RolledBack = true
	return nil
}

func (r *RecordingRunner) SetTimeout(timeout time.Duration) {
	r.Timeout = timeout
}

func (r *RecordingRunner) SetRollbackOnly() {
	r.rollbackOnly = true
}

//Cyphers lists the recorded statement texts in order.
func (r *RecordingRunner) Cyphers() []string {
	cyphers := make([]string, len(r.Statements))
	for i, s := range r.Statements {
		cyphers[i] = s.Cypher
	}
	return cyphers
}

func (r *RecordingRunner) Reset() {
	r.Statements = nil
	r.Committed = false
	r.RolledBack = false
}

func (r *RecordingRunner) synthesize(cypher string, params map[string]any) []*neo4j.Record {
	columns := returnColumns(cypher)
	if len(columns) == 0 {
		return nil
	}
	//one row per unwound input row, carrying its position back
	if rows, ok := params[rowsParam].([]map[string]any); ok {
		records := make([]*neo4j.Record, len(rows))
		for i, row := range rows {
			values := make([]any, len(columns))
			for j, column := range columns {
				if column == idxColumn {
					values[j] = row[idxColumn]
				} else {
					values[j] = r.next()
				}
			}
			records[i] = &neo4j.Record{Keys: columns, Values: values}
		}
		return records
	}
	values := make([]any, len(columns))
	for i := range columns {
		values[i] = r.next()
	}
	return []*neo4j.Record{{Keys: columns, Values: values}}
}

func (r *RecordingRunner) next() int64 {
	r.nextID++
	return r.nextID
}

//returnColumns reads the aliases of the RETURN clause of cypher.
func returnColumns(cypher string) []string {
	i := strings.LastIndex(cypher, cypherReturn)
	if i < 0 {
		return nil
	}
	var columns []string
	for _, column := range strings.Split(strings.TrimSpace(cypher[i+len(cypherReturn):]), separator) {
		if j := strings.LastIndex(column, ` as `); j >= 0 {
			column = column[j+len(` as `):]
		}
		if fields := strings.Fields(column); len(fields) > 0 {
			columns = append(columns, fields[0])
		}
	}
	return columns
}
