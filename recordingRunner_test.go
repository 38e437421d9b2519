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
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	. "github.com/onsi/gomega"
)

func TestReturnColumns(t *testing.T) {
	g := NewWithT(t)

	g.Expect(returnColumns("MATCH (n) RETURN n as data, collect(DISTINCT a0.uuid) as employerIds")).To(Equal([]string{"data", "employerIds"}))
	g.Expect(returnColumns("UNWIND $rows as row CREATE (n:Person) SET n += row.props RETURN ID(n) as id, row.idx as idx")).To(Equal([]string{"id", "idx"}))
	g.Expect(returnColumns("MATCH (n) RETURN n")).To(Equal([]string{"n"}))
	g.Expect(returnColumns("MATCH (n) DETACH DELETE n")).To(BeEmpty())
}

func TestRecordingRunnerSynthesizesRecords(t *testing.T) {
	g := NewWithT(t)
	runner := &RecordingRunner{}

	rows := []map[string]any{{"idx": 0}, {"idx": 1}}
	records, err := runner.Run("UNWIND $rows as row CREATE (n:Person) SET n += row.props RETURN ID(n) as id, row.idx as idx", map[string]any{"rows": rows})
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(records).To(HaveLen(2))
	g.Expect(records[0].Values).To(Equal([]any{int64(1), 0}))
	g.Expect(records[1].Values).To(Equal([]any{int64(2), 1}))

	records, err = runner.Run("MATCH (n) WHERE ID(n) = $1 RETURN ID(n) as id", map[string]any{"1": int64(1)})
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(records).To(HaveLen(1))
	id, _ := records[0].Get("id")
	g.Expect(id).To(Equal(int64(3)))

	records, err = runner.Run("MATCH (n) DETACH DELETE n", nil)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(records).To(BeNil())
	g.Expect(runner.Cyphers()).To(HaveLen(3))
}

func TestRecordingRunnerRespondAndLifecycle(t *testing.T) {
	g := NewWithT(t)
	runner := &RecordingRunner{
		Respond: func(string, map[string]any) ([]*neo4j.Record, error) {
			return []*neo4j.Record{record([]string{"total"}, int64(42))}, nil
		},
	}

	records, err := runner.Run("MATCH (n) RETURN count(n) as total", nil)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(records[0].Values).To(Equal([]any{int64(42)}))

	runner.SetTimeout(time.Second)
	g.Expect(runner.Timeout).To(Equal(time.Second))
	g.Expect(runner.Commit()).To(Succeed())
	g.Expect(runner.Committed).To(BeTrue())

	runner.Reset()
	g.Expect(runner.Statements).To(BeEmpty())
	g.Expect(runner.Committed).To(BeFalse())

	runner.SetRollbackOnly()
	_, err = runner.Run("MATCH (n) RETURN n", nil)
	g.Expect(err).To(MatchError(ErrRollbackOnly))
	g.Expect(runner.Statements).To(BeEmpty())
	g.Expect(runner.Commit()).To(MatchError(ErrRollbackOnly))
	g.Expect(runner.Rollback()).To(Succeed())
	g.Expect(runner.RolledBack).To(BeTrue())
}
