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
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	. "github.com/onsi/gomega"
)

const personInsert = "UNWIND $rows as row CREATE (n:Person) SET n += row.props RETURN ID(n) as id, row.idx as idx"

func TestFlushBatchesInsertsPerKind(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	alice, bob := &Person{Name: "Alice"}, &Person{Name: "Bob", Age: 41}

	g.Expect(session.Persist(alice, bob)).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())

	g.Expect(runner.Cyphers()).To(Equal([]string{personInsert}))
	rows := runner.Statements[0].Params["rows"].([]map[string]any)
	g.Expect(rows).To(HaveLen(2))
	g.Expect(rows[0]).To(Equal(map[string]any{"idx": int64(0), "props": map[string]any{"name": "Alice", "age": 0, "version": int64(0)}}))
	g.Expect(rows[1]["props"]).To(HaveKeyWithValue("age", 41))

	g.Expect(alice.ID).To(Equal(int64Ptr(1)))
	g.Expect(bob.ID).To(Equal(int64Ptr(2)))
	g.Expect(alice.Version).To(BeZero())
	g.Expect(session.FlushState()).To(Equal(Committed))

	loaded, err := session.Load("Person", int64(2))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(loaded).To(BeIdenticalTo(bob))
	g.Expect(runner.Statements).To(HaveLen(1))
}

func TestFlushCorrelatesIdentitiesByRowIndex(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	runner.Respond = func(cypher string, params map[string]any) ([]*neo4j.Record, error) {
		rows := params["rows"].([]map[string]any)
		records := make([]*neo4j.Record, 0, len(rows))
		for i := len(rows) - 1; i >= 0; i-- {
			idx := rows[i]["idx"].(int64)
			records = append(records, record([]string{"id", "idx"}, 100+idx, idx))
		}
		return records, nil
	}
	people := []*Person{{Name: "A"}, {Name: "B"}, {Name: "C"}}
	for _, p := range people {
		g.Expect(session.Persist(p)).To(Succeed())
	}
	g.Expect(session.Flush()).To(Succeed())

	for i, p := range people {
		g.Expect(*p.ID).To(Equal(int64(100 + i)))
	}
}

func TestFlushFailsWhenIdentitiesAreMissing(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	runner.Respond = func(string, map[string]any) ([]*neo4j.Record, error) {
		return []*neo4j.Record{record([]string{"id", "idx"}, int64(1), int64(0))}, nil
	}
	g.Expect(session.Persist(&Person{Name: "A"}, &Person{Name: "B"})).To(Succeed())

	err := session.Flush()
	var generationErr *IdentityGenerationError
	g.Expect(errors.As(err, &generationErr)).To(BeTrue())
	g.Expect(generationErr.Kind).To(Equal("Person"))
	g.Expect(session.FlushState()).To(Equal(Failed))
}

func TestFlushFailsOnDuplicateRowIndex(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	runner.Respond = func(string, map[string]any) ([]*neo4j.Record, error) {
		return []*neo4j.Record{
			record([]string{"id", "idx"}, int64(1), int64(0)),
			record([]string{"id", "idx"}, int64(2), int64(0)),
		}, nil
	}
	alice, bob := &Person{Name: "A"}, &Person{Name: "B"}
	g.Expect(session.Persist(alice, bob)).To(Succeed())

	err := session.Flush()
	var generationErr *IdentityGenerationError
	g.Expect(errors.As(err, &generationErr)).To(BeTrue())
	g.Expect(err).To(MatchError(ContainSubstring("row index 0 returned twice")))
	g.Expect(bob.ID).To(BeNil())
}

func TestFlushWritesAssociationsAfterInserts(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	acme := &Company{Name: "Acme"}
	alice := &Person{Name: "Alice", Employer: acme}

	g.Expect(session.Persist(alice)).To(Succeed())
	g.Expect(acme.Employees).To(Equal([]*Person{alice}))
	g.Expect(session.Flush()).To(Succeed())

	g.Expect(acme.UUID).To(Equal("c1"))
	g.Expect(runner.Cyphers()).To(Equal([]string{
		personInsert,
		"UNWIND $rows as row CREATE (n:Company) SET n += row.props RETURN n.uuid as id, row.idx as idx",
		"MATCH (from:Person), (to:Company) WHERE ID(from) = $start AND to.uuid IN $end MERGE (from)-[r:WORKS_FOR]->(to)",
		"MATCH (from:Company), (to:Person) WHERE from.uuid = $start AND ID(to) IN $end MERGE (from)<-[r:WORKS_FOR]-(to)",
	}))
	g.Expect(runner.Statements[1].Params["rows"]).To(Equal([]map[string]any{
		{"idx": int64(0), "props": map[string]any{"name": "Acme", "uuid": "c1"}},
	}))
	g.Expect(runner.Statements[2].Params).To(Equal(map[string]any{"start": int64(1), "end": []Identity{"c1"}}))
}

func TestFlushReplacesToOneOnUpdate(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	acme, globex := &Company{Name: "Acme"}, &Company{Name: "Globex"}
	alice := &Person{Name: "Alice", Employer: acme}
	g.Expect(session.Persist(alice, globex)).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())
	runner.Reset()

	alice.Employer = globex
	g.Expect(session.Flush()).To(Succeed())

	g.Expect(runner.Cyphers()).To(Equal([]string{
		"MATCH (from:Person)-[r:WORKS_FOR]->(to:Company) WHERE ID(from) IN $start DELETE r",
		"MATCH (from:Person), (to:Company) WHERE ID(from) = $start AND to.uuid IN $end MERGE (from)-[r:WORKS_FOR]->(to)",
		"MATCH (from:Person)-[r:WORKS_FOR]->(to:Company) WHERE ID(from) = $start AND to.uuid IN $end DELETE r",
	}))
	g.Expect(runner.Statements[1].Params["end"]).To(Equal([]Identity{globex.UUID}))
	g.Expect(runner.Statements[2].Params["end"]).To(Equal([]Identity{acme.UUID}))
}

func TestFlushUpdatesDirtyInstancesWithVersion(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	alice := &Person{Name: "Alice"}
	g.Expect(session.Persist(alice)).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())
	runner.Reset()

	alice.Name = "Alicia"
	g.Expect(session.Flush()).To(Succeed())

	g.Expect(runner.Cyphers()).To(Equal([]string{
		"MATCH (n:Person) WHERE ID(n) = $1 AND n.version = $2\nSET n += $3\n RETURN ID(n) as id",
	}))
	g.Expect(runner.Statements[0].Params).To(Equal(map[string]any{
		"1": int64(1),
		"2": int64(0),
		"3": map[string]any{"name": "Alicia", "version": int64(1)},
	}))
	g.Expect(alice.Version).To(Equal(int64(1)))

	runner.Reset()
	g.Expect(session.Flush()).To(Succeed())
	g.Expect(runner.Statements).To(BeEmpty())
}

func TestFlushReportsOptimisticLockConflict(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	alice := &Person{Name: "Alice"}
	g.Expect(session.Persist(alice)).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())

	runner.Respond = func(string, map[string]any) ([]*neo4j.Record, error) {
		return nil, nil
	}
	alice.Name = "Alicia"
	g.Expect(session.Persist(alice)).To(Succeed())

	err := session.Flush()
	g.Expect(IsConflict(err)).To(BeTrue())
	var lockErr *OptimisticLockError
	g.Expect(errors.As(err, &lockErr)).To(BeTrue())
	g.Expect(lockErr.Identity).To(Equal(int64(1)))
	g.Expect(lockErr.Version).To(BeZero())
	g.Expect(alice.Version).To(BeZero())
}

func TestFlushOrdersInsertsUpdatesDeletes(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	alice, bob := &Person{Name: "Alice"}, &Person{Name: "Bob"}
	g.Expect(session.Persist(alice, bob)).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())
	runner.Reset()

	g.Expect(session.Delete(bob)).To(Succeed())
	alice.Age = 30
	g.Expect(session.Persist(&Person{Name: "Carol"})).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())

	cyphers := runner.Cyphers()
	g.Expect(cyphers).To(HaveLen(3))
	g.Expect(cyphers[0]).To(Equal(personInsert))
	g.Expect(cyphers[1]).To(HavePrefix("MATCH (n:Person) WHERE ID(n) = $1 AND n.version = $2"))
	g.Expect(cyphers[2]).To(Equal("MATCH (n:Person) WHERE ID(n) IN $1\n DETACH DELETE n"))
	g.Expect(runner.Statements[2].Params).To(Equal(map[string]any{"1": []Identity{int64(2)}}))

	runner.Reset()
	runner.Respond = respondBy(nil)
	loaded, err := session.Load("Person", int64(2))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(loaded).To(BeNil())
	g.Expect(runner.Statements).To(HaveLen(1))
}

func TestDeleteOfUnflushedInsertIsDropped(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	alice := &Person{Name: "Alice"}
	g.Expect(session.Persist(alice)).To(Succeed())
	g.Expect(session.Delete(alice)).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())
	g.Expect(runner.Statements).To(BeEmpty())
	g.Expect(alice.ID).To(BeNil())
}

func TestRelateIsResolvedAtFlush(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	alice, bob := &Person{Name: "Alice"}, &Person{Name: "Bob"}
	g.Expect(session.Persist(alice)).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())
	runner.Reset()

	g.Expect(session.Persist(bob)).To(Succeed())
	g.Expect(session.Relate(alice, "friends", bob)).To(Succeed())
	g.Expect(session.Relate(alice, "enemies", bob)).To(HaveOccurred())
	g.Expect(session.Flush()).To(Succeed())

	g.Expect(runner.Cyphers()).To(Equal([]string{
		personInsert,
		"MATCH (from:Person), (to:Person) WHERE ID(from) = $start AND ID(to) IN $end MERGE (from)-[r:FRIEND]->(to)",
	}))
	g.Expect(runner.Statements[1].Params).To(Equal(map[string]any{"start": int64(1), "end": []Identity{int64(2)}}))

	runner.Reset()
	g.Expect(session.Unrelate(alice, "friends", bob)).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())
	g.Expect(runner.Cyphers()).To(Equal([]string{
		"MATCH (from:Person)-[r:FRIEND]->(to:Person) WHERE ID(from) = $start AND ID(to) IN $end DELETE r",
	}))
}

func TestFlushFailsWhenLedgerIsFull(t *testing.T) {
	g := NewWithT(t)
	session, _ := newTestSession(t, testRegistry(t), WithLedgerCapacity(2))
	acme := &Company{Name: "Acme"}
	for _, name := range []string{"A", "B", "C"} {
		g.Expect(session.Persist(&Person{Name: name, Employer: acme})).To(Succeed())
	}
	err := session.Flush()
	g.Expect(IsResourceExhausted(err)).To(BeTrue())
	g.Expect(session.FlushState()).To(Equal(Failed))
}

func TestFlushHonoursVetoes(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	listener := &recordingListener{vetoName: "Bob"}
	g.Expect(session.RegisterEventListener(listener)).To(Succeed())
	g.Expect(session.RegisterEventListener(listener)).To(HaveOccurred())
	alice, bob := &Person{Name: "Alice"}, &Person{Name: "Bob"}

	g.Expect(session.Persist(alice, bob)).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())

	rows := runner.Statements[0].Params["rows"].([]map[string]any)
	g.Expect(rows).To(HaveLen(1))
	g.Expect(alice.ID).ToNot(BeNil())
	g.Expect(bob.ID).To(BeNil())
	g.Expect(listener.inserted).To(Equal([]any{alice}))
	g.Expect(listener.flushes).To(Equal(1))

	g.Expect(session.DisposeEventListener(listener)).To(Succeed())
	g.Expect(session.DisposeEventListener(listener)).To(HaveOccurred())
}

func TestFlushWithoutTransaction(t *testing.T) {
	g := NewWithT(t)
	session := NewSession(testRegistry(t))
	g.Expect(session.Flush()).To(Succeed())

	g.Expect(session.Persist(&Person{Name: "Alice"})).To(Succeed())
	g.Expect(session.Flush()).To(MatchError(ErrNoTransaction))
	_, err := session.Query("MATCH (n) RETURN n", nil)
	g.Expect(err).To(MatchError(ErrNoTransaction))
}

func TestFlushInReadOnlyTransactionDiscardsWrites(t *testing.T) {
	g := NewWithT(t)
	session := NewSession(testRegistry(t))
	runner := readOnlyRunner{&RecordingRunner{}}
	session.UseTransaction(runner)

	alice := &Person{Name: "Alice"}
	g.Expect(session.Persist(alice)).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())
	g.Expect(runner.Statements).To(BeEmpty())
	g.Expect(alice.ID).To(BeNil())
}

func TestRollbackOnlyRejectsStatements(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	session.SetRollbackOnly()

	g.Expect(session.Persist(&Person{Name: "Alice"})).To(Succeed())
	g.Expect(session.Flush()).To(MatchError(ErrRollbackOnly))
	g.Expect(runner.Statements).To(BeEmpty())
	g.Expect(session.FlushState()).To(Equal(Failed))
	g.Expect(session.Commit()).To(MatchError(ErrRollbackOnly))
	g.Expect(runner.Committed).To(BeFalse())
	g.Expect(session.GetTransaction()).To(BeNil())
}

func TestRollbackForgetsCachedInstances(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	g.Expect(session.Persist(&Person{Name: "Alice"})).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())

	g.Expect(session.Rollback()).To(Succeed())
	g.Expect(runner.RolledBack).To(BeTrue())
	g.Expect(session.GetTransaction()).To(BeNil())

	runner.Reset()
	runner.Respond = respondBy(nil)
	session.UseTransaction(runner)
	loaded, err := session.Load("Person", int64(1))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(loaded).To(BeNil())
	g.Expect(runner.Statements).To(HaveLen(1))
}

func TestCommitFlushesThenCommits(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, testRegistry(t))
	g.Expect(session.Persist(&Person{Name: "Alice"})).To(Succeed())
	g.Expect(session.Commit()).To(Succeed())
	g.Expect(runner.Statements).To(HaveLen(1))
	g.Expect(runner.Committed).To(BeTrue())
	g.Expect(session.Commit()).To(MatchError(ErrNoTransaction))

	g.Expect(session.Disconnect()).To(Succeed())
	g.Expect(session.Persist(&Person{})).To(MatchError(ErrSessionClosed))
}

func TestDynamicAssociationsFromAttributes(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, genericRegistry(t))
	sponsor := NewGenericEntity("Company").Set("name", "Acme")
	owner := NewGenericEntity("Owner").Set("name", "Ann").Set("sponsor", sponsor)

	g.Expect(session.Persist(owner)).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())

	cyphers := runner.Cyphers()
	g.Expect(cyphers).To(HaveLen(3))
	g.Expect(cyphers[2]).To(Equal("MATCH (from:Owner), (to:Company) WHERE ID(from) = $start AND to.uuid IN $end MERGE (from)-[r:sponsor {sourceType:$sourceType, targetType:$targetType}]->(to)"))
	g.Expect(runner.Statements[2].Params["end"]).To(Equal([]Identity{"g1"}))
	g.Expect(runner.Statements[2].Params["targetType"]).To(Equal("Company"))

	runner.Reset()
	delete(owner.Properties, "sponsor")
	g.Expect(session.Flush()).To(Succeed())
	g.Expect(runner.Cyphers()).To(Equal([]string{
		"MATCH (from:Owner)-[r:sponsor {sourceType:$sourceType, targetType:$targetType}]->(to:Company) WHERE ID(from) = $start AND to.uuid IN $end DELETE r",
	}))
}

func TestDynamicAssociationNameIsQuoted(t *testing.T) {
	g := NewWithT(t)
	session, runner := newTestSession(t, genericRegistry(t))
	company := NewGenericEntity("Company").Set("name", "Acme")
	owner := NewGenericEntity("Owner").Set("x]->(to) DETACH DELETE to //", company)

	g.Expect(session.Persist(owner)).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())

	cyphers := runner.Cyphers()
	g.Expect(cyphers).To(HaveLen(3))
	g.Expect(cyphers[2]).To(Equal("MATCH (from:Owner), (to:Company) WHERE ID(from) = $start AND to.uuid IN $end MERGE (from)-[r:`x]->(to) DETACH DELETE to //` {sourceType:$sourceType, targetType:$targetType}]->(to)"))
}

type reentrantListener struct {
	session *SessionImpl
	err     error
}

func (l *reentrantListener) OnPostInsert(Event) { l.err = l.session.Flush() }
func (l *reentrantListener) OnPostUpdate(Event) {}
func (l *reentrantListener) OnPostDelete(Event) {}
func (l *reentrantListener) OnPostLoad(Event)   {}

func TestFlushFromListenerIsRejected(t *testing.T) {
	g := NewWithT(t)
	session, _ := newTestSession(t, testRegistry(t))
	listener := &reentrantListener{session: session}
	g.Expect(session.RegisterEventListener(listener)).To(Succeed())

	g.Expect(session.Persist(&Person{Name: "Alice"})).To(Succeed())
	g.Expect(session.Flush()).To(Succeed())
	g.Expect(listener.err).To(MatchError(ErrFlushInProgress))
	g.Expect(session.FlushState()).To(Equal(Committed))
}

type Team struct {
	ID      *int64    `gogm:"id"`
	Members []*Member `gogm:"members"`
}

type Member struct {
	ID   *int64  `gogm:"id"`
	Team *Person `gogm:"team"`
}

func TestPersistReportsUnwirableInverse(t *testing.T) {
	g := NewWithT(t)
	r := NewRegistry()
	g.Expect(r.Register(&Team{}, EntityMeta{Kind: "Team", Associations: []Association{
		&ToMany{AssociationInfo: AssociationInfo{Name: "members", Target: "Member", Type: "HAS", Inverse: "team"}},
	}})).To(Succeed())
	g.Expect(r.Register(&Member{}, EntityMeta{Kind: "Member", Associations: []Association{
		&ToOne{AssociationInfo: AssociationInfo{Name: "team", Target: "Team", Type: "HAS", Reversed: true, Inverse: "members"}},
	}})).To(Succeed())
	g.Expect(r.Validate()).To(Succeed())
	session, runner := newTestSession(t, r)

	err := session.Persist(&Team{Members: []*Member{{}}})
	g.Expect(err).To(MatchError(ContainSubstring("cannot wire Member.team back to Team")))
	g.Expect(session.Flush()).To(Succeed())
	g.Expect(runner.Statements).To(BeEmpty())
}
