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
	"strconv"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
)

type Person struct {
	ID       *int64         `gogm:"id"`
	Name     string         `gogm:"name"`
	Age      int            `gogm:"age"`
	Version  int64          `gogm:"version"`
	Employer *Company       `gogm:"employer"`
	Friends  []*Person      `gogm:"friends"`
	Attrs    map[string]any `gogm:"attributes"`
}

type Company struct {
	UUID      string    `gogm:"id"`
	Name      string    `gogm:"name"`
	Employees []*Person `gogm:"employees"`
}

type prefixGenerator struct {
	prefix string
	n      int
}

func (g *prefixGenerator) NextID() (Identity, error) {
	g.n++
	return g.prefix + strconv.Itoa(g.n), nil
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	err := r.Register(&Person{}, EntityMeta{
		Kind:       "Person",
		Properties: []string{"name", "age"},
		Versioned:  true,
		Associations: []Association{
			&ToOne{AssociationInfo: AssociationInfo{Name: "employer", Target: "Company", Type: "WORKS_FOR", Inverse: "employees"}},
			&ManyToMany{AssociationInfo: AssociationInfo{Name: "friends", Target: "Person", Type: "FRIEND"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	err = r.Register(&Company{}, EntityMeta{
		Kind:        "Company",
		Properties:  []string{"name"},
		IDStrategy:  AssignedID,
		IDProperty:  "uuid",
		IDGenerator: &prefixGenerator{prefix: "c"},
		Associations: []Association{
			&ToMany{AssociationInfo: AssociationInfo{Name: "employees", Target: "Person", Type: "WORKS_FOR", Reversed: true, Inverse: "employer"}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err = r.Validate(); err != nil {
		t.Fatal(err)
	}
	return r
}

const genericMapping = `
entities:
  - kind: Animal
    properties: [name]
  - kind: Dog
    parent: Animal
    properties: [breed]
  - kind: Owner
    properties: [name]
    dynamicAssociations: true
    associations:
      - name: pets
        cardinality: oneToMany
        target: Pet
        type: OWNS
        fetch: eager
        inverse: owner
      - name: mentor
        cardinality: toOne
        target: Owner
        type: MENTORS
        reversed: true
      - name: friends
        cardinality: manyToMany
        target: Owner
        type: FRIEND
      - name: employer
        cardinality: toOne
        target: Company
        type: WORKS_FOR
  - kind: Pet
    properties: [name]
    associations:
      - name: owner
        cardinality: manyToOne
        target: Owner
        type: OWNS
        reversed: true
        inverse: pets
  - kind: Company
    idStrategy: assigned
    idGenerator: seq
    idProperty: uuid
    properties: [name]
`

func genericRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := ParseMapping([]byte(genericMapping), map[string]IDGenerator{"seq": &prefixGenerator{prefix: "g"}})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func newTestSession(t *testing.T, provider MetadataProvider, options ...SessionOption) (*SessionImpl, *RecordingRunner) {
	t.Helper()
	session := NewSession(provider, options...)
	runner := &RecordingRunner{}
	session.UseTransaction(runner)
	return session, runner
}

func record(keys []string, values ...any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

//respondBy answers each statement with the records of the first fragment it contains.
func respondBy(answers map[string][]*neo4j.Record) func(string, map[string]any) ([]*neo4j.Record, error) {
	return func(cypher string, _ map[string]any) ([]*neo4j.Record, error) {
		best := ""
		for fragment := range answers {
			if strings.Contains(cypher, fragment) && len(fragment) > len(best) {
				best = fragment
			}
		}
		if best == "" {
			return nil, nil
		}
		return answers[best], nil
	}
}

type recordingListener struct {
	inserted []any
	updated  []any
	deleted  []any
	loaded   []any
	flushes  int
	vetoName string
}

func (l *recordingListener) OnPostInsert(e Event) { l.inserted = append(l.inserted, e.Entity) }
func (l *recordingListener) OnPostUpdate(e Event) { l.updated = append(l.updated, e.Entity) }
func (l *recordingListener) OnPostDelete(e Event) { l.deleted = append(l.deleted, e.Entity) }
func (l *recordingListener) OnPostLoad(e Event)   { l.loaded = append(l.loaded, e.Entity) }
func (l *recordingListener) OnFlushed()           { l.flushes++ }

func (l *recordingListener) VetoInsert(e Event) bool {
	p, ok := e.Entity.(*Person)
	return ok && l.vetoName != "" && p.Name == l.vetoName
}
func (l *recordingListener) VetoUpdate(Event) bool { return false }
func (l *recordingListener) VetoDelete(Event) bool { return false }

type readOnlyRunner struct {
	*RecordingRunner
}

func (readOnlyRunner) IsReadOnly() bool { return true }

func int64Ptr(v int64) *int64 {
	return &v
}

const ratingMapping = `
entities:
  - kind: Critic
    properties: [name]
    associations:
      - name: ratings
        cardinality: oneToMany
        target: Rating
        fetch: eager
        cascadeRemove: true
      - name: drafts
        cardinality: oneToMany
        target: Film
        type: DRAFTED
        cascadeRemove: true
  - kind: Film
    properties: [title]
  - kind: Rating
    relationship:
      type: RATED
      from: critic
      to: film
    properties: [stars]
    associations:
      - name: critic
        cardinality: toOne
        target: Critic
      - name: film
        cardinality: toOne
        target: Film
  - kind: Tag
    dynamicLabels: true
    properties: [name]
`

func ratingRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := ParseMapping([]byte(ratingMapping), nil)
	if err != nil {
		t.Fatal(err)
	}
	return r
}
