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
	"testing"

	gogm "github.com/disneystreaming/neo4j-go-ogm-uow"
	. "github.com/onsi/gomega"
)

const testMapping = `
entities:
  - kind: Person
    properties: [name]
    dynamicAssociations: true
    associations:
      - name: employer
        cardinality: toOne
        target: Company
      - name: friends
        cardinality: manyToMany
        target: Person
  - kind: Company
    properties: [name]
`

func TestBuildEntitiesLinksRefs(t *testing.T) {
	g := NewWithT(t)
	registry, err := gogm.ParseMapping([]byte(testMapping), nil)
	g.Expect(err).ToNot(HaveOccurred())

	data := dataFile{Entities: []dataEntity{
		{Ref: "acme", Kind: "Company", Properties: map[string]any{"name": "Acme"}},
		{Ref: "bob", Kind: "Person", Properties: map[string]any{"name": "Bob"}},
		{Ref: "alice", Kind: "Person", Properties: map[string]any{"name": "Alice"}, Associations: map[string][]string{
			"employer": {"acme"},
			"friends":  {"bob"},
			"mentor":   {"bob"},
		}},
	}}
	entities, err := buildEntities(data, registry)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(entities).To(HaveLen(3))

	alice := entities[2]
	g.Expect(alice.Get("employer")).To(BeIdenticalTo(entities[0]))
	g.Expect(alice.Get("friends")).To(Equal([]*gogm.GenericEntity{entities[1]}))
	g.Expect(alice.Get("mentor")).To(BeIdenticalTo(entities[1]))
}

func TestBuildEntitiesRejectsBadRefs(t *testing.T) {
	g := NewWithT(t)
	registry, err := gogm.ParseMapping([]byte(testMapping), nil)
	g.Expect(err).ToNot(HaveOccurred())

	_, err = buildEntities(dataFile{Entities: []dataEntity{
		{Ref: "alice", Kind: "Person", Associations: map[string][]string{"employer": {"nobody"}}},
	}}, registry)
	g.Expect(err).To(MatchError(ContainSubstring("unknown ref")))

	_, err = buildEntities(dataFile{Entities: []dataEntity{
		{Ref: "a", Kind: "Company"},
		{Ref: "b", Kind: "Company"},
		{Ref: "alice", Kind: "Person", Associations: map[string][]string{"employer": {"a", "b"}}},
	}}, registry)
	g.Expect(err).To(MatchError(ContainSubstring("exactly one")))

	_, err = buildEntities(dataFile{Entities: []dataEntity{{Kind: "Robot"}}}, registry)
	g.Expect(err).To(HaveOccurred())
}

func TestPlainConvertsNestedMaps(t *testing.T) {
	g := NewWithT(t)
	v := plain(map[interface{}]interface{}{"a": []interface{}{map[interface{}]interface{}{1: "x"}}})
	g.Expect(v).To(Equal(map[string]any{"a": []interface{}{map[string]any{"1": "x"}}}))
}
