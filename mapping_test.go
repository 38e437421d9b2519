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
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
)

func TestParseMappingBuildsGenericKinds(t *testing.T) {
	g := NewWithT(t)
	r := genericRegistry(t)

	owner := mustMeta(t, r, "Owner")
	g.Expect(owner.DynamicAssociations).To(BeTrue())
	g.Expect(owner.IDStrategy).To(Equal(NativeID))
	g.Expect(owner.Association("pets")).To(BeAssignableToTypeOf(&ToMany{}))
	g.Expect(Info(owner.Association("pets")).Fetch).To(Equal(Eager))
	g.Expect(owner.Association("friends")).To(BeAssignableToTypeOf(&ManyToMany{}))

	owns := mustMeta(t, r, "Pet").Association("owner")
	g.Expect(owns).To(BeAssignableToTypeOf(&ToOne{}))
	g.Expect(Info(owns).Reversed).To(BeTrue())
	g.Expect(Info(owns).Inverse).To(Equal("pets"))
	g.Expect(Info(owns).Fetch).To(Equal(Lazy))

	company := mustMeta(t, r, "Company")
	g.Expect(company.IDStrategy).To(Equal(AssignedID))
	g.Expect(company.IDGenerator).ToNot(BeNil())
	g.Expect(company.idProperty()).To(Equal("uuid"))
}

func TestLoadMappingReadsFile(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	g.Expect(os.WriteFile(path, []byte(genericMapping), 0o600)).To(Succeed())

	r, err := LoadMapping(path, map[string]IDGenerator{"seq": &prefixGenerator{prefix: "g"}})
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(r.Entities()).To(HaveLen(5))

	_, err = LoadMapping(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	g.Expect(err).To(HaveOccurred())
}

func TestParseMappingErrors(t *testing.T) {
	tests := []struct {
		name     string
		mapping  string
		expected string
	}{
		{
			name: "unknown cardinality",
			mapping: `
entities:
  - kind: Owner
    associations:
      - name: pets
        cardinality: several
        target: Owner
`,
			expected: `unknown cardinality "several"`,
		},
		{
			name: "unknown fetch",
			mapping: `
entities:
  - kind: Owner
    associations:
      - name: pets
        target: Owner
        fetch: sometimes
`,
			expected: `unknown fetch "sometimes"`,
		},
		{
			name: "unknown generator",
			mapping: `
entities:
  - kind: Company
    idStrategy: assigned
    idGenerator: snowflake
`,
			expected: `unknown id generator "snowflake"`,
		},
		{
			name: "unknown strategy",
			mapping: `
entities:
  - kind: Company
    idStrategy: hashed
`,
			expected: `unknown id strategy "hashed"`,
		},
		{
			name: "unknown field",
			mapping: `
entities:
  - kind: Company
    indexes: [name]
`,
			expected: "field indexes not found",
		},
		{
			name: "dangling target",
			mapping: `
entities:
  - kind: Owner
    associations:
      - name: pets
        target: Pet
`,
			expected: "targets unknown kind Pet",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			_, err := ParseMapping([]byte(tt.mapping), nil)
			g.Expect(err).To(MatchError(ContainSubstring(tt.expected)))
		})
	}
}
