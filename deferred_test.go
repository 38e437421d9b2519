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

	. "github.com/onsi/gomega"
)

func TestDeferredResolvesOnce(t *testing.T) {
	g := NewWithT(t)
	calls := 0
	d := Pending(DeferredQuery{Kind: "Owner", Identities: []Identity{int64(4)}, Single: true}, func(q DeferredQuery) ([]any, error) {
		calls++
		return []any{NewGenericEntity(q.Kind)}, nil
	})
	g.Expect(d.IsResolved()).To(BeFalse())
	g.Expect(d.Identity()).To(Equal(int64(4)))

	first, err := ResolveAs[*GenericEntity](d)
	g.Expect(err).ToNot(HaveOccurred())
	second, err := ResolveAs[*GenericEntity](d)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(second).To(BeIdenticalTo(first))
	g.Expect(calls).To(Equal(1))
	g.Expect(d.IsResolved()).To(BeTrue())
}

func TestDeferredKeepsPendingOnError(t *testing.T) {
	g := NewWithT(t)
	failure := errors.New("unreachable")
	fail := true
	d := Pending(DeferredQuery{Kind: "Owner"}, func(DeferredQuery) ([]any, error) {
		if fail {
			return nil, failure
		}
		return []any{"ok"}, nil
	})

	_, err := d.Resolve()
	g.Expect(err).To(MatchError(failure))
	g.Expect(d.IsResolved()).To(BeFalse())

	fail = false
	values, err := d.Resolve()
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(values).To(Equal([]any{"ok"}))
}

func TestResolveAsTypes(t *testing.T) {
	g := NewWithT(t)

	missing, err := ResolveAs[*Person](Resolved())
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(missing).To(BeNil())

	_, err = ResolveAs[*Person](Resolved(&Company{}))
	g.Expect(err).To(MatchError(ContainSubstring("not *gogm.Person")))

	people, err := ResolveAll[*Person](Resolved(&Person{Name: "a"}, &Person{Name: "b"}))
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(people).To(HaveLen(2))

	_, err = ResolveAll[*Person](Resolved(&Person{}, &Company{}))
	g.Expect(err).To(HaveOccurred())

	none, err := ResolveAll[*Person](nil)
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(none).To(BeNil())

	_, err = Pending(DeferredQuery{Kind: "Owner"}, nil).Resolve()
	g.Expect(err).To(MatchError(ContainSubstring("has no loader")))
}

func TestDeferredIdentityOnlyForSingleReference(t *testing.T) {
	g := NewWithT(t)

	g.Expect(Pending(DeferredQuery{Identities: []Identity{int64(1), int64(2)}}, nil).Identity()).To(BeNil())
	g.Expect(Pending(DeferredQuery{Identities: []Identity{int64(1)}}, nil).Identity()).To(BeNil())
	g.Expect(Resolved(NewGenericEntity("Owner")).Identity()).To(BeNil())
}
