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

import "fmt"

type deferredState int

const (
	pending deferredState = iota
	resolved
)

//DeferredQuery describes how a pending Deferred finds its values: by identities, or by
//walking Association from Owner.
type DeferredQuery struct {
	Kind        string
	Identities  []Identity
	Owner       Identity
	Association Association
	//Native marks Identities as backend native ids even when Kind assigns its own.
	Native bool
	Single bool
}

//Deferred is an association value that is either resolved or pending a query. Callers
//must call Resolve before reading a pending value.
type Deferred struct {
	state  deferredState
	values []any
	query  DeferredQuery
	load   func(DeferredQuery) ([]any, error)
}

//Resolved wraps values that are already known.
func Resolved(values ...any) *Deferred {
	return &Deferred{state: resolved, values: values}
}

//Pending wraps a query that load runs on the first Resolve.
func Pending(query DeferredQuery, load func(DeferredQuery) ([]any, error)) *Deferred {
	return &Deferred{state: pending, query: query, load: load}
}

func (d *Deferred) IsResolved() bool {
	return d.state == resolved
}

func (d *Deferred) Query() DeferredQuery {
	return d.query
}

//Identity returns the identity of a single valued deferred reference, or nil.
func (d *Deferred) Identity() Identity {
	if d.query.Single && len(d.query.Identities) == 1 {
		return d.query.Identities[0]
	}
	return nil
}

//Resolve runs the pending query once and returns the values.
func (d *Deferred) Resolve() ([]any, error) {
	if d.state == resolved {
		return d.values, nil
	}
	if d.load == nil {
		return nil, fmt.Errorf("deferred %s has no loader", d.query.Kind)
	}
	values, err := d.load(d.query)
	if err != nil {
		return nil, err
	}
	d.values = values
	d.state = resolved
	d.load = nil
	return values, nil
}

//ResolveAs resolves d as a single value of type T. A missing value yields the zero T.
func ResolveAs[T any](d *Deferred) (T, error) {
	var zero T
	if d == nil {
		return zero, nil
	}
	values, err := d.Resolve()
	if err != nil || len(values) == 0 {
		return zero, err
	}
	value, ok := values[0].(T)
	if !ok {
		return zero, fmt.Errorf("deferred value is %T, not %T", values[0], zero)
	}
	return value, nil
}

//ResolveAll resolves d as a collection of T.
func ResolveAll[T any](d *Deferred) ([]T, error) {
	if d == nil {
		return nil, nil
	}
	values, err := d.Resolve()
	if err != nil {
		return nil, err
	}
	result := make([]T, 0, len(values))
	for _, v := range values {
		value, ok := v.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("deferred value is %T, not %T", v, zero)
		}
		result = append(result, value)
	}
	return result, nil
}

//AssociationQueryExecutor loads the targets of one association of an owner.
type AssociationQueryExecutor interface {
	QueryAssociation(owner Identity) ([]any, error)
}

//DeferredFactory creates pending references for lazily loaded associations.
type DeferredFactory interface {
	ForIdentity(kind string, id Identity) *Deferred
	ForIdentities(kind string, ids []Identity) *Deferred
	ForAssociation(kind string, executor AssociationQueryExecutor, owner Identity) *Deferred
}
