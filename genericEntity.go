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

//GenericEntity is an instance of a kind registered without a Go type, for example from a YAML mapping.
//Properties holds simple values, associations (*GenericEntity, []*GenericEntity or *Deferred)
//and undeclared attributes alike.
type GenericEntity struct {
	Kind       string
	ID         Identity
	Labels     []string
	Properties map[string]any
}

func NewGenericEntity(kind string) *GenericEntity {
	return &GenericEntity{Kind: kind, Properties: map[string]any{}}
}

func (g *GenericEntity) Get(name string) any {
	return g.Properties[name]
}

func (g *GenericEntity) Set(name string, value any) *GenericEntity {
	if g.Properties == nil {
		g.Properties = map[string]any{}
	}
	g.Properties[name] = value
	return g
}

//DynamicLabels lets dynamically labelled generic kinds carry per instance labels.
func (g *GenericEntity) DynamicLabels() []string {
	return g.Labels
}

func (g *GenericEntity) String() string {
	return fmt.Sprintf("%s(%v)", g.Kind, g.ID)
}

type genericAccess struct {
	meta   *EntityMeta
	entity *GenericEntity
}

func (g *genericAccess) Entity() any {
	return g.entity
}

func (g *genericAccess) Meta() *EntityMeta {
	return g.meta
}

func (g *genericAccess) Identifier() Identity {
	return normalizeIdentity(g.entity.ID)
}

func (g *genericAccess) SetIdentifier(id Identity) error {
	g.entity.ID = normalizeIdentity(id)
	return nil
}

func (g *genericAccess) Property(name string) any {
	return g.entity.Properties[name]
}

func (g *genericAccess) SetProperty(name string, value any) error {
	g.entity.Set(name, value)
	return nil
}

func (g *genericAccess) Associated(name string) ([]any, bool) {
	switch v := g.entity.Properties[name].(type) {
	case nil:
		return nil, true
	case *Deferred:
		if !v.IsResolved() {
			return nil, false
		}
		return v.values, true
	case *GenericEntity:
		return []any{v}, true
	case []*GenericEntity:
		targets := make([]any, 0, len(v))
		for _, t := range v {
			if t != nil {
				targets = append(targets, t)
			}
		}
		return targets, true
	case []any:
		return v, true
	}
	return nil, true
}

func (g *genericAccess) SetAssociated(name string, targets []any) error {
	a := g.meta.Association(name)
	if a == nil {
		return fmt.Errorf("%s has no association %s", g.meta.Kind, name)
	}
	if isToOne(a) {
		if len(targets) == 0 {
			delete(g.entity.Properties, name)
			return nil
		}
		g.entity.Set(name, targets[0])
		return nil
	}
	entities := make([]*GenericEntity, 0, len(targets))
	for _, t := range targets {
		e, ok := t.(*GenericEntity)
		if !ok {
			return fmt.Errorf("cannot add %T to %s.%s", t, g.meta.Kind, name)
		}
		entities = append(entities, e)
	}
	g.entity.Set(name, entities)
	return nil
}

func (g *genericAccess) SetDeferred(name string, d *Deferred) bool {
	g.entity.Set(name, d)
	return true
}

//Attributes are the properties that are neither declared nor associations.
func (g *genericAccess) Attributes() map[string]any {
	declared := map[string]bool{}
	for _, p := range g.meta.allProperties() {
		declared[p] = true
	}
	for _, a := range g.meta.allAssociations() {
		declared[a.info().Name] = true
	}
	if g.meta.Versioned {
		declared[g.meta.versionProperty()] = true
	}
	attributes := map[string]any{}
	for k, v := range g.entity.Properties {
		if !declared[k] {
			attributes[k] = v
		}
	}
	return attributes
}

func (g *genericAccess) SetAttributes(attributes map[string]any) {
	for k, v := range attributes {
		g.entity.Set(k, v)
	}
}
