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
	"reflect"
	"strings"
)

const (
	emptyString         = ""
	maxInheritanceDepth = 64
	tagName             = "gogm"
	idTag               = "id"
	attributesTag       = "attributes"
)

//MetadataProvider answers what the engine needs to know about entity kinds.
type MetadataProvider interface {
	Entity(kind string) (*EntityMeta, error)
	Entities() []*EntityMeta
	KindOf(entity any) (string, error)
	MostSpecific(base string, labels []string) *EntityMeta
}

//Registry is the in-process MetadataProvider. Go types are bound to kinds through
//`gogm:"<property>"` struct tags; GenericEntity kinds need no Go type.
type Registry struct {
	entities map[string]*EntityMeta
	order    []string
	types    map[reflect.Type]string
}

func NewRegistry() *Registry {
	return &Registry{
		entities: map[string]*EntityMeta{},
		types:    map[reflect.Type]string{},
	}
}

//Register binds prototype's struct type (a pointer to struct) to meta.
func (r *Registry) Register(prototype any, meta EntityMeta) error {
	t := reflect.TypeOf(prototype)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return configErrorf(meta.Kind, "prototype must be a pointer to a struct, got %T", prototype)
	}
	m, err := r.add(meta)
	if err != nil {
		return err
	}
	m.goType = t.Elem()
	m.fields = map[string][]int{}
	bindFields(m, t.Elem(), nil)
	r.types[t] = m.Kind
	return nil
}

//RegisterGeneric registers a kind whose instances are *GenericEntity values.
func (r *Registry) RegisterGeneric(meta EntityMeta) error {
	_, err := r.add(meta)
	return err
}

func (r *Registry) add(meta EntityMeta) (*EntityMeta, error) {
	if meta.Kind == emptyString {
		return nil, configErrorf("<unnamed>", "entity kind is required")
	}
	if _, exists := r.entities[meta.Kind]; exists {
		return nil, configErrorf(meta.Kind, "kind registered twice")
	}
	m := meta
	m.registry = r
	for _, a := range m.Associations {
		if a == nil {
			return nil, configErrorf(meta.Kind, "nil association")
		}
		info := a.info()
		if info.Owner == emptyString {
			info.Owner = m.Kind
		}
		if info.Name == emptyString || info.Target == emptyString {
			return nil, configErrorf(meta.Kind, "association requires a name and a target")
		}
	}
	if m.IDStrategy == AssignedID && m.IDGenerator == nil {
		return nil, configErrorf(meta.Kind, "assigned identities require an IDGenerator")
	}
	r.entities[m.Kind] = &m
	r.order = append(r.order, m.Kind)
	return &m, nil
}

func bindFields(m *EntityMeta, t reflect.Type, index []int) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fieldIndex := append(append([]int{}, index...), i)
		tag, hasTag := f.Tag.Lookup(tagName)
		if f.Anonymous && !hasTag && f.Type.Kind() == reflect.Struct {
			bindFields(m, f.Type, fieldIndex)
			continue
		}
		if !f.IsExported() || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		switch name {
		case idTag:
			m.idField = fieldIndex
		case attributesTag:
			m.attrs = fieldIndex
		case emptyString:
			m.fields[lowerFirst(f.Name)] = fieldIndex
		default:
			m.fields[name] = fieldIndex
		}
	}
}

func lowerFirst(s string) string {
	if s == emptyString {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

//Validate checks that parents, association targets and relationship ends resolve.
func (r *Registry) Validate() error {
	for _, kind := range r.order {
		m := r.entities[kind]
		if m.Parent != emptyString {
			if _, ok := r.entities[m.Parent]; !ok {
				return configErrorf(kind, "unknown parent kind %s", m.Parent)
			}
			if len(m.chain()) > maxInheritanceDepth {
				return configErrorf(kind, "inheritance chain is cyclic or deeper than %d", maxInheritanceDepth)
			}
		}
		if m.goType != nil {
			for _, p := range m.Properties {
				if _, bound := m.fields[p]; !bound && p != relationshipTypeKey {
					return configErrorf(kind, "property %s has no field", p)
				}
			}
			if _, bound := m.fields[m.versionProperty()]; m.Versioned && !bound {
				return configErrorf(kind, "versioned kind has no %s field", m.versionProperty())
			}
		}
		for _, a := range m.Associations {
			info := a.info()
			target, ok := r.entities[info.Target]
			if !ok {
				return configErrorf(kind, "association %s targets unknown kind %s", info.Name, info.Target)
			}
			if info.Inverse != emptyString && target.Association(info.Inverse) == nil {
				return configErrorf(kind, "association %s has unknown inverse %s.%s", info.Name, info.Target, info.Inverse)
			}
			if m.goType != nil {
				if _, bound := m.fields[info.Name]; !bound {
					return configErrorf(kind, "association %s has no field", info.Name)
				}
			}
		}
		if rel := m.Relationship; rel != nil {
			from, _ := m.Association(rel.From).(*ToOne)
			to, _ := m.Association(rel.To).(*ToOne)
			if from == nil || to == nil {
				return configErrorf(kind, "relationship entity needs to-one associations %q and %q", rel.From, rel.To)
			}
			if rel.Type == emptyString {
				return configErrorf(kind, "relationship entity needs a type")
			}
			if m.IDStrategy != NativeID {
				return configErrorf(kind, "relationship entities use native identities")
			}
		}
	}
	return nil
}

func (r *Registry) Entity(kind string) (*EntityMeta, error) {
	if m, ok := r.entities[kind]; ok {
		return m, nil
	}
	return nil, configErrorf(kind, "unknown entity kind")
}

func (r *Registry) Entities() []*EntityMeta {
	metas := make([]*EntityMeta, 0, len(r.order))
	for _, kind := range r.order {
		metas = append(metas, r.entities[kind])
	}
	return metas
}

func (r *Registry) KindOf(entity any) (string, error) {
	if g, ok := entity.(*GenericEntity); ok {
		if g == nil {
			return emptyString, configErrorf("GenericEntity", "nil entity has no kind")
		}
		if _, known := r.entities[g.Kind]; !known {
			return emptyString, configErrorf(g.Kind, "unknown entity kind")
		}
		return g.Kind, nil
	}
	t := reflect.TypeOf(entity)
	if t == nil {
		return emptyString, configErrorf("<nil>", "nil entity has no kind")
	}
	if kind, ok := r.types[t]; ok {
		return kind, nil
	}
	return emptyString, configErrorf(t.String(), "type is not registered")
}

//MostSpecific picks, among base and the kinds deriving from it, the one carrying one of
//labels with the longest inheritance chain. Equal lengths keep the first seen.
func (r *Registry) MostSpecific(base string, labels []string) *EntityMeta {
	baseMeta := r.entities[base]
	var (
		result  *EntityMeta
		longest = -1
	)
	for _, label := range labels {
		for _, kind := range r.order {
			candidate := r.entities[kind]
			if !candidate.hasLabel(label) {
				continue
			}
			depth, derived := derivationDepth(candidate, base)
			if !derived {
				continue
			}
			if depth > longest {
				longest = depth
				result = candidate
			}
			break
		}
	}
	if result != nil {
		return result
	}
	return baseMeta
}

//derivationDepth walks the parent chain of candidate iteratively. It returns the
//chain length of candidate and whether base is part of that chain.
func derivationDepth(candidate *EntityMeta, base string) (int, bool) {
	var (
		derived bool
		depth   int
		current = candidate
	)
	for current != nil && depth <= maxInheritanceDepth {
		if current.Kind == base {
			derived = true
		}
		depth++
		current = current.parent()
	}
	return depth, derived
}
