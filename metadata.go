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

//Identity is either a backend-native node/relationship id (int64) assigned after insert,
//or an application assigned key set before insert. nil means absent.
type Identity = any

//IDGenerator produces application assigned identities.
type IDGenerator interface {
	NextID() (Identity, error)
}

//IdentityStrategy selects how a kind obtains identities. A kind uses exactly one.
type IdentityStrategy int

const (
	NativeID IdentityStrategy = iota
	AssignedID
)

//FetchType is the fetch strategy of an association.
type FetchType int

const (
	Lazy FetchType = iota
	Eager
)

const (
	defaultIDProperty      = "__id__"
	defaultVersionProperty = "version"
	relationshipTypeKey    = "type"
	sourceTypeKey          = "sourceType"
	targetTypeKey          = "targetType"
)

//AssociationInfo carries the descriptor fields shared by every association variant.
type AssociationInfo struct {
	Name   string
	Owner  string
	Target string
	//Type is the relationship type. Defaults to the upper-cased name.
	Type string
	//Reversed marks the logical owner as the physical end of the edge.
	Reversed      bool
	CascadeRemove bool
	Fetch         FetchType
	//Inverse names the association on Target that mirrors this one.
	Inverse string
}

func (a *AssociationInfo) info() *AssociationInfo {
	return a
}

func (a *AssociationInfo) relationshipType() string {
	if a.Type != emptyString {
		return a.Type
	}
	return strings.ToUpper(a.Name)
}

func (a *AssociationInfo) key() string {
	return a.Owner + "." + a.Name + ">" + a.Target
}

//Association is a closed set of variants: *ToOne, *ToMany, *ManyToMany and *Dynamic.
type Association interface {
	info() *AssociationInfo
}

//ToOne is a single valued association. OneToOne marks a bidirectional one-to-one.
type ToOne struct {
	AssociationInfo
	OneToOne bool
}

//ToMany is a one-to-many association.
type ToMany struct {
	AssociationInfo
}

//ManyToMany is a many-to-many association.
type ManyToMany struct {
	AssociationInfo
}

//Dynamic is an association discovered at runtime from schemaless attributes.
type Dynamic struct {
	AssociationInfo
}

//Info exposes the descriptor of any association variant.
func Info(a Association) AssociationInfo {
	return *a.info()
}

func isToOne(a Association) bool {
	switch a.(type) {
	case *ToOne:
		return true
	case *Dynamic:
		return false
	case *ToMany, *ManyToMany:
		return false
	}
	return false
}

//RelationshipMeta describes a reified relationship entity.
type RelationshipMeta struct {
	Type string
	//From and To name the two to-one associations holding the edge ends.
	From string
	To   string
}

//EntityMeta is what the metadata provider knows about one entity kind.
type EntityMeta struct {
	Kind   string
	Labels []string
	//Parent is the kind this kind inherits labels and properties from.
	Parent              string
	Properties          []string
	Associations        []Association
	IDStrategy          IdentityStrategy
	IDProperty          string
	IDGenerator         IDGenerator
	Versioned           bool
	VersionProperty     string
	Relationship        *RelationshipMeta
	DynamicLabels       bool
	DynamicAssociations bool

	registry *Registry
	goType   reflect.Type
	fields   map[string][]int
	idField  []int
	attrs    []int
}

//IsRelationshipEntity reports whether the kind models a graph edge.
func (m *EntityMeta) IsRelationshipEntity() bool {
	return m.Relationship != nil
}

func (m *EntityMeta) idProperty() string {
	if m.IDProperty != emptyString {
		return m.IDProperty
	}
	return defaultIDProperty
}

func (m *EntityMeta) versionProperty() string {
	if m.VersionProperty != emptyString {
		return m.VersionProperty
	}
	return defaultVersionProperty
}

//FormatID renders the identity expression of variable for this kind.
func (m *EntityMeta) FormatID(variable string) string {
	if m.IDStrategy == NativeID {
		return `ID(` + variable + `)`
	}
	return variable + `.` + m.idProperty()
}

//Association returns the declared association called name.
func (m *EntityMeta) Association(name string) Association {
	for _, a := range m.allAssociations() {
		if a.info().Name == name {
			return a
		}
	}
	return nil
}

func (m *EntityMeta) parent() *EntityMeta {
	if m.Parent == emptyString || m.registry == nil {
		return nil
	}
	return m.registry.entities[m.Parent]
}

//chain walks from m up through its parents, bounded against cyclic declarations.
func (m *EntityMeta) chain() []*EntityMeta {
	var (
		chain   []*EntityMeta
		current = m
	)
	for depth := 0; current != nil && depth <= maxInheritanceDepth; depth++ {
		chain = append(chain, current)
		current = current.parent()
	}
	return chain
}

func (m *EntityMeta) allProperties() []string {
	var props []string
	seen := map[string]bool{}
	chain := m.chain()
	for i := len(chain) - 1; i >= 0; i-- {
		for _, p := range chain[i].Properties {
			if !seen[p] {
				seen[p] = true
				props = append(props, p)
			}
		}
	}
	return props
}

func (m *EntityMeta) allAssociations() []Association {
	var associations []Association
	chain := m.chain()
	for i := len(chain) - 1; i >= 0; i-- {
		associations = append(associations, chain[i].Associations...)
	}
	return associations
}

//LabelsWithInheritance renders ":Child:Parent" for the static labels of the kind and its parents.
func (m *EntityMeta) LabelsWithInheritance() string {
	var (
		labels []string
		seen   = map[string]bool{}
	)
	for _, meta := range m.chain() {
		for _, l := range meta.labels() {
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
	}
	return formatLabels(labels)
}

//labelsFor adds the instance labels of dynamically labelled kinds.
func (m *EntityMeta) labelsFor(entity any) string {
	static := m.LabelsWithInheritance()
	if !m.DynamicLabels {
		return static
	}
	if labeler, ok := entity.(DynamicLabeler); ok {
		extra := labeler.DynamicLabels()
		if len(extra) > 0 {
			return static + formatLabels(extra)
		}
	}
	return static
}

func (m *EntityMeta) labels() []string {
	if len(m.Labels) == 0 {
		return []string{m.Kind}
	}
	return m.Labels
}

func (m *EntityMeta) hasLabel(label string) bool {
	for _, l := range m.labels() {
		if l == label {
			return true
		}
	}
	return false
}

//DynamicLabeler is implemented by entities whose labels are decided per instance.
type DynamicLabeler interface {
	DynamicLabels() []string
}

func formatLabels(labels []string) string {
	var sb strings.Builder
	for _, l := range labels {
		sb.WriteString(":")
		sb.WriteString(quoteName(l))
	}
	return sb.String()
}

//quoteName backtick-quotes a label or relationship type unless it is a plain identifier.
//Embedded backticks are doubled.
func quoteName(name string) string {
	plain := name != emptyString
	for i, c := range name {
		letter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if !letter && (i == 0 || c < '0' || c > '9') {
			plain = false
			break
		}
	}
	if plain {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

//matchForAssociation renders the relationship pattern for a, with an optional variable and edge attributes.
func matchForAssociation(a Association, variable string, attrs string) string {
	info := a.info()
	pattern := `[` + variable + `:` + quoteName(info.relationshipType()) + attrs + `]`
	if info.Reversed {
		return `<-` + pattern + `-`
	}
	return `-` + pattern + `->`
}
