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
	"strings"

	"gopkg.in/yaml.v2"
)

//Mapping is the YAML description of generic entity kinds.
type Mapping struct {
	Entities []EntityMapping `yaml:"entities"`
}

type EntityMapping struct {
	Kind                string               `yaml:"kind"`
	Labels              []string             `yaml:"labels"`
	Parent              string               `yaml:"parent"`
	Properties          []string             `yaml:"properties"`
	IDStrategy          string               `yaml:"idStrategy"`
	IDProperty          string               `yaml:"idProperty"`
	IDGenerator         string               `yaml:"idGenerator"`
	Versioned           bool                 `yaml:"versioned"`
	DynamicLabels       bool                 `yaml:"dynamicLabels"`
	DynamicAssociations bool                 `yaml:"dynamicAssociations"`
	Relationship        *RelationshipMapping `yaml:"relationship"`
	Associations        []AssociationMapping `yaml:"associations"`
}

type RelationshipMapping struct {
	Type string `yaml:"type"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type AssociationMapping struct {
	Name          string `yaml:"name"`
	Cardinality   string `yaml:"cardinality"`
	Target        string `yaml:"target"`
	Type          string `yaml:"type"`
	Reversed      bool   `yaml:"reversed"`
	CascadeRemove bool   `yaml:"cascadeRemove"`
	Fetch         string `yaml:"fetch"`
	Inverse       string `yaml:"inverse"`
}

//LoadMapping reads a mapping file and registers its kinds as generic kinds. generators
//resolves the idGenerator names used by kinds with assigned identities.
func LoadMapping(path string, generators map[string]IDGenerator) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseMapping(data, generators)
}

func ParseMapping(data []byte, generators map[string]IDGenerator) (*Registry, error) {
	var mapping Mapping
	if err := yaml.UnmarshalStrict(data, &mapping); err != nil {
		return nil, configErrorf("mapping", "%v", err)
	}
	registry := NewRegistry()
	for _, em := range mapping.Entities {
		meta, err := em.toMeta(generators)
		if err != nil {
			return nil, err
		}
		if err = registry.RegisterGeneric(meta); err != nil {
			return nil, err
		}
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}

func (em EntityMapping) toMeta(generators map[string]IDGenerator) (EntityMeta, error) {
	meta := EntityMeta{
		Kind:                em.Kind,
		Labels:              em.Labels,
		Parent:              em.Parent,
		Properties:          em.Properties,
		IDProperty:          em.IDProperty,
		Versioned:           em.Versioned,
		DynamicLabels:       em.DynamicLabels,
		DynamicAssociations: em.DynamicAssociations,
	}
	switch strings.ToLower(em.IDStrategy) {
	case emptyString, "native":
		meta.IDStrategy = NativeID
	case "assigned":
		meta.IDStrategy = AssignedID
		generator, ok := generators[em.IDGenerator]
		if !ok {
			return meta, configErrorf(em.Kind, "unknown id generator %q", em.IDGenerator)
		}
		meta.IDGenerator = generator
	default:
		return meta, configErrorf(em.Kind, "unknown id strategy %q", em.IDStrategy)
	}
	if em.Relationship != nil {
		meta.Relationship = &RelationshipMeta{Type: em.Relationship.Type, From: em.Relationship.From, To: em.Relationship.To}
	}
	for _, am := range em.Associations {
		a, err := am.toAssociation(em.Kind)
		if err != nil {
			return meta, err
		}
		meta.Associations = append(meta.Associations, a)
	}
	return meta, nil
}

func (am AssociationMapping) toAssociation(owner string) (Association, error) {
	info := AssociationInfo{
		Name:          am.Name,
		Owner:         owner,
		Target:        am.Target,
		Type:          am.Type,
		Reversed:      am.Reversed,
		CascadeRemove: am.CascadeRemove,
		Inverse:       am.Inverse,
	}
	switch strings.ToLower(am.Fetch) {
	case emptyString, "lazy":
		info.Fetch = Lazy
	case "eager":
		info.Fetch = Eager
	default:
		return nil, configErrorf(owner, "association %s has unknown fetch %q", am.Name, am.Fetch)
	}
	switch strings.ToLower(am.Cardinality) {
	case "toone", "manytoone":
		return &ToOne{AssociationInfo: info}, nil
	case "onetoone":
		return &ToOne{AssociationInfo: info, OneToOne: true}, nil
	case emptyString, "tomany", "onetomany":
		return &ToMany{AssociationInfo: info}, nil
	case "manytomany":
		return &ManyToMany{AssociationInfo: info}, nil
	case "dynamic":
		return &Dynamic{AssociationInfo: info}, nil
	}
	return nil, configErrorf(owner, "association %s has unknown cardinality %q", am.Name, am.Cardinality)
}
