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
	"fmt"
	"os"

	gogm "github.com/disneystreaming/neo4j-go-ogm-uow"
	"gopkg.in/yaml.v2"
)

//dataFile lists entity instances. Associations refer to other instances of the same file by ref.
type dataFile struct {
	Entities []dataEntity `yaml:"entities"`
}

type dataEntity struct {
	Ref          string              `yaml:"ref"`
	Kind         string              `yaml:"kind"`
	ID           interface{}         `yaml:"id"`
	Labels       []string            `yaml:"labels"`
	Properties   map[string]any      `yaml:"properties"`
	Associations map[string][]string `yaml:"associations"`
}

func loadData(path string, provider gogm.MetadataProvider) ([]*gogm.GenericEntity, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	var data dataFile
	if err = yaml.UnmarshalStrict(content, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data file: %w", err)
	}
	return buildEntities(data, provider)
}

//buildEntities creates one generic entity per instance, then links associations between them.
func buildEntities(data dataFile, provider gogm.MetadataProvider) ([]*gogm.GenericEntity, error) {
	var (
		entities = make([]*gogm.GenericEntity, len(data.Entities))
		byRef    = map[string]*gogm.GenericEntity{}
	)
	for i, d := range data.Entities {
		if _, err := provider.Entity(d.Kind); err != nil {
			return nil, err
		}
		e := gogm.NewGenericEntity(d.Kind)
		e.ID = d.ID
		e.Labels = d.Labels
		for k, v := range d.Properties {
			e.Set(k, plain(v))
		}
		if d.Ref != "" {
			if _, exists := byRef[d.Ref]; exists {
				return nil, fmt.Errorf("ref %q is used twice", d.Ref)
			}
			byRef[d.Ref] = e
		}
		entities[i] = e
	}
	for i, d := range data.Entities {
		meta, _ := provider.Entity(d.Kind)
		for name, refs := range d.Associations {
			targets := make([]*gogm.GenericEntity, len(refs))
			for j, ref := range refs {
				target, ok := byRef[ref]
				if !ok {
					return nil, fmt.Errorf("%s.%s refers to unknown ref %q", d.Kind, name, ref)
				}
				targets[j] = target
			}
			switch meta.Association(name).(type) {
			case *gogm.ToOne:
				if len(targets) != 1 {
					return nil, fmt.Errorf("%s.%s takes exactly one ref, got %d", d.Kind, name, len(targets))
				}
				entities[i].Set(name, targets[0])
			case nil:
				//undeclared: an attribute holding an entity becomes a dynamic association
				if !meta.DynamicAssociations || len(targets) != 1 {
					return nil, fmt.Errorf("%s has no association %s", d.Kind, name)
				}
				entities[i].Set(name, targets[0])
			default:
				entities[i].Set(name, targets)
			}
		}
	}
	return entities, nil
}

//plain converts the map[interface{}]interface{} values yaml.v2 produces into property values.
func plain(v any) any {
	switch value := v.(type) {
	case map[interface{}]interface{}:
		m := make(map[string]any, len(value))
		for k, item := range value {
			m[fmt.Sprint(k)] = plain(item)
		}
		return m
	case []interface{}:
		for i, item := range value {
			value[i] = plain(item)
		}
		return value
	}
	return v
}
