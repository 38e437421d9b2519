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
	"fmt"
	"reflect"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
)

const (
	nodesSuffix = `Nodes`
	relsSuffix  = `Rels`
	idsSuffix   = `Ids`
)

type cacheKey struct {
	kind string
	id   Identity
}

//snapshot is what the session last knew to be stored for an entity.
type snapshot struct {
	properties   map[string]any
	associations map[string][]Identity
	dynamic      map[string]dynamicTarget
	version      int64
}

type dynamicTarget struct {
	kind string
	id   Identity
}

//identityCache maps kind and identity to the one instance of the session, and each
//instance to its snapshot.
type identityCache struct {
	entities  map[cacheKey]any
	snapshots map[any]*snapshot
	order     []any
}

func newIdentityCache() *identityCache {
	return &identityCache{
		entities:  map[cacheKey]any{},
		snapshots: map[any]*snapshot{},
	}
}

//rootKind keys the cache by the top of the inheritance chain, so a kind and its subkinds share entries.
func rootKind(meta *EntityMeta) string {
	chain := meta.chain()
	return chain[len(chain)-1].Kind
}

func (c *identityCache) get(meta *EntityMeta, id Identity) any {
	return c.entities[cacheKey{rootKind(meta), normalizeIdentity(id)}]
}

func (c *identityCache) put(meta *EntityMeta, id Identity, entity any) {
	key := cacheKey{rootKind(meta), normalizeIdentity(id)}
	if _, exists := c.entities[key]; !exists {
		c.order = append(c.order, entity)
	}
	c.entities[key] = entity
}

func (c *identityCache) remove(meta *EntityMeta, id Identity) {
	key := cacheKey{rootKind(meta), normalizeIdentity(id)}
	entity, ok := c.entities[key]
	if !ok {
		return
	}
	delete(c.entities, key)
	delete(c.snapshots, entity)
	for i, e := range c.order {
		if e == entity {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *identityCache) snapshotOf(entity any) *snapshot {
	return c.snapshots[entity]
}

func (c *identityCache) setSnapshot(entity any, s *snapshot) {
	c.snapshots[entity] = s
}

//cached returns the cached instances in the order they entered the cache.
func (c *identityCache) cached() []any {
	return append([]any{}, c.order...)
}

func (c *identityCache) clear() {
	c.entities = map[cacheKey]any{}
	c.snapshots = map[any]*snapshot{}
	c.order = nil
}

//materializer turns returned nodes and relationships into identity cached instances.
type materializer struct {
	provider  MetadataProvider
	cache     *identityCache
	deferreds DeferredFactory
	eventer   *eventer
	executor  func(owner *EntityMeta, a Association) AssociationQueryExecutor
	nativeRef func(kind string, id int64) *Deferred
	takeSnap  func(access EntityAccess) *snapshot
}

//materialize returns the session instance for node. data holds the other columns of the
//record, initialized holds association values the caller already knows.
func (m *materializer) materialize(base *EntityMeta, node neo4j.Node, data map[string]any, initialized map[string]any) (entity any, err error) {
	meta := m.provider.MostSpecific(base.Kind, node.Labels)
	if meta == nil {
		meta = base
	}
	var id Identity = node.Id
	if meta.IDStrategy == AssignedID {
		id = normalizeIdentity(node.Props[meta.idProperty()])
		if id == nil {
			return nil, fmt.Errorf("node %d of kind %s has no %s property", node.Id, meta.Kind, meta.idProperty())
		}
	}
	if cached := m.cache.get(meta, id); cached != nil {
		return cached, nil
	}

	access, err := allocate(meta)
	if err != nil {
		return nil, err
	}
	if err = access.SetIdentifier(id); err != nil {
		return nil, err
	}
	if g, ok := access.Entity().(*GenericEntity); ok && meta.DynamicLabels {
		g.Labels = extraLabels(meta, node.Labels)
	}
	m.cache.put(meta, id, access.Entity())
	//a partially built instance must not outlive a failed load
	defer func() {
		if err != nil {
			m.cache.remove(meta, id)
		}
	}()

	if err = m.copyProperties(meta, access, node.Props); err != nil {
		return nil, err
	}
	for _, a := range meta.allAssociations() {
		if err = m.resolveAssociation(meta, access, a, data, initialized); err != nil {
			return nil, err
		}
	}
	m.cache.setSnapshot(access.Entity(), m.takeSnap(access))
	m.eventer.notifyPostLoad(meta.Kind, access.Entity())
	return access.Entity(), nil
}

func extraLabels(meta *EntityMeta, labels []string) []string {
	var extra []string
	for _, l := range labels {
		static := false
		for _, inherited := range meta.chain() {
			if inherited.hasLabel(l) {
				static = true
				break
			}
		}
		if !static {
			extra = append(extra, l)
		}
	}
	return extra
}

//copyProperties copies declared properties and collects the rest into the attributes bag.
func (m *materializer) copyProperties(meta *EntityMeta, access EntityAccess, props map[string]any) error {
	declared := map[string]bool{meta.idProperty(): true}
	for _, name := range meta.allProperties() {
		declared[name] = true
		if v, ok := props[name]; ok {
			if err := access.SetProperty(name, v); err != nil {
				return err
			}
		}
	}
	if meta.Versioned {
		name := meta.versionProperty()
		declared[name] = true
		if v, ok := props[name]; ok {
			if err := access.SetProperty(name, v); err != nil {
				return err
			}
		}
	}
	attributes := map[string]any{}
	for k, v := range props {
		if !declared[k] {
			attributes[k] = v
		}
	}
	if len(attributes) > 0 {
		access.SetAttributes(attributes)
	}
	return nil
}

//resolveAssociation picks, in order, the initialized value, eagerly fetched nodes or
//relationships, fetched identities, and finally a lazy association query.
func (m *materializer) resolveAssociation(meta *EntityMeta, access EntityAccess, a Association, data map[string]any, initialized map[string]any) error {
	info := a.info()
	if value, ok := initialized[info.Name]; ok {
		if targets, isSlice := value.([]any); isSlice {
			return access.SetAssociated(info.Name, targets)
		}
		return access.SetAssociated(info.Name, []any{value})
	}

	target, err := m.provider.Entity(info.Target)
	if err != nil {
		return err
	}

	if nodes, ok := data[info.Name+nodesSuffix].([]any); ok {
		var back map[string]any
		if inverse := target.Association(info.Inverse); inverse != nil && isToOne(inverse) {
			back = map[string]any{info.Inverse: access.Entity()}
		}
		targets := make([]any, 0, len(nodes))
		for _, raw := range nodes {
			node, isNode := raw.(neo4j.Node)
			if !isNode {
				continue
			}
			entity, err := m.materialize(target, node, nil, back)
			if err != nil {
				return err
			}
			targets = append(targets, entity)
		}
		return access.SetAssociated(info.Name, targets)
	}

	if rels, ok := data[info.Name+relsSuffix].([]any); ok && target.IsRelationshipEntity() {
		targets := make([]any, 0, len(rels))
		for _, raw := range rels {
			rel, isRel := raw.(neo4j.Relationship)
			if !isRel {
				continue
			}
			entity, err := m.materializeRelationship(target, rel, map[string]any{target.Relationship.From: access.Entity()})
			if err != nil {
				return err
			}
			targets = append(targets, entity)
		}
		return access.SetAssociated(info.Name, targets)
	}

	var d *Deferred
	if ids, ok := data[info.Name+idsSuffix].([]any); ok {
		identities := make([]Identity, 0, len(ids))
		for _, id := range ids {
			if id != nil {
				identities = append(identities, normalizeIdentity(id))
			}
		}
		switch {
		case len(identities) == 0:
			return access.SetAssociated(info.Name, nil)
		case isToOne(a):
			d = m.deferreds.ForIdentity(info.Target, identities[0])
		default:
			d = m.deferreds.ForIdentities(info.Target, identities)
		}
	} else {
		d = m.deferreds.ForAssociation(info.Target, m.executor(meta, a), access.Identifier())
	}
	if info.Fetch == Lazy && access.SetDeferred(info.Name, d) {
		return nil
	}
	targets, err := d.Resolve()
	if err != nil {
		return err
	}
	return access.SetAssociated(info.Name, targets)
}

//materializeRelationship builds a reified relationship entity from rel. initialized may
//carry the instances at either end.
func (m *materializer) materializeRelationship(meta *EntityMeta, rel neo4j.Relationship, initialized map[string]any) (entity any, err error) {
	if cached := m.cache.get(meta, rel.Id); cached != nil {
		return cached, nil
	}
	access, err := allocate(meta)
	if err != nil {
		return nil, err
	}
	if err = access.SetIdentifier(rel.Id); err != nil {
		return nil, err
	}
	m.cache.put(meta, rel.Id, access.Entity())
	defer func() {
		if err != nil {
			m.cache.remove(meta, rel.Id)
		}
	}()
	if err = m.copyProperties(meta, access, rel.Props); err != nil {
		return nil, err
	}
	if _, bound := meta.fields[relationshipTypeKey]; bound || meta.goType == nil {
		if err = access.SetProperty(relationshipTypeKey, rel.Type); err != nil {
			return nil, err
		}
	}

	ends := []struct {
		name string
		id   int64
	}{{meta.Relationship.From, rel.StartId}, {meta.Relationship.To, rel.EndId}}
	for _, end := range ends {
		if value, ok := initialized[end.name]; ok && value != nil {
			if err = access.SetAssociated(end.name, []any{value}); err != nil {
				return nil, err
			}
			continue
		}
		d := m.nativeRef(meta.Association(end.name).info().Target, end.id)
		if access.SetDeferred(end.name, d) {
			continue
		}
		targets, err := d.Resolve()
		if err != nil {
			return nil, err
		}
		if err = access.SetAssociated(end.name, targets); err != nil {
			return nil, err
		}
	}
	m.cache.setSnapshot(access.Entity(), m.takeSnap(access))
	m.eventer.notifyPostLoad(meta.Kind, access.Entity())
	return access.Entity(), nil
}

//isEntityValue reports whether v is an instance of a registered kind.
func isEntityValue(provider MetadataProvider, v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return false
	}
	_, err := provider.KindOf(v)
	return err == nil
}
