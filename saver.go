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
)

type deferredRelation struct {
	owner       EntityAccess
	association Association
	target      any
	remove      bool
}

//pendingBatch is everything staged since the last drain, in staging order.
type pendingBatch struct {
	relationshipInserts []*PendingOperation
	inserts             []*PendingOperation
	updates             []*PendingOperation
	deletes             []*PendingOperation
	relations           []deferredRelation
}

func (b pendingBatch) isEmpty() bool {
	return len(b.relationshipInserts)+len(b.inserts)+len(b.updates)+len(b.deletes)+len(b.relations) == 0
}

//saver stages writes: pending operations for entities and ledger entries for their relationships.
type saver struct {
	provider     MetadataProvider
	cache        *identityCache
	eventer      *eventer
	pending      pendingBatch
	staged       map[any]*PendingOperation
	insertLedger *relationshipLedger
	deleteLedger *relationshipLedger
}

func newSaver(provider MetadataProvider, cache *identityCache, eventer *eventer, ledgerCapacity int) *saver {
	return &saver{
		provider:     provider,
		cache:        cache,
		eventer:      eventer,
		staged:       map[any]*PendingOperation{},
		insertLedger: newRelationshipLedger(ledgerCapacity),
		deleteLedger: newRelationshipLedger(ledgerCapacity),
	}
}

func (s *saver) access(entity any) (EntityAccess, error) {
	kind, err := s.provider.KindOf(entity)
	if err != nil {
		return nil, err
	}
	meta, err := s.provider.Entity(kind)
	if err != nil {
		return nil, err
	}
	return newEntityAccess(meta, entity)
}

//identify returns the identity of an entity, a *Deferred reference or nil.
func (s *saver) identify(value any) (Identity, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *Deferred:
		if v == nil {
			return nil, nil
		}
		if !v.IsResolved() {
			return v.Identity(), nil
		}
		if len(v.values) == 0 {
			return nil, nil
		}
		return s.identify(v.values[0])
	}
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil, nil
	}
	access, err := s.access(value)
	if err != nil {
		return nil, err
	}
	return access.Identifier(), nil
}

func (s *saver) persist(entity any) error {
	access, err := s.access(entity)
	if err != nil {
		return err
	}
	return s.persistAccess(access, map[any]bool{})
}

//persistAccess stages an insert for new entities and an update for changed ones, then
//walks the initialized associations.
func (s *saver) persistAccess(access EntityAccess, visited map[any]bool) error {
	entity := access.Entity()
	if visited[entity] {
		return nil
	}
	visited[entity] = true
	if op, staged := s.staged[entity]; staged && op.Type != UpdateOperation {
		return nil
	}
	if err := s.wireInverses(access); err != nil {
		return err
	}
	snap := s.cache.snapshotOf(entity)
	if _, staged := s.staged[entity]; !staged {
		var err error
		if s.isNew(access, snap) {
			err = s.stageInsert(access)
		} else {
			err = s.stageUpdate(access, snap)
		}
		if err != nil {
			return err
		}
	}
	return s.cascadePersist(access, visited)
}

//isNew is true when the entity has no identity, or has an assigned one the session never stored.
func (s *saver) isNew(access EntityAccess, snap *snapshot) bool {
	id := access.Identifier()
	if id == nil {
		return true
	}
	meta := access.Meta()
	return meta.IDStrategy == AssignedID && snap == nil && s.cache.get(meta, id) != access.Entity()
}

func (s *saver) stageInsert(access EntityAccess) error {
	meta := access.Meta()
	if meta.IDStrategy == AssignedID && access.Identifier() == nil {
		id, err := meta.IDGenerator.NextID()
		if err != nil {
			return &IdentityGenerationError{Kind: meta.Kind, Cause: err}
		}
		if id == nil {
			return &IdentityGenerationError{Kind: meta.Kind}
		}
		if err = access.SetIdentifier(id); err != nil {
			return err
		}
	}
	op := newPendingOperation(InsertOperation, meta, access)
	op.veto = s.eventer.vetoes
	op.AddCascade(func() error {
		s.cache.put(meta, access.Identifier(), access.Entity())
		if err := s.recordAssociations(access, nil); err != nil {
			return err
		}
		s.cache.setSnapshot(access.Entity(), s.takeSnapshot(access))
		s.eventer.notifyPost(op)
		return nil
	})
	s.staged[access.Entity()] = op
	if meta.IsRelationshipEntity() {
		s.pending.relationshipInserts = append(s.pending.relationshipInserts, op)
	} else {
		s.pending.inserts = append(s.pending.inserts, op)
	}
	return nil
}

func (s *saver) stageUpdate(access EntityAccess, snap *snapshot) error {
	if len(s.changedProperties(access)) == 0 && !s.associationsChanged(access, snap) {
		return nil
	}
	meta := access.Meta()
	op := newPendingOperation(UpdateOperation, meta, access)
	op.veto = s.eventer.vetoes
	op.AddCascade(func() error {
		if err := s.recordAssociations(access, snap); err != nil {
			return err
		}
		s.cache.setSnapshot(access.Entity(), s.takeSnapshot(access))
		s.eventer.notifyPost(op)
		return nil
	})
	s.staged[access.Entity()] = op
	s.pending.updates = append(s.pending.updates, op)
	return nil
}

func (s *saver) cascadePersist(access EntityAccess, visited map[any]bool) error {
	for _, a := range access.Meta().allAssociations() {
		targets, initialized := access.Associated(a.info().Name)
		if !initialized {
			continue
		}
		for _, target := range targets {
			targetAccess, err := s.access(target)
			if err != nil {
				return err
			}
			if err = s.persistAccess(targetAccess, visited); err != nil {
				return err
			}
		}
	}
	for _, value := range access.Attributes() {
		if !isEntityValue(s.provider, value) {
			continue
		}
		targetAccess, err := s.access(value)
		if err != nil {
			return err
		}
		if err = s.persistAccess(targetAccess, visited); err != nil {
			return err
		}
	}
	return nil
}

//wireInverses adds the owner to the initialized inverse side of bidirectional associations.
func (s *saver) wireInverses(access EntityAccess) error {
	for _, a := range access.Meta().allAssociations() {
		info := a.info()
		if info.Inverse == emptyString {
			continue
		}
		targets, initialized := access.Associated(info.Name)
		if !initialized {
			continue
		}
		for _, target := range targets {
			targetAccess, err := s.access(target)
			if err != nil {
				continue
			}
			inverse := targetAccess.Meta().Association(info.Inverse)
			if inverse == nil {
				continue
			}
			current, initialized := targetAccess.Associated(info.Inverse)
			if !initialized {
				continue
			}
			switch {
			case isToOne(inverse) && len(current) == 0:
				err = targetAccess.SetAssociated(info.Inverse, []any{access.Entity()})
			case !isToOne(inverse) && !containsEntity(current, access.Entity()):
				err = targetAccess.SetAssociated(info.Inverse, append(current, access.Entity()))
			}
			if err != nil {
				return fmt.Errorf("cannot wire %s.%s back to %s: %w", targetAccess.Meta().Kind, info.Inverse, access.Meta().Kind, err)
			}
		}
	}
	return nil
}

func containsEntity(entities []any, entity any) bool {
	for _, e := range entities {
		if e == entity {
			return true
		}
	}
	return false
}

func (s *saver) delete(entity any) error {
	access, err := s.access(entity)
	if err != nil {
		return err
	}
	if op, staged := s.staged[entity]; staged {
		switch op.Type {
		case DeleteOperation:
			return nil
		case InsertOperation:
			s.unstage(op)
			return nil
		case UpdateOperation:
			s.unstage(op)
		}
	}
	if access.Identifier() == nil {
		return nil
	}
	meta := access.Meta()
	op := newPendingOperation(DeleteOperation, meta, access)
	op.veto = s.eventer.vetoes
	op.AddCascade(func() error {
		for _, a := range meta.allAssociations() {
			if !a.info().CascadeRemove {
				continue
			}
			targets, _ := access.Associated(a.info().Name)
			for _, target := range targets {
				if targetAccess, err := s.access(target); err == nil && targetAccess.Identifier() != nil {
					s.cache.remove(targetAccess.Meta(), targetAccess.Identifier())
				}
			}
		}
		s.cache.remove(meta, access.Identifier())
		s.eventer.notifyPost(op)
		return nil
	})
	s.staged[entity] = op
	s.pending.deletes = append(s.pending.deletes, op)
	return nil
}

func (s *saver) unstage(op *PendingOperation) {
	remove := func(ops []*PendingOperation) []*PendingOperation {
		for i, o := range ops {
			if o == op {
				return append(ops[:i], ops[i+1:]...)
			}
		}
		return ops
	}
	s.pending.inserts = remove(s.pending.inserts)
	s.pending.relationshipInserts = remove(s.pending.relationshipInserts)
	s.pending.updates = remove(s.pending.updates)
	delete(s.staged, op.Entity())
}

//relate stages an edge that does not go through an association field. The target
//identity is looked up when the flush runs, after new entities were inserted.
func (s *saver) relate(owner any, association string, target any, remove bool) error {
	access, err := s.access(owner)
	if err != nil {
		return err
	}
	a := access.Meta().Association(association)
	if a == nil {
		return fmt.Errorf("%s has no association %s", access.Meta().Kind, association)
	}
	s.pending.relations = append(s.pending.relations, deferredRelation{owner: access, association: a, target: target, remove: remove})
	return nil
}

func (s *saver) recordRelations(relations []deferredRelation) error {
	for _, r := range relations {
		id, err := s.identify(r.target)
		if err != nil {
			return err
		}
		if r.remove {
			err = s.recordDelete(r.owner, r.association, id)
		} else {
			err = s.recordInsert(r.owner, r.association, id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

//collectDirty stages cached instances that changed since they were loaded or written.
func (s *saver) collectDirty() error {
	for _, entity := range s.cache.cached() {
		if _, staged := s.staged[entity]; staged {
			continue
		}
		access, err := s.access(entity)
		if err != nil {
			continue
		}
		if err = s.stageUpdate(access, s.cache.snapshotOf(entity)); err != nil {
			return err
		}
	}
	return nil
}

func (s *saver) hasPending() bool {
	return !s.pending.isEmpty() || s.insertLedger.len() > 0 || s.deleteLedger.len() > 0
}

//takePending hands the staged operations to a flush and starts a new batch.
func (s *saver) takePending() pendingBatch {
	batch := s.pending
	s.pending = pendingBatch{}
	return batch
}

func (s *saver) clearPending() {
	s.pending = pendingBatch{}
	s.staged = map[any]*PendingOperation{}
	s.insertLedger.clear()
	s.deleteLedger.clear()
}

//recordAssociations records the edges added and removed since previous. A nil previous
//records every initialized target.
func (s *saver) recordAssociations(access EntityAccess, previous *snapshot) error {
	meta := access.Meta()
	for _, a := range meta.allAssociations() {
		info := a.info()
		if rel := meta.Relationship; rel != nil && (info.Name == rel.From || info.Name == rel.To) {
			continue
		}
		if target, err := s.provider.Entity(info.Target); err != nil || target.IsRelationshipEntity() {
			continue
		}
		current, initialized, err := s.associatedIdentities(access, info.Name)
		if err != nil {
			return err
		}
		if !initialized {
			continue
		}
		var before []Identity
		if previous != nil {
			before = previous.associations[info.Name]
		}
		for _, id := range current {
			if !containsIdentity(before, id) {
				if err = s.recordInsert(access, a, id); err != nil {
					return err
				}
			}
		}
		for _, id := range before {
			if !containsIdentity(current, id) {
				if err = s.recordDelete(access, a, id); err != nil {
					return err
				}
			}
		}
	}
	return s.recordDynamic(access, previous)
}

//recordDynamic stages edges for attributes holding entities. Nulling the attribute removes the edge.
func (s *saver) recordDynamic(access EntityAccess, previous *snapshot) error {
	meta := access.Meta()
	current := s.dynamicTargets(access)
	for name, target := range current {
		if previous != nil && previous.dynamic[name] == target {
			continue
		}
		a := &Dynamic{AssociationInfo{Name: name, Owner: meta.Kind, Target: target.kind, Type: name}}
		if err := s.recordInsert(access, a, target.id); err != nil {
			return err
		}
	}
	if previous == nil {
		return nil
	}
	for name, target := range previous.dynamic {
		if _, still := current[name]; still {
			continue
		}
		a := &Dynamic{AssociationInfo{Name: name, Owner: meta.Kind, Target: target.kind, Type: name}}
		if err := s.recordDelete(access, a, target.id); err != nil {
			return err
		}
	}
	return nil
}

func (s *saver) recordInsert(owner EntityAccess, a Association, target Identity) error {
	return s.insertLedger.record(owner, owner.Meta().Kind, a, target)
}

//recordDelete records removals of reversed to-many edges on the inverse side when the
//target is known, since the reversed delete is scoped by the owner alone.
func (s *saver) recordDelete(owner EntityAccess, a Association, target Identity) error {
	info := a.info()
	if info.Reversed && !isToOne(a) && info.Inverse != emptyString {
		if targetMeta, err := s.provider.Entity(info.Target); err == nil {
			inverse := targetMeta.Association(info.Inverse)
			if entity := s.cache.get(targetMeta, target); entity != nil && inverse != nil && !inverse.info().Reversed {
				targetAccess, err := s.access(entity)
				if err != nil {
					return err
				}
				return s.deleteLedger.record(targetAccess, targetAccess.Meta().Kind, inverse, owner.Identifier())
			}
		}
	}
	return s.deleteLedger.record(owner, owner.Meta().Kind, a, target)
}

func containsIdentity(ids []Identity, id Identity) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

func (s *saver) associatedIdentities(access EntityAccess, name string) ([]Identity, bool, error) {
	targets, initialized := access.Associated(name)
	if !initialized {
		return nil, false, nil
	}
	ids := make([]Identity, 0, len(targets))
	for _, target := range targets {
		id, err := s.identify(target)
		if err != nil {
			return nil, false, err
		}
		if id != nil {
			ids = append(ids, id)
		}
	}
	return ids, true, nil
}

func (s *saver) dynamicTargets(access EntityAccess) map[string]dynamicTarget {
	targets := map[string]dynamicTarget{}
	if !access.Meta().DynamicAssociations {
		return targets
	}
	for name, value := range access.Attributes() {
		if !isEntityValue(s.provider, value) {
			continue
		}
		targetAccess, err := s.access(value)
		if err != nil || targetAccess.Identifier() == nil {
			continue
		}
		targets[name] = dynamicTarget{kind: targetAccess.Meta().Kind, id: targetAccess.Identifier()}
	}
	return targets
}

//nodeProperties returns declared properties and plain attributes. Version and identity are excluded.
func (s *saver) nodeProperties(access EntityAccess) map[string]any {
	meta := access.Meta()
	props := map[string]any{}
	for _, name := range meta.allProperties() {
		props[name] = access.Property(name)
	}
	for k, v := range access.Attributes() {
		if _, declared := props[k]; declared || isEntityValue(s.provider, v) {
			continue
		}
		props[k] = v
	}
	delete(props, meta.idProperty())
	if meta.Versioned {
		delete(props, meta.versionProperty())
	}
	return props
}

//insertProperties are the non nil properties written by an insert.
func (s *saver) insertProperties(access EntityAccess) map[string]any {
	meta := access.Meta()
	props := map[string]any{}
	for k, v := range s.nodeProperties(access) {
		if v != nil {
			props[k] = v
		}
	}
	if meta.IDStrategy == AssignedID {
		props[meta.idProperty()] = access.Identifier()
	}
	if meta.Versioned {
		props[meta.versionProperty()] = int64(0)
	}
	return props
}

//changedProperties diffs the current properties against the snapshot. Without a snapshot every property counts.
func (s *saver) changedProperties(access EntityAccess) map[string]any {
	current := s.nodeProperties(access)
	snap := s.cache.snapshotOf(access.Entity())
	if snap == nil {
		return current
	}
	return diffProperties(current, snap.properties)
}

func diffProperties(current, stored map[string]any) map[string]any {
	changed := map[string]any{}
	for k, v := range current {
		if old, ok := stored[k]; !ok || !reflect.DeepEqual(old, v) {
			if !ok && v == nil {
				continue
			}
			changed[k] = v
		}
	}
	for k := range stored {
		if _, ok := current[k]; !ok && stored[k] != nil {
			changed[k] = nil
		}
	}
	return changed
}

func (s *saver) associationsChanged(access EntityAccess, snap *snapshot) bool {
	if snap == nil {
		return true
	}
	for _, a := range access.Meta().allAssociations() {
		name := a.info().Name
		current, initialized, err := s.associatedIdentities(access, name)
		if err != nil || !initialized {
			continue
		}
		before := snap.associations[name]
		if len(before) != len(current) {
			return true
		}
		for _, id := range current {
			if !containsIdentity(before, id) {
				return true
			}
		}
	}
	current := s.dynamicTargets(access)
	if len(current) != len(snap.dynamic) {
		return true
	}
	for name, target := range current {
		if snap.dynamic[name] != target {
			return true
		}
	}
	return false
}

func (s *saver) takeSnapshot(access EntityAccess) *snapshot {
	snap := &snapshot{
		properties:   map[string]any{},
		associations: map[string][]Identity{},
		dynamic:      s.dynamicTargets(access),
	}
	for k, v := range s.nodeProperties(access) {
		snap.properties[k] = copyValue(v)
	}
	for _, a := range access.Meta().allAssociations() {
		ids, initialized, err := s.associatedIdentities(access, a.info().Name)
		if err == nil && initialized {
			snap.associations[a.info().Name] = ids
		}
	}
	if access.Meta().Versioned {
		snap.version, _ = toInt64(access.Property(access.Meta().versionProperty()))
	}
	return snap
}

//copyValue copies slices and maps so that in place changes show up in the diff.
func copyValue(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return v
		}
		c := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		reflect.Copy(c, rv)
		return c.Interface()
	case reflect.Map:
		if rv.IsNil() {
			return v
		}
		c := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		for _, k := range rv.MapKeys() {
			c.SetMapIndex(k, rv.MapIndex(k))
		}
		return c.Interface()
	}
	return v
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
