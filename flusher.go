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
	"strconv"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"go.uber.org/zap"
)

//FlushState is the state of the unit of work during a flush.
type FlushState int

const (
	Collecting FlushState = iota
	Draining
	Executing
	Committed
	Failed
)

func (s FlushState) String() string {
	switch s {
	case Collecting:
		return "collecting"
	case Draining:
		return "draining"
	case Executing:
		return "executing"
	case Committed:
		return "committed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

const (
	rowsParam = `rows`
	idColumn  = `id`
	idxColumn = `idx`
)

//flusher executes staged operations in order: reified relationships whose ends exist,
//node inserts, remaining reified relationships, updates, deletes and finally the ledgers.
type flusher struct {
	saver    *saver
	executer *cypherExecuter
	resolver relationshipResolver
	eventer  *eventer
	logger   *zap.Logger
	state    FlushState
	flushing bool
}

func (f *flusher) flush() (err error) {
	if f.flushing {
		return ErrFlushInProgress
	}
	f.flushing = true
	f.state = Collecting
	defer func() {
		f.saver.clearPending()
		f.flushing = false
		if err != nil {
			f.state = Failed
			f.logger.Debug("flush failed", zap.Error(err))
			return
		}
		f.state = Committed
	}()

	if err = f.saver.collectDirty(); err != nil {
		return err
	}
	inserted := map[any]bool{}
	//cascades may stage further operations, so drain until nothing is left
	for f.saver.hasPending() {
		f.state = Draining
		batch := f.saver.takePending()
		f.state = Executing
		if err = f.execute(batch, inserted); err != nil {
			return err
		}
	}
	f.eventer.notifyFlushed()
	return nil
}

func (f *flusher) execute(batch pendingBatch, inserted map[any]bool) error {
	ready, later, err := f.splitRelationshipInserts(batch.relationshipInserts, batch.inserts)
	if err != nil {
		return err
	}
	if err = f.executeRelationshipInserts(ready, inserted); err != nil {
		return err
	}
	if err = f.executeInserts(batch.inserts, inserted); err != nil {
		return err
	}
	if err = f.executeRelationshipInserts(later, inserted); err != nil {
		return err
	}
	if err = cascadeAll(batch.relationshipInserts); err != nil {
		return err
	}
	if err = cascadeAll(batch.inserts); err != nil {
		return err
	}
	if err = f.saver.recordRelations(batch.relations); err != nil {
		return err
	}
	for _, op := range batch.updates {
		if err = f.executeUpdate(op); err != nil {
			return err
		}
		if err = op.cascade(); err != nil {
			return err
		}
	}
	if err = f.executeDeletes(batch.deletes); err != nil {
		return err
	}
	if err = cascadeAll(batch.deletes); err != nil {
		return err
	}
	return f.drainLedgers(inserted)
}

//splitRelationshipInserts separates reified relationships whose ends are already stored
//from those waiting for an end inserted in this batch.
func (f *flusher) splitRelationshipInserts(ops []*PendingOperation, inserts []*PendingOperation) (ready, later []*PendingOperation, err error) {
	pendingInsert := map[any]bool{}
	for _, op := range inserts {
		pendingInsert[op.Entity()] = true
	}
	for _, op := range ops {
		_, _, start, end, err := f.resolver.relationshipEnds(op.meta, op.Access)
		if err != nil {
			return nil, nil, err
		}
		rel := op.meta.Relationship
		waiting := pendingInsert[unwrapEntity(op.Access.Property(rel.From))] || pendingInsert[unwrapEntity(op.Access.Property(rel.To))]
		if start != nil && end != nil && !waiting {
			ready = append(ready, op)
		} else {
			later = append(later, op)
		}
	}
	return ready, later, nil
}

//unwrapEntity returns the entity held by a resolved single valued Deferred, or v itself.
func unwrapEntity(v any) any {
	if d, ok := v.(*Deferred); ok && d != nil && d.IsResolved() && len(d.values) > 0 {
		return d.values[0]
	}
	return v
}

func (f *flusher) executeRelationshipInserts(ops []*PendingOperation, inserted map[any]bool) error {
	ops, err := runnable(ops)
	if err != nil {
		return err
	}
	for _, op := range ops {
		s, err := f.resolver.relationshipEntityInsert(op.meta, op.Access)
		if err != nil {
			return err
		}
		records, err := f.executer.run(s)
		if err != nil {
			return err
		}
		id, err := returnedIdentity(op.Kind, records, idColumn)
		if err != nil {
			return err
		}
		if err = f.assignIdentity(op, id); err != nil {
			return err
		}
		inserted[op.Entity()] = true
	}
	return nil
}

//groupByKind groups ops by kind, keeping the order in which kinds and ops were staged.
func groupByKind(ops []*PendingOperation) [][]*PendingOperation {
	var (
		groups [][]*PendingOperation
		index  = map[string]int{}
	)
	for _, op := range ops {
		i, ok := index[op.Kind]
		if !ok {
			i = len(groups)
			index[op.Kind] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], op)
	}
	return groups
}

func (f *flusher) executeInserts(ops []*PendingOperation, inserted map[any]bool) error {
	for _, group := range groupByKind(ops) {
		group, err := runnable(group)
		if err != nil {
			return err
		}
		if len(group) == 0 {
			continue
		}
		if group[0].meta.DynamicLabels {
			err = f.insertEach(group)
		} else {
			err = f.insertBatch(group)
		}
		if err != nil {
			return err
		}
		for _, op := range group {
			inserted[op.Entity()] = true
		}
	}
	return nil
}

//insertBatch creates all nodes of one kind with one UNWIND statement and hands the returned
//identities back by row position.
func (f *flusher) insertBatch(ops []*PendingOperation) error {
	meta := ops[0].meta
	rows := make([]map[string]any, len(ops))
	for i, op := range ops {
		rows[i] = map[string]any{idxColumn: int64(i), "props": f.saver.insertProperties(op.Access)}
	}
	cypher := `UNWIND $` + rowsParam + ` as row CREATE (n` + meta.LabelsWithInheritance() + `) SET n += row.props RETURN ` +
		meta.FormatID("n") + ` as ` + idColumn + `, row.` + idxColumn + ` as ` + idxColumn
	records, err := f.executer.run(statement{cypher: cypher, params: map[string]any{rowsParam: rows}, operation: createOperationLog})
	if err != nil {
		return err
	}
	if len(records) != len(ops) {
		return &IdentityGenerationError{Kind: meta.Kind, Cause: fmt.Errorf("expected %d identities, got %d", len(ops), len(records))}
	}
	assigned := make([]bool, len(ops))
	for i, record := range records {
		position := i
		if idx, ok := record.Get(idxColumn); ok {
			if n, isInt := toInt64(idx); isInt {
				position = int(n)
			}
		}
		if position < 0 || position >= len(ops) {
			return &IdentityGenerationError{Kind: meta.Kind, Cause: fmt.Errorf("row index %d out of range", position)}
		}
		if assigned[position] {
			return &IdentityGenerationError{Kind: meta.Kind, Cause: fmt.Errorf("row index %d returned twice", position)}
		}
		assigned[position] = true
		id, _ := record.Get(idColumn)
		if err = f.assignIdentity(ops[position], id); err != nil {
			return err
		}
	}
	return nil
}

//insertEach creates nodes of a dynamically labelled kind with one CREATE listing a pattern per node.
func (f *flusher) insertEach(ops []*PendingOperation) error {
	meta := ops[0].meta
	var (
		patterns = make([]string, len(ops))
		columns  = make([]string, len(ops))
		params   = map[string]any{}
	)
	for i, op := range ops {
		variable := "n" + strconv.Itoa(i)
		params["props"+strconv.Itoa(i)] = f.saver.insertProperties(op.Access)
		patterns[i] = `(` + variable + meta.labelsFor(op.Entity()) + ` $props` + strconv.Itoa(i) + `)`
		columns[i] = meta.FormatID(variable) + ` as ` + variable
	}
	cypher := `CREATE ` + strings.Join(patterns, separator) + cypherReturn + strings.Join(columns, separator)
	records, err := f.executer.run(statement{cypher: cypher, params: params, operation: createOperationLog})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return &IdentityGenerationError{Kind: meta.Kind, Cause: fmt.Errorf("no row returned")}
	}
	for i, op := range ops {
		id, _ := records[0].Get("n" + strconv.Itoa(i))
		if err = f.assignIdentity(op, id); err != nil {
			return err
		}
	}
	return nil
}

//assignIdentity stores the returned identity on native kinds and checks it on assigned ones.
func (f *flusher) assignIdentity(op *PendingOperation, id any) error {
	if id == nil {
		return &IdentityGenerationError{Kind: op.Kind}
	}
	if op.meta.IDStrategy == NativeID {
		if err := op.Access.SetIdentifier(id); err != nil {
			return err
		}
	}
	op.Identity = op.Access.Identifier()
	if op.meta.Versioned {
		return op.Access.SetProperty(op.meta.versionProperty(), int64(0))
	}
	return nil
}

func returnedIdentity(kind string, records []*neo4j.Record, column string) (any, error) {
	if len(records) == 0 {
		return nil, &IdentityGenerationError{Kind: kind, Cause: fmt.Errorf("no row returned")}
	}
	id, _ := records[0].Get(column)
	return id, nil
}

//executeUpdate writes the changed properties of one entity. Versioned kinds match the last
//known version and increment it; matching nothing is a conflict.
func (f *flusher) executeUpdate(op *PendingOperation) error {
	proceed, err := op.run()
	if err != nil || !proceed {
		return err
	}
	meta, access := op.meta, op.Access
	changed := f.saver.changedProperties(access)
	if len(changed) == 0 {
		return nil
	}
	if meta.IsRelationshipEntity() {
		_, err = f.executer.run(f.resolver.relationshipEntityUpdate(meta, op.Identity, changed))
		return err
	}

	builder := NewCypherBuilder(meta.labelsFor(op.Entity()))
	conditions := meta.FormatID(builder.StartNode()) + ` = $` + strconv.Itoa(builder.AddParam(op.Identity))
	var version int64
	if meta.Versioned {
		version, _ = toInt64(access.Property(meta.versionProperty()))
		conditions += ` AND ` + builder.StartNode() + `.` + meta.versionProperty() + ` = $` + strconv.Itoa(builder.AddParam(version))
		changed[meta.versionProperty()] = version + 1
	}
	builder.SetConditions(conditions)
	builder.AddPropertySet(changed)
	builder.AddReturnColumn(meta.FormatID(builder.StartNode()) + ` as ` + idColumn)

	records, err := f.executer.run(statement{cypher: builder.Build(), params: builder.Params(), operation: updateOperationLog})
	if err != nil {
		return err
	}
	if meta.Versioned {
		if len(records) == 0 {
			return &OptimisticLockError{Kind: meta.Kind, Identity: op.Identity, Version: version}
		}
		return access.SetProperty(meta.versionProperty(), version+1)
	}
	return nil
}

//executeDeletes deletes each kind with one statement, detaching cascade-on-remove targets along.
func (f *flusher) executeDeletes(ops []*PendingOperation) error {
	for _, group := range groupByKind(ops) {
		group, err := runnable(group)
		if err != nil {
			return err
		}
		if len(group) == 0 {
			continue
		}
		meta := group[0].meta
		ids := make([]Identity, len(group))
		for i, op := range group {
			ids[i] = op.Identity
		}
		var s statement
		if meta.IsRelationshipEntity() {
			s = f.resolver.relationshipEntityDeletes(meta, ids)
		} else if s, err = f.deleteStatement(meta, ids); err != nil {
			return err
		}
		if _, err = f.executer.run(s); err != nil {
			return err
		}
	}
	return nil
}

func (f *flusher) deleteStatement(meta *EntityMeta, ids []Identity) (statement, error) {
	builder := NewCypherBuilder(meta.LabelsWithInheritance())
	builder.SetConditions(meta.FormatID(builder.StartNode()) + ` IN $` + strconv.Itoa(builder.AddParam(ids)))
	builder.AddDeleteColumn(builder.StartNode())
	if err := buildCascadingDeletes(f.saver.provider, meta, builder); err != nil {
		return statement{}, err
	}
	return statement{cypher: builder.Build(), params: builder.Params(), operation: deleteOperationLog}, nil
}

//buildCascadingDeletes adds an optional match and a delete column per cascade-on-remove association.
func buildCascadingDeletes(provider MetadataProvider, meta *EntityMeta, builder *CypherBuilder) error {
	for i, a := range meta.allAssociations() {
		info := a.info()
		if !info.CascadeRemove {
			continue
		}
		target, err := provider.Entity(info.Target)
		if err != nil {
			return err
		}
		variable := "a" + strconv.Itoa(i)
		if target.IsRelationshipEntity() {
			builder.AddOptionalMatch(`(` + builder.StartNode() + `)-[` + variable + `:` + quoteName(target.Relationship.Type) + `]->()`)
		} else {
			builder.AddOptionalMatch(`(` + builder.StartNode() + `)` + matchForAssociation(a, emptyString, emptyString) + `(` + variable + target.LabelsWithInheritance() + `)`)
		}
		builder.AddDeleteColumn(variable)
	}
	return nil
}

//drainLedgers resolves every recorded relationship insert, then every delete.
func (f *flusher) drainLedgers(inserted map[any]bool) error {
	ledger := f.saver.insertLedger
	for _, key := range ledger.keys() {
		entry := ledger.drain(key)
		if entry == nil {
			continue
		}
		statements, err := f.resolver.inserts(entry, !inserted[entry.owner.Entity()])
		if err != nil {
			return err
		}
		for _, s := range statements {
			if _, err = f.executer.run(s); err != nil {
				return err
			}
		}
	}
	ledger = f.saver.deleteLedger
	for _, key := range ledger.keys() {
		entry := ledger.drain(key)
		if entry == nil {
			continue
		}
		s, err := f.resolver.deletes(entry)
		if err != nil {
			return err
		}
		if _, err = f.executer.run(s); err != nil {
			return err
		}
	}
	return nil
}
