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
)

const (
	startParam         = `start`
	endParam           = `end`
	relPropsParam      = `rProps`
	fromVariable       = `from`
	toVariable         = `to`
	relationshipPrefix = `MATCH (` + fromVariable + `%s)%s(` + toVariable + `%s) WHERE `
	fromToNodesMatch   = `MATCH (` + fromVariable + `%s), (` + toVariable + `%s) WHERE `
)

//relationshipResolver turns ledger entries and reified relationship entities into MERGE and DELETE statements.
type relationshipResolver struct {
	provider MetadataProvider
	identify func(entity any) (Identity, error)
}

func (r relationshipResolver) ends(entry *ledgerEntry) (*EntityMeta, *EntityMeta, error) {
	from, err := r.provider.Entity(entry.ownerKind)
	if err != nil {
		return nil, nil, err
	}
	to, err := r.provider.Entity(entry.association.info().Target)
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

//relationshipAttributes renders the edge properties matched for a. bind returns the
//parameter reference that carries a value.
func relationshipAttributes(a Association, from, to *EntityMeta, bind func(name string, value any) string) string {
	switch a.(type) {
	case *Dynamic:
		return ` {` + sourceTypeKey + `:` + bind(sourceTypeKey, from.Kind) + `, ` + targetTypeKey + `:` + bind(targetTypeKey, to.Kind) + `}`
	case *ToOne, *ToMany, *ManyToMany:
		return emptyString
	}
	return emptyString
}

func namedParams(params map[string]any) func(string, any) string {
	return func(name string, value any) string {
		params[name] = value
		return `$` + name
	}
}

func positionalParams(builder *CypherBuilder) func(string, any) string {
	return func(_ string, value any) string {
		return `$` + strconv.Itoa(builder.AddParam(value))
	}
}

//withParams adds the edge parameters to params.
func withParams(params map[string]any, edge map[string]any) map[string]any {
	for k, v := range edge {
		params[k] = v
	}
	return params
}

//replacesPrevious reports whether an update through a must drop the edges it had before.
func replacesPrevious(a Association) bool {
	switch assoc := a.(type) {
	case *ToOne:
		return true
	case *Dynamic:
		return true
	case *ToMany:
		return assoc.Inverse != emptyString && !assoc.Reversed
	case *ManyToMany:
		return false
	}
	return false
}

//inserts resolves one drained insert entry. isUpdate is true when the owner existed before this flush.
func (r relationshipResolver) inserts(entry *ledgerEntry, isUpdate bool) ([]statement, error) {
	from, to, err := r.ends(entry)
	if err != nil {
		return nil, err
	}
	var (
		a          = entry.association
		info       = a.info()
		owner      = entry.owner.Identifier()
		edge       = map[string]any{}
		relMatch   = matchForAssociation(a, "r", relationshipAttributes(a, from, to, namedParams(edge)))
		labelsFrom = from.LabelsWithInheritance()
		labelsTo   = to.LabelsWithInheritance()
		statements []statement
	)

	if isUpdate && replacesPrevious(a) {
		cypher := fmt.Sprintf(relationshipPrefix, labelsFrom, relMatch, labelsTo)
		switch {
		case info.Reversed:
			statements = append(statements, statement{
				cypher:    cypher + from.FormatID(fromVariable) + ` = $` + startParam + ` DELETE r`,
				params:    withParams(map[string]any{startParam: owner}, edge),
				operation: deleteOperationLog,
			})
		case isToOne(a) || isDynamic(a):
			statements = append(statements, statement{
				cypher:    cypher + from.FormatID(fromVariable) + ` IN $` + startParam + ` DELETE r`,
				params:    withParams(map[string]any{startParam: []Identity{owner}}, edge),
				operation: deleteOperationLog,
			})
		default:
			statements = append(statements, statement{
				cypher:    cypher + to.FormatID(toVariable) + ` IN $` + startParam + ` DELETE r`,
				params:    withParams(map[string]any{startParam: entry.targets}, edge),
				operation: deleteOperationLog,
			})
		}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(fromToNodesMatch, labelsFrom, labelsTo))
	sb.WriteString(from.FormatID(fromVariable) + ` = $` + startParam)
	sb.WriteString(` AND ` + to.FormatID(toVariable) + ` IN $` + endParam)
	sb.WriteString(` MERGE (` + fromVariable + `)` + relMatch + `(` + toVariable + `)`)

	statements = append(statements, statement{
		cypher:    sb.String(),
		params:    withParams(map[string]any{startParam: owner, endParam: entry.targets}, edge),
		operation: mergeOperationLog,
	})
	return statements, nil
}

//deletes resolves one drained delete entry. Reversed mappings are scoped by the owner alone.
func (r relationshipResolver) deletes(entry *ledgerEntry) (statement, error) {
	from, to, err := r.ends(entry)
	if err != nil {
		return statement{}, err
	}
	var (
		a        = entry.association
		owner    = entry.owner.Identifier()
		edge     = map[string]any{}
		relMatch = matchForAssociation(a, "r", relationshipAttributes(a, from, to, namedParams(edge)))
		cypher   = fmt.Sprintf(relationshipPrefix, from.LabelsWithInheritance(), relMatch, to.LabelsWithInheritance())
	)
	if a.info().Reversed {
		return statement{
			cypher:    cypher + from.FormatID(fromVariable) + ` = $` + startParam + ` DELETE r`,
			params:    withParams(map[string]any{startParam: owner}, edge),
			operation: deleteOperationLog,
		}, nil
	}
	return statement{
		cypher:    cypher + from.FormatID(fromVariable) + ` = $` + startParam + ` AND ` + to.FormatID(toVariable) + ` IN $` + endParam + ` DELETE r`,
		params:    withParams(map[string]any{startParam: owner, endParam: entry.targets}, edge),
		operation: deleteOperationLog,
	}, nil
}

//relationshipEnds returns the metadata and identities of both ends of a reified relationship entity.
func (r relationshipResolver) relationshipEnds(meta *EntityMeta, access EntityAccess) (from, to *EntityMeta, start, end Identity, err error) {
	rel := meta.Relationship
	fromAssoc, toAssoc := meta.Association(rel.From), meta.Association(rel.To)
	if from, err = r.provider.Entity(fromAssoc.info().Target); err != nil {
		return
	}
	if to, err = r.provider.Entity(toAssoc.info().Target); err != nil {
		return
	}
	if start, err = r.identify(access.Property(rel.From)); err != nil {
		return
	}
	end, err = r.identify(access.Property(rel.To))
	return
}

//relationshipProperties collects the non-nil simple properties and attributes of a reified relationship entity.
func relationshipProperties(meta *EntityMeta, access EntityAccess) map[string]any {
	props := map[string]any{}
	for _, name := range meta.allProperties() {
		if name == relationshipTypeKey {
			continue
		}
		if v := access.Property(name); v != nil {
			props[name] = v
		}
	}
	for k, v := range access.Attributes() {
		if _, declared := props[k]; !declared && v != nil && k != relationshipTypeKey {
			props[k] = v
		}
	}
	return props
}

//relationshipEntityInsert merges the edge of a reified relationship entity and sets its properties on creation.
func (r relationshipResolver) relationshipEntityInsert(meta *EntityMeta, access EntityAccess) (statement, error) {
	from, to, start, end, err := r.relationshipEnds(meta, access)
	if err != nil {
		return statement{}, err
	}
	if start == nil || end == nil {
		return statement{}, &IdentityGenerationError{Kind: meta.Kind, Cause: fmt.Errorf("both ends of the relationship must be persisted first")}
	}
	relMatch := `-[r:` + quoteName(meta.Relationship.Type) + `]->`
	cypher := fmt.Sprintf(fromToNodesMatch, from.LabelsWithInheritance(), to.LabelsWithInheritance()) +
		from.FormatID(fromVariable) + ` = $` + startParam +
		` AND ` + to.FormatID(toVariable) + ` IN $` + endParam +
		` MERGE (` + fromVariable + `)` + relMatch + `(` + toVariable + `)` +
		` ON CREATE SET r=$` + relPropsParam +
		` RETURN ID(r) as id`
	return statement{
		cypher: cypher,
		params: map[string]any{
			startParam:    start,
			endParam:      []Identity{end},
			relPropsParam: relationshipProperties(meta, access),
		},
		operation: mergeOperationLog,
	}, nil
}

//relationshipEntityUpdate sets changed properties on the edge of a reified relationship entity.
func (r relationshipResolver) relationshipEntityUpdate(meta *EntityMeta, id Identity, changed map[string]any) statement {
	return statement{
		cypher:    `MATCH ()-[r:` + quoteName(meta.Relationship.Type) + `]->() WHERE ID(r) = $id SET r += $props RETURN ID(r) as id`,
		params:    map[string]any{"id": id, "props": changed},
		operation: updateOperationLog,
	}
}

//relationshipEntityDeletes deletes the edges of reified relationship entities by identity.
func (r relationshipResolver) relationshipEntityDeletes(meta *EntityMeta, ids []Identity) statement {
	builder := NewCypherBuilder(emptyString).SetStartNode(fromVariable)
	builder.AddRelationshipMatch(`-[r:` + quoteName(meta.Relationship.Type) + `]->(` + toVariable + `)`)
	builder.SetConditions(`ID(r) IN $` + fmt.Sprint(builder.AddParam(ids)))
	builder.AddDeleteColumn("r")
	return statement{cypher: builder.Build(), params: builder.Params(), operation: deleteOperationLog}
}

func isDynamic(a Association) bool {
	_, ok := a.(*Dynamic)
	return ok
}
