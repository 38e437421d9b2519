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
	"strconv"
	"strings"
)

const (
	defaultStartNode = `n`
	defaultReturn    = `as data`
	cypherMatch      = `MATCH (`
	cypherWhere      = ` WHERE `
	cypherOptional   = ` ` + "\n" + `OPTIONAL MATCH`
	cypherDelete     = "\n" + ` DETACH DELETE `
	cypherReturn     = ` RETURN `
	separator        = `, `
)

//CypherBuilder assembles one Cypher statement from clause fragments and positional parameters.
type CypherBuilder struct {
	className           string
	startNode           string
	matches             []string
	optionalMatches     []string
	relationshipMatches []string
	conditions          string
	orderAndLimits      string
	returnColumns       []string
	deleteColumns       []string
	propertiesToSet     map[string]any
	setParamIndex       int
	params              map[string]any
}

//NewCypherBuilder starts a statement matching a node with className, a label expression such as ":Person".
func NewCypherBuilder(className string) *CypherBuilder {
	return &CypherBuilder{
		className: className,
		startNode: defaultStartNode,
		params:    map[string]any{},
	}
}

func (b *CypherBuilder) SetStartNode(name string) *CypherBuilder {
	b.startNode = name
	return b
}

func (b *CypherBuilder) StartNode() string {
	return b.startNode
}

//NextMatchNumber is the number of additional match fragments so far, usable to name the next variable.
func (b *CypherBuilder) NextMatchNumber() int {
	return len(b.matches)
}

func (b *CypherBuilder) AddRelationshipMatch(match string) *CypherBuilder {
	if !contains(b.relationshipMatches, match) {
		b.relationshipMatches = append(b.relationshipMatches, match)
	}
	return b
}

//ReplaceFirstRelationshipMatch replaces the first relationship match, or adds it when none exists.
func (b *CypherBuilder) ReplaceFirstRelationshipMatch(match string) *CypherBuilder {
	if len(b.relationshipMatches) == 0 {
		b.relationshipMatches = append(b.relationshipMatches, match)
	} else {
		b.relationshipMatches[0] = match
	}
	return b
}

//AddMatch adds a pattern to the MATCH clause. Identical text is kept once.
func (b *CypherBuilder) AddMatch(match string) *CypherBuilder {
	if !contains(b.matches, match) {
		b.matches = append(b.matches, match)
	}
	return b
}

//AddOptionalMatch appends an OPTIONAL MATCH line. Order is preserved and nothing is deduplicated.
func (b *CypherBuilder) AddOptionalMatch(match string) *CypherBuilder {
	b.optionalMatches = append(b.optionalMatches, match)
	return b
}

func (b *CypherBuilder) SetConditions(conditions string) *CypherBuilder {
	b.conditions = conditions
	return b
}

func (b *CypherBuilder) SetOrderAndLimits(orderAndLimits string) *CypherBuilder {
	b.orderAndLimits = orderAndLimits
	return b
}

//AddPropertySet binds properties as a parameter and renders "SET <start> += $<idx>".
func (b *CypherBuilder) AddPropertySet(properties map[string]any) *CypherBuilder {
	if properties == nil {
		return b
	}
	if b.propertiesToSet == nil {
		b.propertiesToSet = map[string]any{}
		b.setParamIndex = b.AddParam(b.propertiesToSet)
	}
	for k, v := range properties {
		b.propertiesToSet[k] = v
	}
	return b
}

func (b *CypherBuilder) AddReturnColumn(column string) *CypherBuilder {
	b.returnColumns = append(b.returnColumns, column)
	return b
}

func (b *CypherBuilder) AddDeleteColumn(column string) *CypherBuilder {
	b.deleteColumns = append(b.deleteColumns, column)
	return b
}

//AddParam binds value to the next position and returns that 1-based position.
func (b *CypherBuilder) AddParam(value any) int {
	position := len(b.params) + 1
	b.params[strconv.Itoa(position)] = value
	return position
}

func (b *CypherBuilder) ReplaceParamAt(position int, value any) {
	b.params[strconv.Itoa(position)] = value
}

func (b *CypherBuilder) Params() map[string]any {
	return b.params
}

//Build renders the statement. It does not change the builder and always renders the same text for the same state.
func (b *CypherBuilder) Build() string {
	var sb strings.Builder
	sb.WriteString(cypherMatch)
	sb.WriteString(b.startNode)
	sb.WriteString(b.className)
	sb.WriteString(`)`)
	for _, m := range b.relationshipMatches {
		sb.WriteString(m)
	}
	for _, m := range b.matches {
		sb.WriteString(separator)
		sb.WriteString(m)
	}
	if b.conditions != emptyString {
		sb.WriteString(cypherWhere)
		sb.WriteString(b.conditions)
	}
	for _, m := range b.optionalMatches {
		sb.WriteString(cypherOptional)
		sb.WriteString(` `)
		sb.WriteString(m)
	}

	if len(b.deleteColumns) > 0 {
		sb.WriteString(cypherDelete)
		sb.WriteString(strings.Join(b.deleteColumns, separator))
		return sb.String()
	}

	if b.propertiesToSet != nil {
		sb.WriteString("\n" + `SET ` + b.startNode + ` += $` + strconv.Itoa(b.setParamIndex) + "\n")
	}

	sb.WriteString(cypherReturn)
	if len(b.returnColumns) == 0 {
		sb.WriteString(b.startNode + ` ` + defaultReturn + "\n")
	} else {
		sb.WriteString(strings.Join(b.returnColumns, separator))
	}
	if b.orderAndLimits != emptyString {
		if len(b.returnColumns) > 0 {
			sb.WriteString(` `)
		}
		sb.WriteString(b.orderAndLimits)
	}
	return sb.String()
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
