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

//OperationType is the kind of write a PendingOperation stages.
type OperationType int

const (
	InsertOperation OperationType = iota
	UpdateOperation
	DeleteOperation
)

func (o OperationType) String() string {
	switch o {
	case InsertOperation:
		return "insert"
	case UpdateOperation:
		return "update"
	case DeleteOperation:
		return "delete"
	}
	return "unknown"
}

//PendingOperation is one staged write of one entity instance. Pre-operations run before
//the main action, cascades after it and only when the operation was not vetoed.
type PendingOperation struct {
	Type     OperationType
	Kind     string
	Identity Identity
	Access   EntityAccess

	meta          *EntityMeta
	preOperations []func() error
	cascades      []func() error
	veto          func(*PendingOperation) bool
	vetoed        bool
	ran           bool
	cascaded      bool
}

func newPendingOperation(t OperationType, meta *EntityMeta, access EntityAccess) *PendingOperation {
	return &PendingOperation{
		Type:     t,
		Kind:     meta.Kind,
		Identity: access.Identifier(),
		Access:   access,
		meta:     meta,
	}
}

func (p *PendingOperation) Entity() any {
	return p.Access.Entity()
}

func (p *PendingOperation) AddPreOperation(op func() error) {
	p.preOperations = append(p.preOperations, op)
}

func (p *PendingOperation) AddCascade(op func() error) {
	p.cascades = append(p.cascades, op)
}

//Veto marks the operation so that neither its statement nor its cascades execute.
func (p *PendingOperation) Veto() {
	p.vetoed = true
}

func (p *PendingOperation) IsVetoed() bool {
	return p.vetoed
}

//run executes the pre-operations and the veto check. It reports whether the main
//action should proceed and does nothing after the first call.
func (p *PendingOperation) run() (bool, error) {
	if p.ran {
		return false, nil
	}
	p.ran = true
	for _, pre := range p.preOperations {
		if err := pre(); err != nil {
			return false, err
		}
	}
	if p.vetoed {
		return false, nil
	}
	if p.veto != nil && p.veto(p) {
		p.vetoed = true
		return false, nil
	}
	return true, nil
}

//cascade fires the cascade list once, unless the operation was vetoed.
func (p *PendingOperation) cascade() error {
	if p.vetoed || p.cascaded {
		return nil
	}
	p.cascaded = true
	for _, c := range p.cascades {
		if err := c(); err != nil {
			return err
		}
	}
	return nil
}

//runnable filters ops down to the ones whose main action should execute.
func runnable(ops []*PendingOperation) ([]*PendingOperation, error) {
	var result []*PendingOperation
	for _, op := range ops {
		proceed, err := op.run()
		if err != nil {
			return nil, err
		}
		if proceed {
			result = append(result, op)
		}
	}
	return result, nil
}

func cascadeAll(ops []*PendingOperation) error {
	for _, op := range ops {
		if err := op.cascade(); err != nil {
			return err
		}
	}
	return nil
}
