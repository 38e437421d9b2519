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

import "sync"

//DefaultLedgerCapacity bounds the distinct keys of one relationship ledger.
const DefaultLedgerCapacity = 5000

//RelationshipUpdateKey identifies a batch of relationship writes of one owner through one association.
type RelationshipUpdateKey struct {
	Owner       Identity
	Association string
}

type ledgerEntry struct {
	ownerKind   string
	association Association
	owner       EntityAccess
	targets     []Identity
}

//relationshipLedger maps relationship update keys to ordered, duplicate free target identities.
//Recording is idempotent per key and target, so cascades that re-enter it while a flush
//drains are safe.
type relationshipLedger struct {
	mu       sync.Mutex
	capacity int
	entries  map[RelationshipUpdateKey]*ledgerEntry
	order    []RelationshipUpdateKey
}

func newRelationshipLedger(capacity int) *relationshipLedger {
	if capacity <= 0 {
		capacity = DefaultLedgerCapacity
	}
	return &relationshipLedger{
		capacity: capacity,
		entries:  map[RelationshipUpdateKey]*ledgerEntry{},
	}
}

//record adds target under (owner, association). Absent identities are ignored.
func (l *relationshipLedger) record(owner EntityAccess, ownerKind string, association Association, target Identity) error {
	if owner == nil || owner.Identifier() == nil || target == nil {
		return nil
	}
	key := RelationshipUpdateKey{Owner: owner.Identifier(), Association: association.info().key()}

	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= l.capacity {
			return &ResourceExhaustedError{Capacity: l.capacity}
		}
		entry = &ledgerEntry{ownerKind: ownerKind, association: association, owner: owner}
		l.entries[key] = entry
		l.order = append(l.order, key)
	}
	for _, existing := range entry.targets {
		if existing == target {
			return nil
		}
	}
	entry.targets = append(entry.targets, target)
	return nil
}

//drain removes key and returns its entry.
func (l *relationshipLedger) drain(key RelationshipUpdateKey) *ledgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok {
		return nil
	}
	delete(l.entries, key)
	for i, k := range l.order {
		if k == key {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return entry
}

func (l *relationshipLedger) peek(key RelationshipUpdateKey) []Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.entries[key]; ok {
		return append([]Identity{}, entry.targets...)
	}
	return nil
}

//keys returns a snapshot of the keys in recording order.
func (l *relationshipLedger) keys() []RelationshipUpdateKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]RelationshipUpdateKey{}, l.order...)
}

func (l *relationshipLedger) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *relationshipLedger) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = map[RelationshipUpdateKey]*ledgerEntry{}
	l.order = nil
}
