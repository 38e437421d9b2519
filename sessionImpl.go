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
	"time"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"go.uber.org/zap"
)

const dataColumn = `data`

//SessionImpl is one unit of work: it stages writes, flushes them through a Runner and keeps
//one instance per stored entity. It is not safe for concurrent use.
type SessionImpl struct {
	provider       MetadataProvider
	logger         *zap.Logger
	driver         neo4j.Driver
	database       string
	timeout        time.Duration
	ledgerCapacity int

	cypherExecuter *cypherExecuter
	saver          *saver
	flusher        *flusher
	materializer   *materializer
	eventer        *eventer
	cache          *identityCache
	transaction    *Transaction
	closed         bool
}

type SessionOption func(*SessionImpl)

func WithLogger(logger *zap.Logger) SessionOption {
	return func(s *SessionImpl) {
		s.logger = logger
	}
}

//WithLedgerCapacity bounds the distinct relationship update keys staged between flushes.
func WithLedgerCapacity(capacity int) SessionOption {
	return func(s *SessionImpl) {
		s.ledgerCapacity = capacity
	}
}

func WithDriver(driver neo4j.Driver, database string) SessionOption {
	return func(s *SessionImpl) {
		s.driver = driver
		s.database = database
	}
}

func WithTransactionTimeout(timeout time.Duration) SessionOption {
	return func(s *SessionImpl) {
		s.timeout = timeout
	}
}

func NewSession(provider MetadataProvider, options ...SessionOption) *SessionImpl {
	s := &SessionImpl{
		provider:       provider,
		logger:         zap.NewNop(),
		ledgerCapacity: DefaultLedgerCapacity,
		eventer:        &eventer{},
		cache:          newIdentityCache(),
	}
	for _, option := range options {
		option(s)
	}
	s.cypherExecuter = newCypherExecuter(s.driver, s.database, s.logger)
	s.saver = newSaver(provider, s.cache, s.eventer, s.ledgerCapacity)
	s.flusher = &flusher{
		saver:    s.saver,
		executer: s.cypherExecuter,
		resolver: relationshipResolver{provider: provider, identify: s.saver.identify},
		eventer:  s.eventer,
		logger:   s.logger,
	}
	s.materializer = &materializer{
		provider:  provider,
		cache:     s.cache,
		deferreds: s,
		eventer:   s.eventer,
		executor:  s.associationExecutor,
		nativeRef: s.forNativeIdentity,
		takeSnap:  s.saver.takeSnapshot,
	}
	return s
}

//BeginTransaction starts a write transaction on the driver and binds it to the session.
func (s *SessionImpl) BeginTransaction() (*Transaction, error) {
	return s.beginTransaction(neo4j.AccessModeWrite)
}

//BeginReadOnlyTransaction binds a read transaction. Flushes do nothing while it is active.
func (s *SessionImpl) BeginReadOnlyTransaction() (*Transaction, error) {
	return s.beginTransaction(neo4j.AccessModeRead)
}

func (s *SessionImpl) beginTransaction(accessMode neo4j.AccessMode) (*Transaction, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.driver == nil {
		return nil, configErrorf("session", "no driver configured")
	}
	if s.cypherExecuter.runner != nil {
		return nil, configErrorf("session", "a transaction is already active")
	}
	s.transaction = newTransaction(s.driver, s.database, accessMode, s.timeout)
	s.cypherExecuter.setRunner(s.transaction)
	return s.transaction, nil
}

//UseTransaction binds an externally managed Runner.
func (s *SessionImpl) UseTransaction(runner Runner) {
	if s.timeout > 0 {
		runner.SetTimeout(s.timeout)
	}
	s.cypherExecuter.setRunner(runner)
}

func (s *SessionImpl) GetTransaction() Runner {
	return s.cypherExecuter.runner
}

//SetRollbackOnly rejects every later statement of the active transaction.
func (s *SessionImpl) SetRollbackOnly() {
	if r, ok := s.cypherExecuter.runner.(interface{ SetRollbackOnly() }); ok {
		r.SetRollbackOnly()
	}
}

//Commit flushes and commits the active transaction.
func (s *SessionImpl) Commit() error {
	if s.closed {
		return ErrSessionClosed
	}
	runner := s.cypherExecuter.runner
	if runner == nil {
		return ErrNoTransaction
	}
	if err := s.Flush(); err != nil {
		return err
	}
	err := runner.Commit()
	s.endTransaction()
	return err
}

//Rollback rolls the active transaction back and forgets everything the session staged or cached.
func (s *SessionImpl) Rollback() error {
	if s.closed {
		return ErrSessionClosed
	}
	runner := s.cypherExecuter.runner
	if runner == nil {
		return ErrNoTransaction
	}
	err := runner.Rollback()
	s.endTransaction()
	s.Clear()
	return err
}

func (s *SessionImpl) endTransaction() {
	if s.transaction != nil {
		if err := s.transaction.Close(); err != nil {
			s.logger.Warn("closing transaction", zap.Error(err))
		}
		s.transaction = nil
	}
	s.cypherExecuter.setRunner(nil)
}

//Persist stages entities and everything reachable through their initialized associations.
func (s *SessionImpl) Persist(entities ...any) error {
	if s.closed {
		return ErrSessionClosed
	}
	for _, entity := range entities {
		if err := s.saver.persist(entity); err != nil {
			return err
		}
	}
	return nil
}

func (s *SessionImpl) Delete(entities ...any) error {
	if s.closed {
		return ErrSessionClosed
	}
	for _, entity := range entities {
		if err := s.saver.delete(entity); err != nil {
			return err
		}
	}
	return nil
}

//Relate stages an edge from owner to target through the named association.
func (s *SessionImpl) Relate(owner any, association string, target any) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.saver.relate(owner, association, target, false)
}

func (s *SessionImpl) Unrelate(owner any, association string, target any) error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.saver.relate(owner, association, target, true)
}

//Flush executes everything staged. A read-only transaction discards the staged writes.
func (s *SessionImpl) Flush() error {
	if s.closed {
		return ErrSessionClosed
	}
	runner := s.cypherExecuter.runner
	if runner == nil {
		if s.saver.hasPending() {
			return ErrNoTransaction
		}
		return nil
	}
	if r, ok := runner.(interface{ IsReadOnly() bool }); ok && r.IsReadOnly() {
		s.saver.clearPending()
		return nil
	}
	return s.flusher.flush()
}

//FlushState reports the state the last flush reached.
func (s *SessionImpl) FlushState() FlushState {
	return s.flusher.state
}

func (s *SessionImpl) meta(kind string) (*EntityMeta, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	return s.provider.Entity(kind)
}

//Load returns the session instance of kind with id, or nil when nothing is stored.
func (s *SessionImpl) Load(kind string, id Identity) (any, error) {
	meta, err := s.meta(kind)
	if err != nil {
		return nil, err
	}
	if cached := s.cache.get(meta, id); cached != nil {
		return cached, nil
	}
	entities, err := s.load(meta, ` = $`, id, false)
	if err != nil || len(entities) == 0 {
		return nil, err
	}
	return entities[0], nil
}

//LoadAll returns the instances with ids, in the order of ids, skipping missing ones.
func (s *SessionImpl) LoadAll(kind string, ids []Identity) ([]any, error) {
	meta, err := s.meta(kind)
	if err != nil {
		return nil, err
	}
	return s.loadByIdentities(meta, ids, false)
}

//loadByIdentities loads what the cache misses and returns the instances in the order of ids.
//Native lookups always query since the cache is keyed by the kind's own identities.
func (s *SessionImpl) loadByIdentities(meta *EntityMeta, ids []Identity, native bool) ([]any, error) {
	if native {
		return s.load(meta, ` IN $`, ids, true)
	}
	var missing []Identity
	for _, id := range ids {
		if s.cache.get(meta, id) == nil {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		if _, err := s.load(meta, ` IN $`, missing, false); err != nil {
			return nil, err
		}
	}
	entities := make([]any, 0, len(ids))
	for _, id := range ids {
		if entity := s.cache.get(meta, id); entity != nil {
			entities = append(entities, entity)
		}
	}
	return entities, nil
}

//load matches meta by identity, fetching eager associations with the node and the
//identities of lazy to-one associations.
func (s *SessionImpl) load(meta *EntityMeta, operator string, param any, native bool) ([]any, error) {
	builder := NewCypherBuilder(meta.LabelsWithInheritance())
	identity := meta.FormatID(builder.StartNode())
	if native {
		identity = `ID(` + builder.StartNode() + `)`
	}
	builder.SetConditions(identity + operator + strconv.Itoa(builder.AddParam(param)))
	builder.AddReturnColumn(builder.StartNode() + ` as ` + dataColumn)
	for i, a := range meta.allAssociations() {
		info := a.info()
		target, err := s.provider.Entity(info.Target)
		if err != nil {
			return nil, err
		}
		variable := "a" + strconv.Itoa(i)
		switch {
		case target.IsRelationshipEntity():
			if info.Fetch == Eager {
				builder.AddOptionalMatch(`(` + builder.StartNode() + `)-[` + variable + `:` + quoteName(target.Relationship.Type) + `]->()`)
				builder.AddReturnColumn(`collect(DISTINCT ` + variable + `) as ` + info.Name + relsSuffix)
			}
		case info.Fetch == Eager:
			builder.AddOptionalMatch(`(` + builder.StartNode() + `)` + matchForAssociation(a, emptyString, relationshipAttributes(a, meta, target, positionalParams(builder))) + `(` + variable + target.LabelsWithInheritance() + `)`)
			builder.AddReturnColumn(`collect(DISTINCT ` + variable + `) as ` + info.Name + nodesSuffix)
		case isToOne(a):
			builder.AddOptionalMatch(`(` + builder.StartNode() + `)` + matchForAssociation(a, emptyString, emptyString) + `(` + variable + target.LabelsWithInheritance() + `)`)
			builder.AddReturnColumn(`collect(DISTINCT ` + target.FormatID(variable) + `) as ` + info.Name + idsSuffix)
		}
	}
	records, err := s.cypherExecuter.run(statement{cypher: builder.Build(), params: builder.Params()})
	if err != nil {
		return nil, err
	}
	return s.materializeRecords(meta, records)
}

func (s *SessionImpl) materializeRecords(meta *EntityMeta, records []*neo4j.Record) ([]any, error) {
	entities := make([]any, 0, len(records))
	for _, record := range records {
		data := recordData(record)
		value, ok := data[dataColumn]
		if !ok && len(record.Values) > 0 {
			value = record.Values[0]
		}
		var (
			entity any
			err    error
		)
		switch v := value.(type) {
		case neo4j.Node:
			entity, err = s.materializer.materialize(meta, v, data, nil)
		case neo4j.Relationship:
			if !meta.IsRelationshipEntity() {
				return nil, configErrorf(meta.Kind, "query returned a relationship for a node kind")
			}
			entity, err = s.materializer.materializeRelationship(meta, v, nil)
		case nil:
			continue
		default:
			return nil, configErrorf(meta.Kind, "query returned %T, not a node or relationship", value)
		}
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func recordData(record *neo4j.Record) map[string]any {
	data := make(map[string]any, len(record.Keys))
	for i, key := range record.Keys {
		data[key] = record.Values[i]
	}
	return data
}

//QueryForObjects runs cypher and materializes the "data" column, or the first one, as kind.
func (s *SessionImpl) QueryForObjects(kind string, cypher string, parameters map[string]any) ([]any, error) {
	meta, err := s.meta(kind)
	if err != nil {
		return nil, err
	}
	records, err := s.cypherExecuter.run(statement{cypher: cypher, params: parameters})
	if err != nil {
		return nil, err
	}
	return s.materializeRecords(meta, records)
}

//Query runs cypher and returns each record as a map of column to value.
func (s *SessionImpl) Query(cypher string, parameters map[string]any) ([]map[string]any, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	records, err := s.cypherExecuter.run(statement{cypher: cypher, params: parameters})
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, len(records))
	for i, record := range records {
		rows[i] = recordData(record)
	}
	return rows, nil
}

//UpdateAll sets properties on every stored instance of kind with one of ids and returns how many were updated.
//Cached instances are evicted.
func (s *SessionImpl) UpdateAll(kind string, ids []Identity, properties map[string]any) (int64, error) {
	meta, err := s.meta(kind)
	if err != nil {
		return 0, err
	}
	builder := NewCypherBuilder(meta.LabelsWithInheritance())
	builder.SetConditions(meta.FormatID(builder.StartNode()) + ` IN $` + strconv.Itoa(builder.AddParam(ids)))
	builder.AddPropertySet(properties)
	builder.AddReturnColumn(`count(` + builder.StartNode() + `) as total`)
	records, err := s.cypherExecuter.run(statement{cypher: builder.Build(), params: builder.Params(), operation: updateOperationLog})
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.cache.remove(meta, id)
	}
	if len(records) == 0 {
		return 0, nil
	}
	total, _ := records[0].Get("total")
	count, _ := toInt64(total)
	return count, nil
}

//DeleteAll deletes the instances of kind with ids, detaching cascade-on-remove targets along.
func (s *SessionImpl) DeleteAll(kind string, ids []Identity) error {
	meta, err := s.meta(kind)
	if err != nil {
		return err
	}
	var st statement
	if meta.IsRelationshipEntity() {
		st = s.flusher.resolver.relationshipEntityDeletes(meta, ids)
	} else if st, err = s.flusher.deleteStatement(meta, ids); err != nil {
		return err
	}
	if _, err = s.cypherExecuter.run(st); err != nil {
		return err
	}
	for _, id := range ids {
		s.cache.remove(meta, id)
	}
	return nil
}

//Clear forgets cached instances and staged writes.
func (s *SessionImpl) Clear() {
	s.cache.clear()
	s.saver.clearPending()
}

//Disconnect rolls back an active transaction and closes the session.
func (s *SessionImpl) Disconnect() error {
	if s.closed {
		return nil
	}
	var err error
	if s.cypherExecuter.runner != nil {
		err = s.Rollback()
	}
	s.Clear()
	s.closed = true
	return err
}

func (s *SessionImpl) RegisterEventListener(eventListener EventListener) error {
	return s.eventer.registerEventListener(eventListener)
}

func (s *SessionImpl) DisposeEventListener(eventListener EventListener) error {
	return s.eventer.disposeEventListener(eventListener)
}

func (s *SessionImpl) ForIdentity(kind string, id Identity) *Deferred {
	query := DeferredQuery{Kind: kind, Identities: []Identity{id}, Single: true}
	if meta, err := s.provider.Entity(kind); err == nil {
		if cached := s.cache.get(meta, id); cached != nil {
			d := Resolved(cached)
			d.query = query
			return d
		}
	}
	return Pending(query, s.resolveDeferred)
}

func (s *SessionImpl) ForIdentities(kind string, ids []Identity) *Deferred {
	return Pending(DeferredQuery{Kind: kind, Identities: ids}, s.resolveDeferred)
}

func (s *SessionImpl) ForAssociation(kind string, executor AssociationQueryExecutor, owner Identity) *Deferred {
	return Pending(DeferredQuery{Kind: kind, Owner: owner}, func(q DeferredQuery) ([]any, error) {
		return executor.QueryAssociation(q.Owner)
	})
}

func (s *SessionImpl) forNativeIdentity(kind string, id int64) *Deferred {
	return Pending(DeferredQuery{Kind: kind, Identities: []Identity{id}, Native: true, Single: true}, s.resolveDeferred)
}

func (s *SessionImpl) resolveDeferred(q DeferredQuery) ([]any, error) {
	meta, err := s.meta(q.Kind)
	if err != nil {
		return nil, err
	}
	return s.loadByIdentities(meta, q.Identities, q.Native)
}

type associationQuery struct {
	session     *SessionImpl
	owner       *EntityMeta
	association Association
}

func (s *SessionImpl) associationExecutor(owner *EntityMeta, a Association) AssociationQueryExecutor {
	return associationQuery{session: s, owner: owner, association: a}
}

//QueryAssociation matches the targets of the association starting from owner.
func (q associationQuery) QueryAssociation(owner Identity) ([]any, error) {
	info := q.association.info()
	target, err := q.session.meta(info.Target)
	if err != nil {
		return nil, err
	}
	builder := NewCypherBuilder(q.owner.LabelsWithInheritance()).SetStartNode(fromVariable)
	if target.IsRelationshipEntity() {
		builder.AddRelationshipMatch(`-[r:` + quoteName(target.Relationship.Type) + `]->(` + toVariable + `)`)
		builder.AddReturnColumn(`r as ` + dataColumn)
	} else {
		builder.AddRelationshipMatch(matchForAssociation(q.association, emptyString, relationshipAttributes(q.association, q.owner, target, positionalParams(builder))) + `(` + toVariable + target.LabelsWithInheritance() + `)`)
		builder.AddReturnColumn(toVariable + ` as ` + dataColumn)
	}
	builder.SetConditions(q.owner.FormatID(fromVariable) + ` = $` + strconv.Itoa(builder.AddParam(owner)))
	records, err := q.session.cypherExecuter.run(statement{cypher: builder.Build(), params: builder.Params()})
	if err != nil {
		return nil, err
	}
	return q.session.materializeRecords(target, records)
}
