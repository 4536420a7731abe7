// Package coordinator implements a transactional work coordinator: a
// unit-of-work engine that collects pending writes against
// heterogeneous entity types, resolves inter-record relationships,
// batches operations in a caller-declared dependency order and
// executes them with rollback-on-failure semantics and deterministic
// deferred side effects.
package coordinator

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DeleteOrder controls the direction in which delete batches run
// relative to the declared entity-type order.
type DeleteOrder int

const (
	// DeleteAscending runs deletes in the same declared order as
	// inserts, interleaved with the per-type write pass.
	DeleteAscending DeleteOrder = iota
	// DeleteDescending runs deletes in reverse declared order, after
	// every insert/update/upsert batch, which is what dependency-safe
	// deletion usually wants.
	DeleteDescending
)

// Deps are the external collaborators a Coordinator drives. Strategy
// and Savepoints are required; the rest may be nil as long as nothing
// that needs them is staged.
type Deps struct {
	Strategy   WriteStrategy
	Savepoints SavepointProvider
	Lookup     LookupService
	Events     EventTransport
	Messages   MessageTransport
}

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithHooks installs the lifecycle callbacks.
func WithHooks(hooks Hooks) Option {
	return func(c *Coordinator) { c.hooks = hooks }
}

// WithLogger installs a zap logger for phase-transition logging.
func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// WithDeleteOrder overrides the default ascending delete ordering.
func WithDeleteOrder(order DeleteOrder) Option {
	return func(c *Coordinator) { c.deleteOrder = order }
}

// Coordinator is the unit of work itself. One instance services
// exactly one logical transaction on one goroutine: registration and
// commit are not safe for concurrent use, and a committed instance
// cannot be reused.
type Coordinator struct {
	registry *registry
	resolver *resolver
	effects  *effectsQueue

	strategy   WriteStrategy
	savepoints SavepointProvider
	lookup     LookupService
	events     EventTransport
	messages   MessageTransport

	hooks       Hooks
	deleteOrder DeleteOrder
	log         *zap.Logger

	mu        sync.Mutex
	committed bool
}

// New creates a Coordinator managing exactly the given entity types.
// The list order is the commit order for inserts and, by default, for
// deletes as well (see WithDeleteOrder).
func New(entityTypes []string, deps Deps, opts ...Option) (*Coordinator, error) {
	reg, err := newRegistry(entityTypes)
	if err != nil {
		return nil, err
	}
	if deps.Strategy == nil {
		return nil, newConfigurationError("a write strategy is required")
	}
	if deps.Savepoints == nil {
		return nil, newConfigurationError("a savepoint provider is required")
	}
	c := &Coordinator{
		registry:   reg,
		resolver:   newResolver(),
		effects:    newEffectsQueue(),
		strategy:   deps.Strategy,
		savepoints: deps.Savepoints,
		lookup:     deps.Lookup,
		events:     deps.Events,
		messages:   deps.Messages,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Coordinator) guardRegistration() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.committed {
		return &AlreadyCommittedError{}
	}
	return nil
}

// RegisterNew stages a record for insert.
func (c *Coordinator) RegisterNew(record Record) error {
	if err := c.guardRegistration(); err != nil {
		return err
	}
	return c.registry.add(record, OpInsert, nil)
}

// RegisterDirty stages a record for a full update.
func (c *Coordinator) RegisterDirty(record Record) error {
	if err := c.guardRegistration(); err != nil {
		return err
	}
	return c.registry.add(record, OpUpdate, nil)
}

// RegisterDirtyFields stages a sparse update restricted to the named
// fields.
func (c *Coordinator) RegisterDirtyFields(record Record, fields ...string) error {
	if err := c.guardRegistration(); err != nil {
		return err
	}
	if len(fields) == 0 {
		return newConfigurationError("sparse update requires at least one field")
	}
	return c.registry.add(record, OpUpdate, fields)
}

// RegisterDeleted stages a record for (soft) delete.
func (c *Coordinator) RegisterDeleted(record Record) error {
	if err := c.guardRegistration(); err != nil {
		return err
	}
	return c.registry.add(record, OpDelete, nil)
}

// RegisterPurged stages a record for permanent delete.
func (c *Coordinator) RegisterPurged(record Record) error {
	if err := c.guardRegistration(); err != nil {
		return err
	}
	return c.registry.add(record, OpPermanentDelete, nil)
}

// RegisterUpsert stages a record for upsert. Whether it becomes an
// insert or an update is decided by the write strategy at execution
// time, from identity presence.
func (c *Coordinator) RegisterUpsert(record Record) error {
	if err := c.guardRegistration(); err != nil {
		return err
	}
	return c.registry.add(record, OpUpsert, nil)
}

// Registered returns a snapshot of the pending bucket for one type and
// kind, for inspection and testing.
func (c *Coordinator) Registered(entityType string, kind OpKind) []Record {
	return c.registry.records(entityType, kind)
}

// Link stages a direct relationship: once target has an identity, it
// is written into owner's link field.
func (c *Coordinator) Link(owner Record, ownerField string, target Record) error {
	if err := c.guardRegistration(); err != nil {
		return err
	}
	if owner != nil && !c.registry.declared(owner.EntityType()) {
		return newConfigurationError("owner entity type %q is not in the declared type list", owner.EntityType())
	}
	if target != nil && !c.registry.declared(target.EntityType()) {
		return newConfigurationError("target entity type %q is not in the declared type list", target.EntityType())
	}
	return c.resolver.link(owner, ownerField, target)
}

// LinkByExternalID stages a relationship to a record located by an
// external identifier, resolved by a batched storage lookup during
// commit.
func (c *Coordinator) LinkByExternalID(owner Record, ownerField, targetType, externalIDField string, externalIDValue any) error {
	if err := c.guardRegistration(); err != nil {
		return err
	}
	if owner != nil && !c.registry.declared(owner.EntityType()) {
		return newConfigurationError("owner entity type %q is not in the declared type list", owner.EntityType())
	}
	return c.resolver.linkByExternalID(owner, ownerField, targetType, externalIDField, externalIDValue)
}

// StageEvent enqueues a domain event for dispatch at the given phase.
func (c *Coordinator) StageEvent(phase EventPhase, event Event) error {
	if err := c.guardRegistration(); err != nil {
		return err
	}
	return c.effects.addEvent(phase, event)
}

// StageMessage enqueues an auxiliary message, flushed after work units.
func (c *Coordinator) StageMessage(msg Message) error {
	if err := c.guardRegistration(); err != nil {
		return err
	}
	return c.effects.addMessage(msg)
}

// StageWork registers a work unit to run once after the DML phase.
func (c *Coordinator) StageWork(unit WorkUnit) error {
	if err := c.guardRegistration(); err != nil {
		return err
	}
	return c.effects.addWork(unit)
}

// Commit runs the full commit protocol. The returned result enumerates
// every failed row and phase; the returned error is nil only for a
// fully successful commit. A second call fails immediately with an
// AlreadyCommittedError and performs zero writes.
func (c *Coordinator) Commit(ctx context.Context) (*CommitResult, error) {
	c.mu.Lock()
	if c.committed {
		c.mu.Unlock()
		return nil, &AlreadyCommittedError{}
	}
	c.committed = true
	c.mu.Unlock()

	res := &CommitResult{Successful: true}
	c.hooks.commitStarting()
	c.log.Debug("commit starting")

	if err := c.publishBefore(ctx, res); err != nil {
		c.log.Error("before-transaction event dispatch failed", zap.Error(err))
		c.finish(ctx, res)
		return res, res.Err()
	}

	if err := c.runDML(ctx, res); err != nil {
		c.log.Error("dml phase failed", zap.Error(err))
		c.finish(ctx, res)
		return res, res.Err()
	}

	c.runWork(ctx, res)

	c.finish(ctx, res)
	return res, res.Err()
}

// publishBefore dispatches the before-transaction events. A failure is
// fatal and prevents any DML.
func (c *Coordinator) publishBefore(ctx context.Context, res *CommitResult) error {
	c.hooks.beforeEventDispatch(PhaseBeforeTransaction)
	err := c.dispatchEvents(ctx, PhaseBeforeTransaction)
	if err != nil {
		res.fail(err)
	}
	c.hooks.afterEventDispatch(PhaseBeforeTransaction, err)
	return err
}

func (c *Coordinator) dispatchEvents(ctx context.Context, phase EventPhase) error {
	events := c.effects.drainEvents(phase)
	if len(events) == 0 {
		return nil
	}
	if c.events == nil {
		return newConfigurationError("%s events are staged but no event transport is configured", phase)
	}
	for _, ev := range events {
		if err := c.events.Publish(ctx, ev); err != nil {
			return &DispatchError{Phase: phase.String(), Cause: err}
		}
		c.log.Debug("event dispatched",
			zap.String("phase", phase.String()),
			zap.String("event", ev.EventName()))
	}
	return nil
}

// runDML executes the write phase: savepoint, relationship resolution
// interleaved with batch execution in declared type order, rollback to
// the savepoint on any failure.
func (c *Coordinator) runDML(ctx context.Context, res *CommitResult) error {
	c.hooks.beforeDML()

	sp, err := c.savepoints.Open(ctx)
	if err != nil {
		res.fail(newConfigurationError("failed to open savepoint: %v", err))
		c.hooks.afterDML(err)
		return err
	}

	if err := c.executeBatches(ctx); err != nil {
		res.fail(err)
		rbErr := sp.Rollback(ctx)
		if rbErr != nil {
			c.log.Error("savepoint rollback failed", zap.Error(rbErr))
			res.report(rbErr)
		}
		c.hooks.afterRollback(rbErr)
		c.hooks.afterDML(err)
		return err
	}

	c.hooks.afterDML(nil)
	return nil
}

func (c *Coordinator) executeBatches(ctx context.Context) error {
	// External-id links do not depend on identities assigned in this
	// commit, so they resolve up front: one batched lookup per
	// (type, field) pair.
	c.hooks.beforeResolve("")
	err := c.resolver.resolveExternal(ctx, c.lookup)
	c.hooks.afterResolve("", err)
	if err != nil {
		return err
	}
	c.resolver.resolveAssigned()

	for _, entityType := range c.registry.order {
		if err := c.executeTypePass(ctx, entityType); err != nil {
			return err
		}
	}

	if c.deleteOrder == DeleteDescending {
		for i := len(c.registry.order) - 1; i >= 0; i-- {
			if err := c.executeDeletes(ctx, c.registry.order[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// executeTypePass runs one entity type's batches in kind order. Every
// link owned by a record in the type's write batches must be resolved
// before the first write for the type runs.
func (c *Coordinator) executeTypePass(ctx context.Context, entityType string) error {
	owners := c.registry.writeOwners(entityType,
		OpInsert, OpUpdate, OpUpsert, OpDelete, OpPermanentDelete)
	if rel := c.resolver.unresolvedOwnedBy(owners); rel != nil {
		return &RelationshipError{
			OwnerType:  entityType,
			OwnerField: rel.ownerField,
			Message: "link field " + rel.ownerField + " of a pending " + entityType +
				" record targets an unresolved " + rel.describeTarget() +
				"; declare the target type earlier in the commit order",
		}
	}

	inserts := c.registry.records(entityType, OpInsert)
	if err := c.executeBatch(ctx, entityType, OpInsert, func() ([]RowResult, error) {
		return c.strategy.Insert(ctx, entityType, inserts)
	}, len(inserts)); err != nil {
		return err
	}

	// Inserts just assigned identities: rewrite links targeting this
	// type before any later-ordered owner executes.
	c.hooks.beforeResolve(entityType)
	c.resolver.resolveTargets(entityType)
	c.hooks.afterResolve(entityType, nil)

	for _, mb := range c.registry.maskedBatches(entityType) {
		mb := mb
		if err := c.executeBatch(ctx, entityType, OpUpdate, func() ([]RowResult, error) {
			return c.strategy.Update(ctx, entityType, mb.records, mb.fieldMask)
		}, len(mb.records)); err != nil {
			return err
		}
	}

	upserts := c.registry.records(entityType, OpUpsert)
	if err := c.executeBatch(ctx, entityType, OpUpsert, func() ([]RowResult, error) {
		return c.strategy.Upsert(ctx, entityType, upserts)
	}, len(upserts)); err != nil {
		return err
	}

	// Upserts of fresh records assign identities too, so links targeting
	// this type resolve again before any later-ordered owner executes.
	if len(upserts) > 0 {
		c.hooks.beforeResolve(entityType)
		c.resolver.resolveTargets(entityType)
		c.hooks.afterResolve(entityType, nil)
	}

	if c.deleteOrder == DeleteAscending {
		return c.executeDeletes(ctx, entityType)
	}
	return nil
}

func (c *Coordinator) executeDeletes(ctx context.Context, entityType string) error {
	deletes := c.registry.records(entityType, OpDelete)
	if err := c.executeBatch(ctx, entityType, OpDelete, func() ([]RowResult, error) {
		return c.strategy.Delete(ctx, entityType, deletes)
	}, len(deletes)); err != nil {
		return err
	}

	purges := c.registry.records(entityType, OpPermanentDelete)
	return c.executeBatch(ctx, entityType, OpPermanentDelete, func() ([]RowResult, error) {
		return c.strategy.PermanentlyDelete(ctx, entityType, purges)
	}, len(purges))
}

// executeBatch runs one batch through the strategy and converts any
// row-level failure into a fatal RowError. Empty batches are skipped
// without firing batch hooks.
func (c *Coordinator) executeBatch(ctx context.Context, entityType string, kind OpKind, run func() ([]RowResult, error), size int) error {
	if size == 0 {
		return nil
	}
	c.hooks.beforeBatch(entityType, kind, size)
	results, err := run()
	c.hooks.afterBatch(entityType, kind, results, err)
	if err != nil {
		return err
	}
	for i, r := range results {
		if r.Success {
			continue
		}
		var id string
		if r.Record != nil {
			id = r.Record.ID()
		}
		return &RowError{
			EntityType: entityType,
			Kind:       kind,
			Index:      i,
			RecordID:   id,
			Message:    r.Message,
		}
	}
	c.log.Debug("batch executed",
		zap.String("entity_type", entityType),
		zap.String("kind", kind.String()),
		zap.Int("size", size))
	return nil
}

// runWork performs custom work units and then flushes the auxiliary
// message queue. Failures here are recorded and fail the commit but do
// not roll back DML already applied by the storage layer: there is
// nothing left to roll back without a compensating transaction, which
// this engine does not provide.
func (c *Coordinator) runWork(ctx context.Context, res *CommitResult) {
	c.hooks.beforeWork()
	for i, unit := range c.effects.work {
		if err := unit.Perform(ctx); err != nil {
			werr := &CustomWorkError{Index: i, Cause: err}
			res.fail(werr)
			c.log.Error("work unit failed", zap.Int("index", i), zap.Error(err))
			c.hooks.afterWork(werr)
			return
		}
	}
	c.hooks.afterWork(nil)

	c.hooks.beforeMessageFlush()
	err := c.flushMessages(ctx)
	if err != nil {
		res.fail(err)
		c.log.Error("message flush failed", zap.Error(err))
	}
	c.hooks.afterMessageFlush(err)
}

func (c *Coordinator) flushMessages(ctx context.Context) error {
	if len(c.effects.messages) == 0 {
		return nil
	}
	if c.messages == nil {
		return newConfigurationError("messages are staged but no message transport is configured")
	}
	for _, msg := range c.effects.messages {
		if err := c.messages.Send(ctx, msg); err != nil {
			return &DispatchError{Phase: "message_flush", Cause: err}
		}
	}
	return nil
}

// finish runs the terminal stretch of the protocol: the finishing
// hook, the outcome-matched terminal events and the finished hook.
// Terminal dispatch failures are reported but never flip the outcome.
func (c *Coordinator) finish(ctx context.Context, res *CommitResult) {
	c.hooks.commitFinishing()

	phase := PhaseAfterSuccess
	if !res.Successful {
		phase = PhaseAfterFailure
	}
	c.hooks.beforeEventDispatch(phase)
	err := c.dispatchEvents(ctx, phase)
	if err != nil {
		res.report(err)
		c.log.Error("terminal event dispatch failed",
			zap.String("phase", phase.String()), zap.Error(err))
	}
	c.hooks.afterEventDispatch(phase, err)

	c.hooks.commitFinished(res.Successful)
	c.log.Info("commit finished", zap.Bool("successful", res.Successful))
}
