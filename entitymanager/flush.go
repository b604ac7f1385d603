package entitymanager

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goliatone/go-entity-manager/ormerr"
	"github.com/goliatone/go-entity-manager/persister"
	"github.com/goliatone/go-entity-manager/storage"
)

// Flush writes every pending change in one transaction: insertions in
// dependency order, then updates of managed entities whose values changed,
// then deletions.
//
// Flush is all or nothing. When any statement or hook fails the transaction
// is rolled back, every in-memory effect of the flush is undone and the error
// names the failing entity. Nothing scheduled is forgotten, so calling Flush
// again retries the same work.
//
// After-commit hooks run once the transaction committed; their errors are
// returned but do not undo the flush.
func (em *EntityManager) Flush(ctx context.Context) error {
	start := em.now()
	log := em.logger.With(zap.String("flush", uuid.NewString()))

	if err := em.prepare(); err != nil {
		em.metrics.observeFlush("failed", em.now().Sub(start))
		return err
	}
	if !em.uow.HasWork() {
		log.Debug("flush skipped, nothing to write")
		return nil
	}

	inserts, err := em.uow.OrderedInsertions()
	if err != nil {
		em.metrics.observeFlush("failed", em.now().Sub(start))
		return err
	}
	updates := em.uow.ScheduledUpdates()
	deletes, err := em.orderedDeletions()
	if err != nil {
		em.metrics.observeFlush("failed", em.now().Sub(start))
		return err
	}

	tx, err := em.storage.Begin(ctx)
	if err != nil {
		em.metrics.observeFlush("failed", em.now().Sub(start))
		return ormerr.NewTransaction("begin", "", "", err)
	}

	journal := persister.NewJournal()
	if err := em.write(ctx, tx, inserts, updates, deletes, journal); err != nil {
		err = em.rollback(tx, journal, err)
		em.metrics.observeFlush("failed", em.now().Sub(start))
		log.Warn("flush rolled back", zap.Error(err))
		return err
	}
	if err := tx.Commit(); err != nil {
		journal.Undo()
		em.metrics.observeFlush("failed", em.now().Sub(start))
		log.Warn("flush commit failed", zap.Error(err))
		return ormerr.NewTransaction("commit", "", "", err)
	}

	em.finalize(journal)
	elapsed := em.now().Sub(start)
	em.metrics.observeFlush("committed", elapsed)
	em.metrics.addStatements(len(journal.Inserted()), len(journal.Updated()), len(journal.Deleted()))
	log.Debug("flush committed",
		zap.Int("inserted", len(journal.Inserted())),
		zap.Int("updated", len(journal.Updated())),
		zap.Int("deleted", len(journal.Deleted())),
		zap.Duration("duration", elapsed),
	)

	if err := persister.RunAfterCommit(ctx, journal); err != nil {
		return fmt.Errorf("flush committed, after commit hooks failed: %w", err)
	}
	return nil
}

// prepare re-applies cascades, promotes dirty managed entities into updates
// and records insertion dependencies.
func (em *EntityManager) prepare() error {
	visited := make(map[any]struct{})
	// cascades must not resurrect entities removed in this session
	for _, e := range em.uow.ScheduledDeletes() {
		visited[e] = struct{}{}
	}
	for _, e := range em.uow.ScheduledInsertions() {
		if err := em.persist(e, visited); err != nil {
			return err
		}
	}
	for _, e := range em.uow.Managed() {
		if err := em.persist(e, visited); err != nil {
			return err
		}
	}

	for _, e := range em.uow.Managed() {
		changed, err := em.tracker.HasChanges(e)
		if err != nil {
			return err
		}
		if changed {
			if err := em.uow.ScheduleUpdate(e); err != nil {
				return err
			}
		}
	}
	return em.recordDependencies()
}

func (em *EntityManager) write(ctx context.Context, exec storage.Executor, inserts, updates, deletes []any, journal *persister.Journal) error {
	env := em.env()
	if err := persister.NewInsertionProcessor(env).Process(ctx, exec, inserts, journal); err != nil {
		return err
	}
	if err := persister.NewUpdateProcessor(env).Process(ctx, exec, updates, journal); err != nil {
		return err
	}
	return persister.NewDeletionProcessor(env).Process(ctx, exec, deletes, journal)
}

func (em *EntityManager) rollback(tx storage.Tx, journal *persister.Journal, cause error) error {
	journal.Undo()
	if err := tx.Rollback(); err != nil {
		return errors.Join(cause, ormerr.NewTransaction("rollback", "", "", err))
	}
	return cause
}

// finalize applies the state transitions of a committed flush.
func (em *EntityManager) finalize(journal *persister.Journal) {
	for _, e := range journal.Inserted() {
		em.uow.MarkPersisted(e)
	}
	for _, e := range journal.Deleted() {
		em.uow.Detach(e)
	}
	em.uow.ClearSchedules()
}
