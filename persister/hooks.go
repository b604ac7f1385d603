package persister

import (
	"context"
	"errors"
)

// Hook names a lifecycle point at which entities may run custom logic.
type Hook string

const (
	// BeforeInsert runs inside the flush transaction before the INSERT.
	BeforeInsert Hook = "before:insert"
	// BeforeUpdate runs inside the flush transaction before the UPDATE. Changes
	// made by the hook are written by the same statement.
	BeforeUpdate Hook = "before:update"
	// BeforeDelete runs inside the flush transaction before the DELETE.
	BeforeDelete Hook = "before:delete"

	// AfterInsert runs once the flush committed.
	AfterInsert Hook = "after:insert"
	// AfterUpdate runs once the flush committed.
	AfterUpdate Hook = "after:update"
	// AfterDelete runs once the flush committed.
	AfterDelete Hook = "after:delete"
	// AfterLoad runs after an entity was hydrated from storage.
	AfterLoad Hook = "after:load"
)

// BeforeInsertHook is implemented by entities that run logic before insertion.
// An error aborts and rolls back the flush.
type BeforeInsertHook interface {
	BeforeInsert(ctx context.Context) error
}

// BeforeUpdateHook is implemented by entities that run logic before an update.
type BeforeUpdateHook interface {
	BeforeUpdate(ctx context.Context) error
}

// BeforeDeleteHook is implemented by entities that run logic before deletion.
type BeforeDeleteHook interface {
	BeforeDelete(ctx context.Context) error
}

// AfterInsertHook is implemented by entities notified after a committed insertion.
type AfterInsertHook interface {
	AfterInsert(ctx context.Context) error
}

// AfterUpdateHook is implemented by entities notified after a committed update.
type AfterUpdateHook interface {
	AfterUpdate(ctx context.Context) error
}

// AfterDeleteHook is implemented by entities notified after a committed deletion.
type AfterDeleteHook interface {
	AfterDelete(ctx context.Context) error
}

// AfterLoadHook is implemented by entities notified after hydration.
type AfterLoadHook interface {
	AfterLoad(ctx context.Context) error
}

// Run invokes hook on entity if it implements the matching interface.
func Run(ctx context.Context, hook Hook, entity any) error {
	switch hook {
	case BeforeInsert:
		if h, ok := entity.(BeforeInsertHook); ok {
			return h.BeforeInsert(ctx)
		}
	case BeforeUpdate:
		if h, ok := entity.(BeforeUpdateHook); ok {
			return h.BeforeUpdate(ctx)
		}
	case BeforeDelete:
		if h, ok := entity.(BeforeDeleteHook); ok {
			return h.BeforeDelete(ctx)
		}
	case AfterInsert:
		if h, ok := entity.(AfterInsertHook); ok {
			return h.AfterInsert(ctx)
		}
	case AfterUpdate:
		if h, ok := entity.(AfterUpdateHook); ok {
			return h.AfterUpdate(ctx)
		}
	case AfterDelete:
		if h, ok := entity.(AfterDeleteHook); ok {
			return h.AfterDelete(ctx)
		}
	case AfterLoad:
		if h, ok := entity.(AfterLoadHook); ok {
			return h.AfterLoad(ctx)
		}
	}
	return nil
}

// RunAfterCommit runs the after hooks of every entity written by a committed
// flush, in insert, update, delete order. All hooks run; their errors are joined.
func RunAfterCommit(ctx context.Context, journal *Journal) error {
	var errs []error
	for _, e := range journal.Inserted() {
		if err := Run(ctx, AfterInsert, e); err != nil {
			errs = append(errs, err)
		}
	}
	for _, e := range journal.Updated() {
		if err := Run(ctx, AfterUpdate, e); err != nil {
			errs = append(errs, err)
		}
	}
	for _, e := range journal.Deleted() {
		if err := Run(ctx, AfterDelete, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
