// Package entitymanager is the session facade of the module: it tracks
// loaded and new entities and writes their changes in a single transaction.
//
// # Overview
//
// An EntityManager combines the identity map, the change tracker and the unit
// of work of one session. Entities enter the session through Find and FindBy
// (loaded, MANAGED) or Persist (NEW). Nothing touches storage until Flush:
//
//	em, err := entitymanager.New(store, entitymanager.WithBuilder(builder))
//
//	customer := &Customer{Name: "Alice"}
//	order := &Order{Reference: "A-1", Customer: customer}
//	_ = em.Persist(customer)
//	_ = em.Persist(order)
//
//	// inserts customer, then order with the generated customer id
//	err = em.Flush(ctx)
//
// # Change detection
//
// Managed entities are compared with the snapshot taken when they were loaded
// or last written. Only changed columns are updated and unchanged entities
// never produce a statement, so mutating a loaded entity and calling Flush is
// all that is needed to save it.
//
// # Failure
//
// Flush either commits everything or nothing. On failure the transaction is
// rolled back, generated keys and snapshots are restored, and the returned
// error carries the type and identity of the failing entity (see package
// ormerr). Schedules are kept so Flush can be retried.
//
// # Sessions
//
// A session is meant to live for one request or job and is not safe for
// concurrent use. Attach it to a context with WithEntityManager and retrieve
// it with FromContext. Metadata is shared by every session through the
// mapping registry.
package entitymanager
