package entitymanager

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goliatone/go-entity-manager/mapping"
	"github.com/goliatone/go-entity-manager/ormerr"
	"github.com/goliatone/go-entity-manager/pkg/testsupport"
	"github.com/goliatone/go-entity-manager/storage"
	"github.com/goliatone/go-entity-manager/tracking"
	"github.com/goliatone/go-entity-manager/unitofwork"
)

var customerType = reflect.TypeOf(testsupport.Customer{})

func newTestManager(t *testing.T, opts ...Option) (*EntityManager, *testsupport.MemoryStore) {
	t.Helper()
	store := testsupport.NewMemoryStore()
	opts = append([]Option{WithRegistry(mapping.NewRegistry(nil))}, opts...)
	em, err := New(store, opts...)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return em, store
}

func seedCustomers(t *testing.T, store *testsupport.MemoryStore) {
	t.Helper()
	testsupport.SeedFixture(t, store, testsupport.FixturePath("customers.yaml"))
}

func TestNew_RequiresBuilder(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatalf("expected error for nil storage")
	}
	if _, err := New(storageOnly{}); err == nil {
		t.Fatalf("expected error when no builder is available")
	}
	store := testsupport.NewMemoryStore()
	if _, err := New(storageOnly{}, WithBuilder(store)); err != nil {
		t.Fatalf("expected explicit builder to be accepted, got %v", err)
	}
}

type storageOnly struct{ storage.Storage }

func TestFind_ReturnsSameInstance(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	seedCustomers(t, store)

	first, err := em.Find(ctx, customerType, 1)
	if err != nil {
		t.Fatalf("Find returned error: %v", err)
	}
	second, err := em.Find(ctx, customerType, int64(1))
	if err != nil {
		t.Fatalf("Find returned error: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same instance for the same identity")
	}
	if n := store.Count("select"); n != 1 {
		t.Fatalf("expected one select, got %d", n)
	}
	c := first.(*testsupport.Customer)
	if c.Name != "Alice" || c.Email != "alice@example.com" {
		t.Fatalf("unexpected hydrated customer %+v", c)
	}
	if em.State(c) != unitofwork.StateManaged {
		t.Fatalf("expected loaded entity to be managed, got %s", em.State(c))
	}
}

func TestFind_Errors(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	seedCustomers(t, store)

	if _, err := em.Find(ctx, customerType, 99); !errors.Is(err, ormerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := em.Find(ctx, customerType, 0); !ormerr.IsIdentity(err) {
		t.Fatalf("expected IdentityError for a zero id, got %v", err)
	}
	if _, err := em.Find(ctx, reflect.TypeOf(testsupport.Unmapped{}), 1); !ormerr.IsMapping(err) {
		t.Fatalf("expected MappingError, got %v", err)
	}

	store.FailOn = func(testsupport.Request) error { return errors.New("connection reset") }
	if _, err := em.Find(ctx, customerType, 2); !ormerr.IsTransaction(err) {
		t.Fatalf("expected TransactionError, got %v", err)
	}
}

func TestFind_ResolvesOwningRelations(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	seedCustomers(t, store)
	store.Seed("orders", storage.Row{"id": int64(10), "reference": "A-10", "total": 12.5, "customer_id": int64(2)})

	order, err := Find[testsupport.Order](ctx, em, 10)
	if err != nil {
		t.Fatalf("Find returned error: %v", err)
	}
	if order.Customer == nil || order.Customer.Name != "Bob" || order.CustomerID != 2 {
		t.Fatalf("expected customer Bob to be loaded, got %+v", order)
	}

	customer, err := Find[testsupport.Customer](ctx, em, 2)
	if err != nil {
		t.Fatal(err)
	}
	if customer != order.Customer {
		t.Fatalf("expected the related customer to be the identity mapped instance")
	}
	if changed, _ := em.Tracker().HasChanges(order); changed {
		t.Fatalf("freshly loaded order must have no changes")
	}
}

func TestFlush_InsertsDependencyFirst(t *testing.T) {
	em, store := newTestManager(t)
	customer := &testsupport.Customer{Name: "Alice"}
	order := &testsupport.Order{Reference: "A-1", Customer: customer}

	// scheduled in reverse dependency order on purpose
	if err := em.Persist(order); err != nil {
		t.Fatal(err)
	}
	if err := em.Persist(customer); err != nil {
		t.Fatal(err)
	}

	if err := em.prepare(); err != nil {
		t.Fatal(err)
	}
	ordered, err := em.UnitOfWork().OrderedInsertions()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ordered, []any{customer, order}) {
		t.Fatalf("expected [customer order], got %v", ordered)
	}

	if err := em.Flush(context.Background()); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	writes := store.Writes()
	if len(writes) != 2 || writes[0].Table != "customers" || writes[1].Table != "orders" {
		t.Fatalf("unexpected writes %+v", writes)
	}
	if v, _ := writes[1].Value("customer_id"); v != customer.ID {
		t.Fatalf("expected order.customer_id %d, got %#v", customer.ID, v)
	}
	if em.State(customer) != unitofwork.StateManaged || em.State(order) != unitofwork.StateManaged {
		t.Fatalf("expected inserted entities to be managed")
	}
	if em.UnitOfWork().HasWork() {
		t.Fatalf("expected schedules to be cleared after commit")
	}
}

func TestFlush_SuppressesNoOpUpdates(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	seedCustomers(t, store)

	c, err := Find[testsupport.Customer](ctx, em, 1)
	if err != nil {
		t.Fatal(err)
	}
	c.Name = "Alice"

	changes, err := em.Tracker().ComputeChanges(c)
	if err != nil {
		t.Fatal(err)
	}
	if !changes.Empty() {
		t.Fatalf("expected no changes, got %v", changes)
	}
	if err := em.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if n := store.Count("update"); n != 0 {
		t.Fatalf("expected no update, got %d", n)
	}
	if begins, _, _ := store.Transactions(); begins != 0 {
		t.Fatalf("expected no transaction for an empty flush, got %d", begins)
	}
}

func TestFlush_ChangeRoundTrip(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	seedCustomers(t, store)

	c, err := Find[testsupport.Customer](ctx, em, 1)
	if err != nil {
		t.Fatal(err)
	}
	c.Name = "Alicia"

	changes, err := em.Tracker().ComputeChanges(c)
	if err != nil {
		t.Fatal(err)
	}
	want := tracking.ChangeSet{"Name": {Old: "Alice", New: "Alicia"}}
	if !reflect.DeepEqual(changes, want) {
		t.Fatalf("expected %v, got %v", want, changes)
	}

	if err := em.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if changes, _ := em.Tracker().ComputeChanges(c); !changes.Empty() {
		t.Fatalf("expected no changes after flush, got %v", changes)
	}
	writes := store.Writes()
	if len(writes) != 1 || !reflect.DeepEqual(writes[0].Columns, []string{"name"}) {
		t.Fatalf("expected a single name update, got %+v", writes)
	}
	if rows := store.Rows("customers"); rows[0]["name"] != "Alicia" {
		t.Fatalf("expected stored name Alicia, got %v", rows[0]["name"])
	}
}

func TestPersistThenRemove_CancelsInsertion(t *testing.T) {
	em, store := newTestManager(t)
	c := &testsupport.Customer{Name: "Alice"}

	if err := em.Persist(c); err != nil {
		t.Fatal(err)
	}
	if err := em.Remove(c); err != nil {
		t.Fatal(err)
	}
	if err := em.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(store.Writes()) != 0 {
		t.Fatalf("expected zero writes, got %+v", store.Writes())
	}
	if em.State(c) != unitofwork.StateDetached || em.Contains(c) {
		t.Fatalf("expected cancelled entity to be detached")
	}
}

func TestRemove_Errors(t *testing.T) {
	em, _ := newTestManager(t)

	err := em.Remove(&testsupport.Customer{Name: "nobody"})
	if !ormerr.IsConstraint(err) {
		t.Fatalf("expected ConstraintError for a transient entity, got %v", err)
	}
	if entity, id, _ := ormerr.EntityOf(err); entity != "Customer" || id != ormerr.Transient {
		t.Fatalf("expected Customer/transient, got %s/%s", entity, id)
	}

	if err := em.Remove(&testsupport.Customer{ID: 5}); !ormerr.IsIdentity(err) {
		t.Fatalf("expected IdentityError for a detached entity, got %v", err)
	}
	if err := em.Remove(&testsupport.Unmapped{}); !ormerr.IsMapping(err) {
		t.Fatalf("expected MappingError, got %v", err)
	}
}

func TestPersist_Errors(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	store.Seed("countries", storage.Row{"code": "NZ", "name": "New Zealand"})

	if err := em.Persist(&testsupport.Customer{ID: 5, Name: "detached"}); !ormerr.IsIdentity(err) {
		t.Fatalf("expected IdentityError for a detached entity, got %v", err)
	}
	if err := em.Persist(&testsupport.Unmapped{}); !ormerr.IsMapping(err) {
		t.Fatalf("expected MappingError, got %v", err)
	}

	if _, err := em.Find(ctx, reflect.TypeOf(testsupport.Country{}), "NZ"); err != nil {
		t.Fatal(err)
	}
	if err := em.Persist(&testsupport.Country{Code: "NZ", Name: "copy"}); !ormerr.IsIdentity(err) {
		t.Fatalf("expected IdentityError for a duplicate identity, got %v", err)
	}
	if err := em.Persist(&testsupport.Country{Code: "AU", Name: "Australia"}); err != nil {
		t.Fatalf("expected assigned key entity to be accepted, got %v", err)
	}
}

func TestFlush_RemoveDeletes(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	seedCustomers(t, store)

	c, err := Find[testsupport.Customer](ctx, em, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := em.Remove(c); err != nil {
		t.Fatal(err)
	}
	if em.State(c) != unitofwork.StateRemoved {
		t.Fatalf("expected removed state, got %s", em.State(c))
	}
	if err := em.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if n := store.Count("delete"); n != 1 {
		t.Fatalf("expected one delete, got %d", n)
	}
	if em.State(c) != unitofwork.StateDetached {
		t.Fatalf("expected deleted entity to be detached, got %s", em.State(c))
	}
	if _, err := em.Find(ctx, customerType, 1); !errors.Is(err, ormerr.ErrNotFound) {
		t.Fatalf("expected deleted row to be gone, got %v", err)
	}
}

func TestPersist_CancelsPendingRemoval(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	seedCustomers(t, store)

	c, _ := Find[testsupport.Customer](ctx, em, 1)
	if err := em.Remove(c); err != nil {
		t.Fatal(err)
	}
	if err := em.Persist(c); err != nil {
		t.Fatal(err)
	}
	if em.State(c) != unitofwork.StateManaged {
		t.Fatalf("expected managed state, got %s", em.State(c))
	}
	if err := em.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if n := store.Count("delete"); n != 0 {
		t.Fatalf("expected no delete, got %d", n)
	}
}

func TestFlush_RollbackRestoresSession(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	customer := &testsupport.Customer{Name: "Alice"}
	order := &testsupport.Order{Reference: "A-1", Customer: customer}
	_ = em.Persist(customer)
	_ = em.Persist(order)

	store.FailOn = func(r testsupport.Request) error {
		if r.Table == "orders" {
			return errors.New("foreign key violation")
		}
		return nil
	}
	err := em.Flush(ctx)
	if !ormerr.IsTransaction(err) {
		t.Fatalf("expected TransactionError, got %v", err)
	}
	if entity, id, _ := ormerr.EntityOf(err); entity != "Order" || id != ormerr.Transient {
		t.Fatalf("expected Order/transient, got %s/%s", entity, id)
	}
	if customer.ID != 0 || order.CustomerID != 0 {
		t.Fatalf("expected generated keys to be reverted, got %d/%d", customer.ID, order.CustomerID)
	}
	if em.State(customer) != unitofwork.StateNew || em.State(order) != unitofwork.StateNew {
		t.Fatalf("expected both entities still pending insertion")
	}
	if _, commits, rollbacks := store.Transactions(); commits != 0 || rollbacks != 1 {
		t.Fatalf("expected one rollback, got commits=%d rollbacks=%d", commits, rollbacks)
	}
	if len(store.Rows("customers")) != 0 {
		t.Fatalf("expected rollback to discard the customer row")
	}

	store.FailOn = nil
	if err := em.Flush(ctx); err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if customer.ID != 1 || order.CustomerID != 1 {
		t.Fatalf("expected retry to write the same work, got customer=%d order.customer_id=%d", customer.ID, order.CustomerID)
	}
}

func TestFlush_BeginAndCommitFailures(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	c := &testsupport.Customer{Name: "Alice"}
	_ = em.Persist(c)

	store.FailBegin = errors.New("pool exhausted")
	if err := em.Flush(ctx); !ormerr.IsTransaction(err) {
		t.Fatalf("expected TransactionError on begin, got %v", err)
	}
	store.FailBegin = nil

	store.FailCommit = errors.New("disk I/O error")
	if err := em.Flush(ctx); !ormerr.IsTransaction(err) {
		t.Fatalf("expected TransactionError on commit, got %v", err)
	}
	if c.ID != 0 || em.State(c) != unitofwork.StateNew {
		t.Fatalf("expected failed commit to leave the entity pending, got id=%d state=%s", c.ID, em.State(c))
	}
	store.FailCommit = nil

	if err := em.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if c.ID == 0 || em.State(c) != unitofwork.StateManaged {
		t.Fatalf("expected entity to be managed after a successful retry")
	}
}

func TestFlush_DependencyCycle(t *testing.T) {
	em, store := newTestManager(t)
	a := &testsupport.Category{Name: "a"}
	b := &testsupport.Category{Name: "b", Parent: a}
	a.Parent = b
	_ = em.Persist(a)
	_ = em.Persist(b)

	if err := em.Flush(context.Background()); !ormerr.IsConstraint(err) {
		t.Fatalf("expected ConstraintError, got %v", err)
	}
	if begins, _, _ := store.Transactions(); begins != 0 {
		t.Fatalf("a cycle must be reported before any transaction")
	}

	self := &testsupport.Category{Name: "self"}
	self.Parent = self
	em.Clear()
	_ = em.Persist(self)
	if err := em.Flush(context.Background()); !ormerr.IsConstraint(err) {
		t.Fatalf("expected ConstraintError for a self reference, got %v", err)
	}
}

func TestFlush_AssociationAssignedAfterInsert(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	order := &testsupport.Order{Reference: "A-1"}
	_ = em.Persist(order)
	if err := em.Flush(ctx); err != nil {
		t.Fatal(err)
	}

	order.Customer = &testsupport.Customer{Name: "Bob"}
	if err := em.Flush(ctx); !ormerr.IsConstraint(err) {
		t.Fatalf("expected ConstraintError for an unpersisted association, got %v", err)
	}

	store.ResetRequests()
	if err := em.Persist(order.Customer); err != nil {
		t.Fatal(err)
	}
	if err := em.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	writes := store.Writes()
	if len(writes) != 2 || writes[0].Op != "insert" || writes[1].Op != "update" {
		t.Fatalf("expected insert then update, got %+v", writes)
	}
	if v, _ := writes[1].Value("customer_id"); v != int64(1) {
		t.Fatalf("expected customer_id 1, got %#v", v)
	}
}

func TestCascade_PersistAndRemove(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	order := &testsupport.Order{
		Reference: "A-1",
		Lines: []*testsupport.OrderLine{
			{SKU: "sku-1", Quantity: 1},
			{SKU: "sku-2", Quantity: 2},
		},
	}
	if err := em.Persist(order); err != nil {
		t.Fatal(err)
	}
	for _, line := range order.Lines {
		if line.Order != order || em.State(line) != unitofwork.StateNew {
			t.Fatalf("expected cascaded line linked to its order and pending insertion")
		}
	}
	if err := em.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	writes := store.Writes()
	if len(writes) != 3 || writes[0].Table != "orders" {
		t.Fatalf("expected order then lines, got %+v", writes)
	}
	for _, w := range writes[1:] {
		if v, _ := w.Value("order_id"); v != order.ID {
			t.Fatalf("expected order_id %d, got %#v", order.ID, v)
		}
	}

	// lines added after Persist are picked up by the flush
	order.Lines = append(order.Lines, &testsupport.OrderLine{SKU: "sku-3", Quantity: 3})
	store.ResetRequests()
	if err := em.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if n := store.Count("insert"); n != 1 {
		t.Fatalf("expected the new line to be inserted, got %d inserts", n)
	}

	store.ResetRequests()
	if err := em.Remove(order); err != nil {
		t.Fatal(err)
	}
	if err := em.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	deletes := store.Writes()
	if len(deletes) != 4 || deletes[3].Table != "orders" {
		t.Fatalf("expected lines deleted before their order, got %+v", deletes)
	}
	if len(store.Rows("order_lines")) != 0 || len(store.Rows("orders")) != 0 {
		t.Fatalf("expected every row deleted")
	}
}

func TestFindBy_KeepsLoadedInstances(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	seedCustomers(t, store)

	alice, _ := Find[testsupport.Customer](ctx, em, 1)
	alice.Name = "Alicia"

	found, err := em.FindBy(ctx, customerType)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found[0] != alice {
		t.Fatalf("expected the loaded instance to be reused, got %v", found)
	}
	if alice.Name != "Alicia" {
		t.Fatalf("unflushed change must be kept, got %q", alice.Name)
	}
}

func TestRefresh_DiscardsChanges(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	seedCustomers(t, store)

	c, _ := Find[testsupport.Customer](ctx, em, 1)
	c.Name = "changed"
	if err := em.Refresh(ctx, c); err != nil {
		t.Fatal(err)
	}
	if c.Name != "Alice" {
		t.Fatalf("expected stored name, got %q", c.Name)
	}
	if changed, _ := em.Tracker().HasChanges(c); changed {
		t.Fatalf("expected no pending change after refresh")
	}
	if err := em.Refresh(ctx, &testsupport.Customer{ID: 2}); !ormerr.IsIdentity(err) {
		t.Fatalf("expected IdentityError for an unmanaged entity, got %v", err)
	}
}

func TestDetachAndClear(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	seedCustomers(t, store)

	first, _ := Find[testsupport.Customer](ctx, em, 1)
	em.Detach(first)
	if em.Contains(first) {
		t.Fatalf("expected detached entity to leave the session")
	}
	first.Name = "ignored"
	if err := em.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if store.Count("update") != 0 {
		t.Fatalf("changes of detached entities must not be written")
	}

	second, _ := Find[testsupport.Customer](ctx, em, 1)
	if second == first {
		t.Fatalf("expected a new instance after detach")
	}

	em.Clear()
	if em.Contains(second) || em.UnitOfWork().Len() != 0 || em.Tracker().Len() != 0 {
		t.Fatalf("expected clear to empty the session")
	}
}

func TestFlush_MetricsAndLogs(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.DebugLevel)
	metrics := NewMetrics(prometheus.NewRegistry())
	em, store := newTestManager(t, WithLogger(zap.New(core)), WithMetrics(metrics))

	_ = em.Persist(&testsupport.Customer{Name: "Alice"})
	_ = em.Persist(&testsupport.Customer{Name: "Bob"})
	if err := em.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(metrics.statements.WithLabelValues("insert")); got != 2 {
		t.Fatalf("expected 2 insert statements, got %v", got)
	}

	committed := logs.FilterMessage("flush committed").All()
	if len(committed) != 1 {
		t.Fatalf("expected one commit log entry, got %d", len(committed))
	}
	fields := committed[0].ContextMap()
	if fields["session"] != em.Session() || fields["inserted"] != int64(2) {
		t.Fatalf("unexpected log fields %v", fields)
	}

	store.FailOn = func(testsupport.Request) error { return errors.New("boom") }
	_ = em.Persist(&testsupport.Customer{Name: "Carol"})
	if err := em.Flush(ctx); err == nil {
		t.Fatalf("expected flush failure")
	}
	if got := testutil.ToFloat64(metrics.flushFailures); got != 1 {
		t.Fatalf("expected one failure, got %v", got)
	}
	if logs.FilterMessage("flush rolled back").Len() != 1 {
		t.Fatalf("expected a rollback warning")
	}
}

func TestContext(t *testing.T) {
	em, _ := newTestManager(t)
	ctx := WithEntityManager(context.Background(), em)
	got, ok := FromContext(ctx)
	if !ok || got != em {
		t.Fatalf("expected session from context")
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("expected no session in an empty context")
	}
}

func TestRepository(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	seedCustomers(t, store)

	if _, err := NewRepository[testsupport.Unmapped](em); !ormerr.IsMapping(err) {
		t.Fatalf("expected MappingError, got %v", err)
	}

	repo, err := NewRepository[testsupport.Customer](em)
	if err != nil {
		t.Fatal(err)
	}
	all, err := repo.FindBy(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("expected two customers, got %v (err %v)", all, err)
	}
	one, err := repo.Find(ctx, 2)
	if err != nil || one != all[1] {
		t.Fatalf("expected identity mapped customer, got %v (err %v)", one, err)
	}

	carol := &testsupport.Customer{Name: "Carol"}
	if err := repo.Persist(carol); err != nil {
		t.Fatal(err)
	}
	if err := repo.EntityManager().Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if carol.ID != 3 {
		t.Fatalf("expected generated id 3, got %d", carol.ID)
	}
	if err := repo.Remove(carol); err != nil {
		t.Fatal(err)
	}

	empty, _ := NewRepository[testsupport.Country](em)
	if _, err := empty.FindOne(ctx); !errors.Is(err, ormerr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFlush_StatementLog(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	seedCustomers(t, store)

	alice, err := em.Find(ctx, customerType, 1)
	if err != nil {
		t.Fatal(err)
	}
	alice.(*testsupport.Customer).Name = "Alicia"

	bob, err := em.Find(ctx, customerType, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := em.Remove(bob); err != nil {
		t.Fatal(err)
	}
	if err := em.Persist(&testsupport.Customer{Name: "Dora", Email: "dora@example.com"}); err != nil {
		t.Fatal(err)
	}

	if err := em.Flush(ctx); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}

	testsupport.CompareWithGolden(t, testsupport.GoldenPath("flush_statements.txt"), testsupport.FormatRequests(store.Writes()))
	testsupport.CompareWithGolden(t, testsupport.GoldenPath("flush_tables.txt"), testsupport.FormatTables(store, "customers"))
}

type loadChecked struct {
	bun.BaseModel `bun:"table:load_checked"`

	ID   int64  `bun:"id,pk,autoincrement"`
	Name string `bun:"name"`
}

func (l *loadChecked) AfterLoad(ctx context.Context) error {
	if l.Name == "broken" {
		return errors.New("invalid name")
	}
	return nil
}

func TestFind_AfterLoadFailureLeavesNoState(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	store.Seed("load_checked",
		storage.Row{"id": int64(1), "name": "broken"},
		storage.Row{"id": int64(2), "name": "fine"},
	)

	_, err := Find[loadChecked](ctx, em, 1)
	if !ormerr.IsTransaction(err) {
		t.Fatalf("expected TransactionError, got %v", err)
	}
	if n := em.UnitOfWork().Len(); n != 0 {
		t.Fatalf("expected no managed entities after a failed load, got %d", n)
	}

	// nothing is left in the identity map, so the row is selected again
	if _, err := Find[loadChecked](ctx, em, 1); err == nil {
		t.Fatalf("expected the hook to fail again")
	}
	if n := store.Count("select"); n != 2 {
		t.Fatalf("expected two selects, got %d", n)
	}

	fine, err := Find[loadChecked](ctx, em, 2)
	if err != nil {
		t.Fatalf("Find returned error: %v", err)
	}
	if !em.Contains(fine) {
		t.Fatalf("expected the loaded entity to be managed")
	}
}

func TestRepository_RejectsPointerTypes(t *testing.T) {
	ctx := context.Background()
	em, store := newTestManager(t)
	seedCustomers(t, store)

	if _, err := NewRepository[*testsupport.Customer](em); !ormerr.IsMapping(err) {
		t.Fatalf("expected MappingError for a pointer type, got %v", err)
	}
	if _, err := Find[*testsupport.Customer](ctx, em, 1); !ormerr.IsMapping(err) {
		t.Fatalf("expected MappingError for a pointer type, got %v", err)
	}
	if n := store.Count("select"); n != 0 {
		t.Fatalf("expected no select, got %d", n)
	}
}
