package di

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goliatone/go-entity-manager/mapping"
	"github.com/goliatone/go-entity-manager/pkg/testsupport"
	"github.com/goliatone/go-entity-manager/storage/bunstore"
)

func newTestContainer(t *testing.T, opts ...Option) *Container {
	t.Helper()
	ctx := context.Background()

	container, err := NewContainerWithDefaults(ctx, opts...)
	if err != nil {
		t.Fatalf("NewContainerWithDefaults() failed: %v", err)
	}
	t.Cleanup(func() { _ = container.Close() })

	if err := applySchema(ctx, container.Storage(), testsupport.Schema); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return container
}

func TestNewContainer(t *testing.T) {
	config := bunstore.Config{
		Driver:       "sqlite",
		DSN:          ":memory:",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogQueries:   true,
	}

	container, err := NewContainer(context.Background(), config)
	if err != nil {
		t.Fatalf("NewContainer() failed: %v", err)
	}
	defer container.Close()

	if container.Storage() == nil || container.Builder() == nil {
		t.Fatal("Container should have storage and builder")
	}
	if container.Registry() == nil || container.Logger() == nil || container.Metrics() == nil {
		t.Fatal("Container should have registry, logger and metrics")
	}

	stored := container.Config()
	if stored.DSN != config.DSN || stored.Driver != config.Driver {
		t.Errorf("Expected config %+v, got %+v", config, stored)
	}
}

func TestNewContainerWithDefaults(t *testing.T) {
	container := newTestContainer(t)

	config := container.Config()
	defaults := bunstore.DefaultConfig()
	if config != defaults {
		t.Errorf("Expected default config %+v, got %+v", defaults, config)
	}
}

func TestNewContainer_InvalidConfig(t *testing.T) {
	invalid := bunstore.Config{Driver: "oracle", DSN: "x"}

	_, err := NewContainer(context.Background(), invalid)
	if err == nil {
		t.Fatal("NewContainer() should fail with invalid config")
	}
	var cfgErr *bunstore.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "Driver" {
		t.Errorf("Expected a Driver config error, got %v", err)
	}
}

func TestContainerSharedCollaborators(t *testing.T) {
	container := newTestContainer(t)

	first, err := container.NewEntityManager()
	if err != nil {
		t.Fatalf("NewEntityManager() failed: %v", err)
	}
	second, err := container.NewEntityManager()
	if err != nil {
		t.Fatalf("NewEntityManager() failed: %v", err)
	}

	if first.Registry() != container.Registry() || second.Registry() != container.Registry() {
		t.Error("Sessions should share the container registry")
	}
	if first.Session() == second.Session() {
		t.Error("Sessions should have distinct ids")
	}
	if first.UnitOfWork() == second.UnitOfWork() {
		t.Error("Sessions must not share their unit of work")
	}
}

func TestContainerOptions(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	reg := prometheus.NewRegistry()
	provider := mapping.NewStaticProvider()
	container := newTestContainer(t, WithLogger(zap.New(core)), WithRegisterer(reg), WithProvider(provider))

	// the static provider knows no type, tag mapping must not be used
	if _, err := container.Registry().Metadata(reflect.TypeOf(testsupport.Customer{})); err == nil {
		t.Error("Expected registry to use the configured provider")
	}
	if logs.FilterMessage("database opened").Len() != 1 {
		t.Error("Expected the container logger to be used by the storage")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() failed: %v", err)
	}
	// vectors without observations are not gathered; the plain counter is
	found := false
	for _, f := range families {
		if f.GetName() == "entity_manager_flush_failures_total" {
			found = true
		}
	}
	if !found {
		t.Error("Expected metrics to be registered with the configured registerer")
	}
}

func TestNewRepository(t *testing.T) {
	container := newTestContainer(t)
	ctx := context.Background()

	repo, err := NewRepository[testsupport.Customer](container)
	if err != nil {
		t.Fatalf("NewRepository() failed: %v", err)
	}
	customer := &testsupport.Customer{Name: "Alice"}
	if err := repo.Persist(customer); err != nil {
		t.Fatal(err)
	}
	if err := repo.EntityManager().Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	other, err := NewRepository[testsupport.Customer](container)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := other.Find(ctx, customer.ID)
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if loaded == customer || !reflect.DeepEqual(*loaded, *customer) {
		t.Errorf("Expected an equal copy from a new session, got %+v", loaded)
	}

	if _, err := NewRepository[testsupport.Unmapped](container); err == nil {
		t.Error("Expected NewRepository() to fail for an unmapped type")
	}
}
