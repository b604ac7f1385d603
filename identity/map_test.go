package identity

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/goliatone/go-entity-manager/ormerr"
	"github.com/goliatone/go-entity-manager/pkg/testsupport"
)

var customerType = reflect.TypeOf(testsupport.Customer{})

func TestNormalizeID(t *testing.T) {
	id := uuid.MustParse("6f1c2f38-5b6a-4d8a-9d3e-0f8d2a3b4c5d")
	n := int32(8)

	tests := []struct {
		name    string
		in      any
		want    any
		wantErr bool
	}{
		{name: "int", in: 42, want: int64(42)},
		{name: "int64", in: int64(42), want: int64(42)},
		{name: "uint", in: uint(42), want: int64(42)},
		{name: "pointer", in: &n, want: int64(8)},
		{name: "float32", in: float32(1.5), want: 1.5},
		{name: "bytes", in: []byte("abc"), want: "abc"},
		{name: "string", in: "abc", want: "abc"},
		{name: "uuid", in: id, want: id.String()},
		{name: "nil", in: nil, wantErr: true},
		{name: "zero int", in: 0, wantErr: true},
		{name: "empty string", in: "", wantErr: true},
		{name: "nil uuid", in: uuid.Nil, wantErr: true},
		{name: "slice", in: []int{1}, wantErr: true},
		{name: "map", in: map[string]int{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeID(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeID(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestMap_PutGet(t *testing.T) {
	m := New()
	alice := &testsupport.Customer{ID: 1, Name: "Alice"}

	if err := m.Put(customerType, int64(1), alice); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// int and int64 keys resolve to the same identity
	got, ok := m.Get(customerType, 1)
	if !ok || got != alice {
		t.Fatalf("Get returned %v, %v", got, ok)
	}
	got, ok = m.Get(reflect.TypeOf(&testsupport.Customer{}), uint8(1))
	if !ok || got != alice {
		t.Fatalf("Get with pointer type returned %v, %v", got, ok)
	}

	if _, ok := m.Get(reflect.TypeOf(testsupport.Order{}), 1); ok {
		t.Error("identities must be scoped by type")
	}

	key, ok := m.KeyOf(alice)
	if !ok || key.String() != "Customer#1" {
		t.Errorf("KeyOf = %v, %v", key, ok)
	}
}

func TestMap_PutSameInstanceIsIdempotent(t *testing.T) {
	m := New()
	alice := &testsupport.Customer{ID: 1}

	for i := 0; i < 3; i++ {
		if err := m.Put(customerType, 1, alice); err != nil {
			t.Fatalf("Put #%d: %v", i, err)
		}
	}
	if m.Len() != 1 {
		t.Errorf("expected one entry, got %d", m.Len())
	}
}

func TestMap_PutCollision(t *testing.T) {
	m := New()
	if err := m.Put(customerType, 1, &testsupport.Customer{ID: 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	err := m.Put(customerType, int64(1), &testsupport.Customer{ID: 1})
	var identityErr *ormerr.IdentityError
	if !errors.As(err, &identityErr) {
		t.Fatalf("expected *ormerr.IdentityError, got %v", err)
	}
	if identityErr.Entity != "Customer" || identityErr.Identity != "1" {
		t.Errorf("unexpected error details %+v", identityErr.Details)
	}
}

func TestMap_PutRequiresIdentity(t *testing.T) {
	m := New()
	for _, id := range []any{nil, 0, ""} {
		if err := m.Put(customerType, id, &testsupport.Customer{}); !ormerr.IsIdentity(err) {
			t.Errorf("Put(%v) expected identity error, got %v", id, err)
		}
	}
}

func TestMap_PutMovesReassignedInstance(t *testing.T) {
	m := New()
	c := &testsupport.Customer{ID: 1}
	_ = m.Put(customerType, 1, c)
	if err := m.Put(customerType, 2, c); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := m.Get(customerType, 1); ok {
		t.Error("old identity should be released")
	}
	if got, _ := m.Get(customerType, 2); got != c {
		t.Error("instance should be registered under its new identity")
	}
}

func TestMap_RemoveAndClear(t *testing.T) {
	m := New()
	a := &testsupport.Customer{ID: 1}
	b := &testsupport.Customer{ID: 2}
	o := &testsupport.Order{ID: 1}
	_ = m.Put(customerType, 1, a)
	_ = m.Put(customerType, 2, b)
	_ = m.Put(reflect.TypeOf(testsupport.Order{}), 1, o)

	m.Remove(customerType, 1)
	if m.Contains(a) {
		t.Error("a should be removed")
	}
	m.Remove(customerType, 99) // unknown identities are ignored

	m.RemoveEntity(o)
	if _, ok := m.Get(reflect.TypeOf(testsupport.Order{}), 1); ok {
		t.Error("order should be removed")
	}

	_ = m.Put(reflect.TypeOf(testsupport.Order{}), 1, o)
	m.Clear(customerType)
	if m.Contains(b) || !m.Contains(o) {
		t.Error("Clear should only drop the given type")
	}

	m.ClearAll()
	if m.Len() != 0 {
		t.Errorf("expected empty map, got %d", m.Len())
	}
}
