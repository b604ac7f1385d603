package mapping

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

type assignTarget struct {
	Int     int
	Int64   int64
	Uint    uint32
	Float   float64
	Bool    bool
	String  string
	Bytes   []byte
	Time    time.Time
	UUID    uuid.UUID
	Pointer *string
}

func TestAssign(t *testing.T) {
	id := uuid.MustParse("6f1c2f38-5b6a-4d8a-9d3e-0f8d2a3b4c5d")
	name := "alice"

	tests := []struct {
		name  string
		field string
		src   any
		want  any
	}{
		{name: "int64 to int", field: "Int", src: int64(42), want: 42},
		{name: "text to int64", field: "Int64", src: []byte("17"), want: int64(17)},
		{name: "int64 to uint32", field: "Uint", src: int64(9), want: uint32(9)},
		{name: "string to float", field: "Float", src: "2.5", want: 2.5},
		{name: "int to bool", field: "Bool", src: int64(1), want: true},
		{name: "bytes to string", field: "String", src: []byte("hello"), want: "hello"},
		{name: "string to bytes", field: "Bytes", src: "raw", want: []byte("raw")},
		{name: "sqlite text to time", field: "Time", src: "2024-03-01 10:30:00+00:00", want: time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		{name: "rfc3339 to time", field: "Time", src: "2024-03-01T10:30:00Z", want: time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)},
		{name: "uuid value", field: "UUID", src: id, want: id},
		{name: "string to uuid", field: "UUID", src: id.String(), want: id},
		{name: "pointer source", field: "String", src: &name, want: "alice"},
		{name: "value into pointer", field: "Pointer", src: "bob", want: "bob"},
		{name: "nil resets", field: "Int", src: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var target assignTarget
			target.Int = 5
			field := reflect.ValueOf(&target).Elem().FieldByName(tt.field)

			if err := Assign(field, tt.src); err != nil {
				t.Fatalf("Assign returned error: %v", err)
			}

			got := field.Interface()
			if field.Kind() == reflect.Ptr {
				got = field.Elem().Interface()
			}
			if tm, ok := got.(time.Time); ok {
				if !tm.Equal(tt.want.(time.Time)) {
					t.Errorf("got %v, want %v", tm, tt.want)
				}
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestAssign_Errors(t *testing.T) {
	var target assignTarget
	rv := reflect.ValueOf(&target).Elem()

	if err := Assign(rv.FieldByName("Int"), "not a number"); err == nil {
		t.Error("expected parse error")
	}
	if err := Assign(rv.FieldByName("Time"), "yesterday"); err == nil {
		t.Error("expected time parse error")
	}
	if err := Assign(rv.FieldByName("Int"), struct{}{}); err == nil {
		t.Error("expected conversion error")
	}
	if err := Assign(reflect.ValueOf(target).FieldByName("Int"), 1); err == nil {
		t.Error("expected error for unaddressable destination")
	}
}

func TestStructAccessor(t *testing.T) {
	acc, err := NewStructAccessor(reflect.TypeOf(assignTarget{}), "Int64", "String")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	target := &assignTarget{}
	if err := acc.Set(target, "Int64", int(3)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := acc.Get(target, "Int64")
	if err != nil || v != int64(3) {
		t.Errorf("Get = %v, %v", v, err)
	}

	if _, err := acc.Get(target, "Float"); err == nil {
		t.Error("expected error for unmapped property")
	}
	if _, err := acc.Get(assignTarget{}, "Int64"); err == nil {
		t.Error("expected error for non pointer entity")
	}
	if _, err := NewStructAccessor(reflect.TypeOf(assignTarget{}), "Missing"); err == nil {
		t.Error("expected error for unknown field")
	}
}
