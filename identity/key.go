package identity

import (
	"fmt"
	"math"
	"reflect"

	"github.com/google/uuid"
)

// Key names one persisted entity: its struct type and its normalized primary
// key value.
type Key struct {
	Type reflect.Type
	ID   any
}

// NewKey builds a key for entity type t. Pointer types are dereferenced and id
// is normalized with NormalizeID.
func NewKey(t reflect.Type, id any) (Key, error) {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	norm, err := NormalizeID(id)
	if err != nil {
		return Key{}, err
	}
	return Key{Type: t, ID: norm}, nil
}

// String renders the key as Type#id.
func (k Key) String() string {
	name := "<nil>"
	if k.Type != nil {
		name = k.Type.Name()
	}
	return name + "#" + FormatID(k.ID)
}

// FormatID renders an identity value for error messages and logs.
func FormatID(id any) string {
	if id == nil {
		return "nil"
	}
	norm, err := NormalizeID(id)
	if err != nil {
		return fmt.Sprintf("%v", id)
	}
	return fmt.Sprintf("%v", norm)
}

// NormalizeID converts an identity value into a comparable canonical form so
// that the same row is found whatever Go type the caller or the driver used
// for its key: signed and unsigned integers collapse to int64, float32 to
// float64, []byte to string, UUIDs to their string form, and pointers are
// dereferenced. Zero and nil values are rejected since they never identify a
// persisted row.
func NormalizeID(id any) (any, error) {
	if id == nil {
		return nil, fmt.Errorf("identity value is nil")
	}

	if u, ok := id.(uuid.UUID); ok {
		if u == uuid.Nil {
			return nil, fmt.Errorf("identity value is the nil uuid")
		}
		return u.String(), nil
	}

	rv := reflect.ValueOf(id)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return nil, fmt.Errorf("identity value is nil")
		}
		return NormalizeID(rv.Elem().Interface())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() == 0 {
			return nil, fmt.Errorf("identity value is zero")
		}
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := rv.Uint()
		if n == 0 {
			return nil, fmt.Errorf("identity value is zero")
		}
		if n <= math.MaxInt64 {
			return int64(n), nil
		}
		return n, nil
	case reflect.Float32, reflect.Float64:
		if rv.Float() == 0 {
			return nil, fmt.Errorf("identity value is zero")
		}
		return rv.Float(), nil
	case reflect.String:
		if rv.Len() == 0 {
			return nil, fmt.Errorf("identity value is empty")
		}
		return rv.String(), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			if rv.Len() == 0 {
				return nil, fmt.Errorf("identity value is empty")
			}
			return string(rv.Bytes()), nil
		}
		return nil, fmt.Errorf("identity value of type %T is not comparable", id)
	case reflect.Map, reflect.Func, reflect.Chan:
		return nil, fmt.Errorf("identity value of type %T is not comparable", id)
	}

	if !rv.Type().Comparable() {
		return nil, fmt.Errorf("identity value of type %T is not comparable", id)
	}
	if rv.IsZero() {
		return nil, fmt.Errorf("identity value is zero")
	}
	if s, ok := id.(fmt.Stringer); ok && rv.Kind() == reflect.Array {
		return s.String(), nil
	}
	return id, nil
}
