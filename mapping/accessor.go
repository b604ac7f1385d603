package mapping

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strconv"
	"time"
)

// Accessor reads and writes entity properties by name. It is resolved once per
// entity type so the tracker and processors never introspect entities themselves.
type Accessor interface {
	Get(entity any, property string) (any, error)
	Set(entity any, property string, value any) error
}

// structAccessor implements Accessor over struct fields using precomputed field indexes.
type structAccessor struct {
	typ    reflect.Type
	fields map[string][]int
}

// NewStructAccessor builds an accessor for the named fields of struct type t.
func NewStructAccessor(t reflect.Type, fields ...string) (Accessor, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("accessor: %s is not a struct", t)
	}
	acc := &structAccessor{typ: t, fields: make(map[string][]int, len(fields))}
	for _, name := range fields {
		f, ok := t.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("accessor: %s has no field %q", t.Name(), name)
		}
		if !f.IsExported() {
			return nil, fmt.Errorf("accessor: field %s.%s is not exported", t.Name(), name)
		}
		acc.fields[name] = f.Index
	}
	return acc, nil
}

func (a *structAccessor) field(entity any, property string) (reflect.Value, error) {
	idx, ok := a.fields[property]
	if !ok {
		return reflect.Value{}, fmt.Errorf("accessor: %s has no mapped property %q", a.typ.Name(), property)
	}
	rv := reflect.ValueOf(entity)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Type() != a.typ {
		return reflect.Value{}, fmt.Errorf("accessor: expected *%s, got %T", a.typ.Name(), entity)
	}
	f, err := rv.Elem().FieldByIndexErr(idx)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("accessor: %s.%s: %w", a.typ.Name(), property, err)
	}
	return f, nil
}

func (a *structAccessor) Get(entity any, property string) (any, error) {
	f, err := a.field(entity, property)
	if err != nil {
		return nil, err
	}
	return f.Interface(), nil
}

func (a *structAccessor) Set(entity any, property string, value any) error {
	f, err := a.field(entity, property)
	if err != nil {
		return err
	}
	if err := Assign(f, value); err != nil {
		return fmt.Errorf("accessor: %s.%s: %w", a.typ.Name(), property, err)
	}
	return nil
}

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	valuerType  = reflect.TypeOf((*driver.Valuer)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Assign stores src into dst, converting storage representations (int64,
// float64, []byte, strings holding timestamps) into the destination type.
func Assign(dst reflect.Value, src any) error {
	if !dst.CanSet() {
		return fmt.Errorf("destination of type %s is not settable", dst.Type())
	}
	if src == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}
	if dst.CanAddr() && dst.Addr().Type().Implements(scannerType) {
		return dst.Addr().Interface().(sql.Scanner).Scan(src)
	}

	if sv.Kind() == reflect.Ptr {
		if sv.IsNil() {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		return Assign(dst, sv.Elem().Interface())
	}

	if dst.Kind() == reflect.Ptr {
		elem := reflect.New(dst.Type().Elem())
		if err := Assign(elem.Elem(), src); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	switch {
	case isNumeric(sv.Kind()) && isNumeric(dst.Kind()):
		dst.Set(sv.Convert(dst.Type()))
		return nil
	case dst.Kind() == reflect.Bool && isInteger(sv.Kind()):
		dst.SetBool(sv.Convert(reflect.TypeOf(int64(0))).Int() != 0)
		return nil
	case dst.Type() == timeType && sv.Kind() == reflect.String:
		t, err := parseTime(sv.String())
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	case dst.Type() == timeType && isBytes(sv.Type()):
		t, err := parseTime(string(sv.Bytes()))
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	case dst.Kind() == reflect.String && isBytes(sv.Type()):
		dst.SetString(string(sv.Bytes()))
		return nil
	case isBytes(dst.Type()) && sv.Kind() == reflect.String:
		dst.SetBytes([]byte(sv.String()))
		return nil
	case isNumeric(dst.Kind()) && (sv.Kind() == reflect.String || isBytes(sv.Type())):
		return assignNumericText(dst, sv)
	case sv.Kind() == dst.Kind() && sv.Type().ConvertibleTo(dst.Type()):
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}

	return fmt.Errorf("cannot assign %T to %s", src, dst.Type())
}

func assignNumericText(dst, sv reflect.Value) error {
	text := ""
	if sv.Kind() == reflect.String {
		text = sv.String()
	} else {
		text = string(sv.Bytes())
	}
	switch {
	case isInteger(dst.Kind()):
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(n).Convert(dst.Type()))
	case isUnsigned(dst.Kind()):
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(n).Convert(dst.Type()))
	default:
		n, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(n).Convert(dst.Type()))
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}

func isBytes(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUnsigned(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	return isInteger(k) || isUnsigned(k) || k == reflect.Float32 || k == reflect.Float64
}
