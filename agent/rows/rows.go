/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package rows flattens action payloads into rows of named columns for the
// broker result message.
package rows

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/UnifyEM/diragent/common/schema"
)

// ValueColumn names the single column used for scalar list elements
const ValueColumn = "Value"

// ErrUnsupported is returned for payloads that cannot be represented as rows
var ErrUnsupported = errors.New("payload cannot be flattened")

// Variant identifies how a payload was recognized
type Variant int

const (
	VariantNone Variant = iota
	VariantDictionary
	VariantList
	VariantSingleListField
	VariantObject
)

func (v Variant) String() string {
	switch v {
	case VariantDictionary:
		return "dictionary"
	case VariantList:
		return "list"
	case VariantSingleListField:
		return "single-list-field"
	case VariantObject:
		return "object"
	default:
		return "none"
	}
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	textMarshaler = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Flatten converts payload into rows. Variants are tested in order:
// a map becomes one row of its keys, a slice or array becomes one row per
// element, a struct whose only exported field is a slice is flattened as
// that slice, and any other struct becomes a single row of its fields.
// A nil payload yields zero rows.
func Flatten(payload any) ([]schema.Row, error) {
	out, _, err := FlattenVariant(payload)
	return out, err
}

// FlattenVariant is Flatten that also reports the recognized variant
func FlattenVariant(payload any) ([]schema.Row, Variant, error) {
	v, ok := indirect(reflect.ValueOf(payload))
	if !ok {
		return []schema.Row{}, VariantNone, nil
	}

	switch {
	case v.Kind() == reflect.Map:
		row, err := mapRow(v)
		if err != nil {
			return nil, VariantDictionary, err
		}
		return []schema.Row{row}, VariantDictionary, nil

	case isList(v):
		out, err := listRows(v)
		return out, VariantList, err

	case v.Kind() == reflect.Struct && !isScalarStruct(v.Type()):
		if field, ok := singleListField(v); ok {
			out, err := listRows(field)
			return out, VariantSingleListField, err
		}
		row, err := structRow(v)
		if err != nil {
			return nil, VariantObject, err
		}
		return []schema.Row{row}, VariantObject, nil
	}

	if !scalarKind(v) {
		return nil, VariantNone, fmt.Errorf("%w: %s", ErrUnsupported, v.Type())
	}
	return []schema.Row{{ValueColumn: v.Interface()}}, VariantObject, nil
}

// Columns returns the sorted union of column names across rows
func Columns(rows []schema.Row) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// indirect follows pointers and interfaces. It returns false for nil.
func indirect(v reflect.Value) (reflect.Value, bool) {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	return v, v.IsValid()
}

// isList reports whether v is a slice or array other than raw bytes
func isList(v reflect.Value) bool {
	k := v.Kind()
	if k != reflect.Slice && k != reflect.Array {
		return false
	}
	return v.Type().Elem().Kind() != reflect.Uint8
}

// isScalarStruct reports struct types that serialize as a single value
func isScalarStruct(t reflect.Type) bool {
	return t == timeType || t.Implements(textMarshaler) || reflect.PointerTo(t).Implements(textMarshaler)
}

func scalarKind(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return false
	}
	return true
}

func listRows(v reflect.Value) ([]schema.Row, error) {
	out := make([]schema.Row, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		row, err := elementRow(v.Index(i))
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		if row != nil {
			out = append(out, row)
		}
	}
	return out, nil
}

// elementRow converts one list element. Nil elements are skipped.
func elementRow(v reflect.Value) (schema.Row, error) {
	v, ok := indirect(v)
	if !ok {
		return nil, nil
	}
	switch {
	case v.Kind() == reflect.Map:
		return mapRow(v)
	case v.Kind() == reflect.Struct && !isScalarStruct(v.Type()):
		return structRow(v)
	case !scalarKind(v):
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, v.Type())
	}
	return schema.Row{ValueColumn: v.Interface()}, nil
}

func mapRow(v reflect.Value) (schema.Row, error) {
	row := make(schema.Row, v.Len())
	iter := v.MapRange()
	for iter.Next() {
		val, err := cell(iter.Value())
		if err != nil {
			return nil, err
		}
		row[fmt.Sprint(iter.Key().Interface())] = val
	}
	return row, nil
}

func structRow(v reflect.Value) (schema.Row, error) {
	row := make(schema.Row)
	if err := addFields(row, v); err != nil {
		return nil, err
	}
	return row, nil
}

// addFields copies exported fields into row under their JSON names.
// Embedded structs without a tag are promoted.
func addFields(row schema.Row, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, skip := columnName(f)
		if skip {
			continue
		}

		fv := v.Field(i)
		if f.Anonymous && name == "" {
			inner, ok := indirect(fv)
			if ok && inner.Kind() == reflect.Struct && !isScalarStruct(inner.Type()) {
				if err := addFields(row, inner); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}

		val, err := cell(fv)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		row[name] = val
	}
	return nil
}

// columnName returns the JSON tag name of f, or "" when untagged
func columnName(f reflect.StructField) (string, bool) {
	tag, ok := f.Tag.Lookup("json")
	if !ok {
		return "", false
	}
	if tag == "-" {
		return "", true
	}
	name, _, _ := strings.Cut(tag, ",")
	return name, false
}

// cell returns the value stored in a column. Nil pointers become nil and
// other pointers are dereferenced.
func cell(v reflect.Value) (any, error) {
	v, ok := indirect(v)
	if !ok {
		return nil, nil
	}
	if !scalarKind(v) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, v.Type())
	}
	return v.Interface(), nil
}

// singleListField returns the only exported field of v when it is a list
func singleListField(v reflect.Value) (reflect.Value, bool) {
	t := v.Type()
	var found reflect.Value
	count := 0
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if _, skip := columnName(f); skip {
			continue
		}
		count++
		if count > 1 {
			return reflect.Value{}, false
		}
		fv, ok := indirect(v.Field(i))
		if !ok || !isList(fv) {
			return reflect.Value{}, false
		}
		found = fv
	}
	return found, count == 1
}
