// MIT License
//
// Copyright (c) 2020 codingfinest
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package gogm

import (
	"fmt"
	"math"
	"reflect"
)

//EntityAccess reads and writes the identity, properties and attributes of one entity instance.
type EntityAccess interface {
	Entity() any
	Meta() *EntityMeta
	Identifier() Identity
	SetIdentifier(id Identity) error
	//Property returns the value of a simple property or the raw value of an association.
	Property(name string) any
	SetProperty(name string, value any) error
	//Associated returns the targets of an association. initialized is false for a pending Deferred.
	Associated(name string) (targets []any, initialized bool)
	//SetAssociated replaces the targets of an association.
	SetAssociated(name string, targets []any) error
	//SetDeferred stores d when the association can hold a Deferred and reports whether it did.
	SetDeferred(name string, d *Deferred) bool
	Attributes() map[string]any
	SetAttributes(attributes map[string]any)
}

var (
	typeOfDeferred   = reflect.TypeOf(&Deferred{})
	typeOfAttributes = reflect.TypeOf(map[string]any{})
)

func newEntityAccess(meta *EntityMeta, entity any) (EntityAccess, error) {
	if g, ok := entity.(*GenericEntity); ok {
		if g == nil {
			return nil, configErrorf(meta.Kind, "nil entity")
		}
		return &genericAccess{meta: meta, entity: g}, nil
	}
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return nil, configErrorf(meta.Kind, "entity must be a non nil pointer, got %T", entity)
	}
	if meta.goType == nil || v.Elem().Type() != meta.goType {
		return nil, configErrorf(meta.Kind, "entity of type %T does not belong to this kind", entity)
	}
	return &structAccess{meta: meta, entity: entity, value: v.Elem()}, nil
}

//allocate creates a zero instance of the kind.
func allocate(meta *EntityMeta) (EntityAccess, error) {
	if meta.goType == nil {
		return newEntityAccess(meta, NewGenericEntity(meta.Kind))
	}
	return newEntityAccess(meta, reflect.New(meta.goType).Interface())
}

type structAccess struct {
	meta   *EntityMeta
	entity any
	value  reflect.Value
}

func (s *structAccess) Entity() any {
	return s.entity
}

func (s *structAccess) Meta() *EntityMeta {
	return s.meta
}

//Identifier treats nil pointers and zero values of non pointer fields as absent. Native
//identities start at 0, so their field should be a *int64.
func (s *structAccess) Identifier() Identity {
	if s.meta.idField == nil {
		return nil
	}
	f := s.value.FieldByIndex(s.meta.idField)
	if f.Kind() == reflect.Ptr {
		if f.IsNil() {
			return nil
		}
		return normalizeIdentity(f.Elem().Interface())
	}
	if f.IsZero() {
		return nil
	}
	return normalizeIdentity(f.Interface())
}

func (s *structAccess) SetIdentifier(id Identity) error {
	if s.meta.idField == nil {
		return configErrorf(s.meta.Kind, "no field tagged %q", idTag)
	}
	return assign(s.value.FieldByIndex(s.meta.idField), id)
}

func (s *structAccess) field(name string) (reflect.Value, bool) {
	index, ok := s.meta.fields[name]
	if !ok {
		return reflect.Value{}, false
	}
	return s.value.FieldByIndex(index), true
}

func (s *structAccess) Property(name string) any {
	f, ok := s.field(name)
	if !ok {
		return nil
	}
	switch f.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		if f.IsNil() {
			return nil
		}
	}
	if f.Kind() == reflect.Ptr && f.Elem().Kind() != reflect.Struct {
		return f.Elem().Interface()
	}
	return f.Interface()
}

func (s *structAccess) SetProperty(name string, value any) error {
	f, ok := s.field(name)
	if !ok {
		return fmt.Errorf("%s has no property %s", s.meta.Kind, name)
	}
	return assign(f, value)
}

func (s *structAccess) Associated(name string) ([]any, bool) {
	f, ok := s.field(name)
	if !ok {
		return nil, true
	}
	return associatedValues(f)
}

func associatedValues(f reflect.Value) ([]any, bool) {
	if f.Type() == typeOfDeferred {
		if f.IsNil() {
			return nil, true
		}
		d := f.Interface().(*Deferred)
		if !d.IsResolved() {
			return nil, false
		}
		return d.values, true
	}
	switch f.Kind() {
	case reflect.Ptr, reflect.Interface:
		if f.IsNil() {
			return nil, true
		}
		return []any{f.Interface()}, true
	case reflect.Slice:
		targets := make([]any, 0, f.Len())
		for i := 0; i < f.Len(); i++ {
			if item := f.Index(i); !item.IsNil() {
				targets = append(targets, item.Interface())
			}
		}
		return targets, true
	}
	return nil, true
}

func (s *structAccess) SetAssociated(name string, targets []any) error {
	f, ok := s.field(name)
	if !ok {
		return fmt.Errorf("%s has no association %s", s.meta.Kind, name)
	}
	return setAssociatedValues(f, targets)
}

func setAssociatedValues(f reflect.Value, targets []any) error {
	if f.Type() == typeOfDeferred {
		f.Set(reflect.ValueOf(Resolved(targets...)))
		return nil
	}
	switch f.Kind() {
	case reflect.Slice:
		slice := reflect.MakeSlice(f.Type(), 0, len(targets))
		for _, t := range targets {
			v := reflect.ValueOf(t)
			if !v.Type().AssignableTo(f.Type().Elem()) {
				return fmt.Errorf("cannot add %T to %s", t, f.Type())
			}
			slice = reflect.Append(slice, v)
		}
		f.Set(slice)
		return nil
	case reflect.Ptr, reflect.Interface:
		if len(targets) == 0 {
			f.Set(reflect.Zero(f.Type()))
			return nil
		}
		v := reflect.ValueOf(targets[0])
		if !v.Type().AssignableTo(f.Type()) {
			return fmt.Errorf("cannot assign %T to %s", targets[0], f.Type())
		}
		f.Set(v)
		return nil
	}
	return fmt.Errorf("field of type %s cannot hold an association", f.Type())
}

func (s *structAccess) SetDeferred(name string, d *Deferred) bool {
	f, ok := s.field(name)
	if !ok || f.Type() != typeOfDeferred {
		return false
	}
	f.Set(reflect.ValueOf(d))
	return true
}

func (s *structAccess) Attributes() map[string]any {
	if s.meta.attrs == nil {
		return nil
	}
	f := s.value.FieldByIndex(s.meta.attrs)
	if f.IsNil() {
		return nil
	}
	return f.Interface().(map[string]any)
}

func (s *structAccess) SetAttributes(attributes map[string]any) {
	if s.meta.attrs == nil {
		return
	}
	f := s.value.FieldByIndex(s.meta.attrs)
	if f.Type() == typeOfAttributes {
		f.Set(reflect.ValueOf(attributes))
	}
}

//assign sets f from value converting numbers, slices and pointers as the backend returns them.
func assign(f reflect.Value, value any) error {
	if value == nil {
		f.Set(reflect.Zero(f.Type()))
		return nil
	}
	converted, err := convert(reflect.ValueOf(value), f.Type())
	if err != nil {
		return err
	}
	f.Set(converted)
	return nil
}

func convert(v reflect.Value, t reflect.Type) (reflect.Value, error) {
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if t.Kind() == reflect.Ptr && t.Elem().Kind() != reflect.Struct {
		inner, err := convert(v, t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(inner)
		return p, nil
	}
	if t.Kind() == reflect.Slice && v.Kind() == reflect.Slice {
		slice := reflect.MakeSlice(t, v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			item := v.Index(i)
			if item.Kind() == reflect.Interface {
				item = item.Elem()
			}
			converted, err := convert(item, t.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			slice.Index(i).Set(converted)
		}
		return slice, nil
	}
	if converted, ok := convertScalar(v, t); ok {
		return converted, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %s to %s", v.Type(), t)
}

//convertScalar converts between types of the same kind, between integers that fit and
//between floats. Integers never become strings or floats, floats never become integers.
func convertScalar(v reflect.Value, t reflect.Type) (reflect.Value, bool) {
	if v.Kind() == reflect.Slice || !v.Type().ConvertibleTo(t) {
		return reflect.Value{}, false
	}
	switch {
	case isInteger(v.Kind()) && isInteger(t.Kind()):
		if !fitsInteger(v, t) {
			return reflect.Value{}, false
		}
	case isFloat(v.Kind()) && isFloat(t.Kind()):
	case v.Kind() != t.Kind():
		return reflect.Value{}, false
	}
	return v.Convert(t), true
}

func isSigned(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isInteger(k reflect.Kind) bool {
	return isSigned(k) || (k >= reflect.Uint && k <= reflect.Uintptr)
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func fitsInteger(v reflect.Value, t reflect.Type) bool {
	zero := reflect.Zero(t)
	if isSigned(v.Kind()) {
		n := v.Int()
		if isSigned(t.Kind()) {
			return !zero.OverflowInt(n)
		}
		return n >= 0 && !zero.OverflowUint(uint64(n))
	}
	n := v.Uint()
	if isSigned(t.Kind()) {
		return n <= math.MaxInt64 && !zero.OverflowInt(int64(n))
	}
	return !zero.OverflowUint(n)
}

//normalizeIdentity widens integer identities to int64 so that ledger keys compare equal.
func normalizeIdentity(id any) Identity {
	switch v := id.(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	}
	return id
}
