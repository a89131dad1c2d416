// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pytree

import (
	"reflect"

	"github.com/pkg/errors"
)

var anyType = reflect.TypeOf((*any)(nil)).Elem()

// Unflatten rebuilds the structure described by spec, using the given leaves in order.
//
// Containers are rebuilt with their original Go types, and nil slices and maps are rebuilt as nil.
// If a leaf can't be stored in its original slot (e.g. after Map changed the leaf type), slices and arrays
// are rebuilt as []any, maps as map[K]any and structs as a map[string]any keyed by the field names.
// A pointer to a struct rebuilt that way is replaced by the map itself.
func Unflatten[L any](leaves []L, spec *TreeSpec) (any, error) {
	if spec == nil {
		return nil, errors.New("Unflatten: nil tree spec")
	}
	if len(leaves) != spec.NumLeaves() {
		return nil, errors.Wrapf(ErrLengthMismatch, "spec %s requires %d leaves, got %d", spec, spec.NumLeaves(), len(leaves))
	}
	pos := 0
	return unflatten(leaves, &pos, spec)
}

// Map applies fn to every leaf of tree, returning a tree with the same structure and the converted leaves.
func Map[A, B any](tree any, fn func(leaf A) (B, error)) (any, error) {
	leaves, spec, err := Flatten[A](tree)
	if err != nil {
		return nil, err
	}
	mapped := make([]B, len(leaves))
	for ii, leaf := range leaves {
		mapped[ii], err = fn(leaf)
		if err != nil {
			return nil, errors.WithMessagef(err, "mapping leaf #%d", ii)
		}
	}
	return Unflatten(mapped, spec)
}

func unflatten[L any](leaves []L, pos *int, spec *TreeSpec) (any, error) {
	switch spec.Kind {
	case KindLeaf:
		leaf := leaves[*pos]
		*pos++
		return leaf, nil
	case KindNone:
		return nil, nil
	}

	children := make([]any, len(spec.Children))
	for ii, childSpec := range spec.Children {
		child, err := unflatten(leaves, pos, childSpec)
		if err != nil {
			return nil, err
		}
		children[ii] = child
	}

	switch spec.Kind {
	case KindSlice:
		sliceType := spec.Type
		if !allFit(children, sliceType.Elem()) {
			sliceType = reflect.SliceOf(anyType)
		}
		if spec.IsNil {
			return reflect.Zero(sliceType).Interface(), nil
		}
		result := reflect.MakeSlice(sliceType, len(children), len(children))
		setElements(result, children)
		return result.Interface(), nil

	case KindArray:
		elemType := spec.Type.Elem()
		if !allFit(children, elemType) {
			result := reflect.ValueOf(make([]any, len(children)))
			setElements(result, children)
			return result.Interface(), nil
		}
		result := reflect.New(spec.Type).Elem()
		setElements(result, children)
		return result.Interface(), nil

	case KindMap:
		mapType := spec.Type
		if !allFit(children, mapType.Elem()) {
			mapType = reflect.MapOf(mapType.Key(), anyType)
		}
		if spec.IsNil {
			return reflect.Zero(mapType).Interface(), nil
		}
		result := reflect.MakeMapWithSize(mapType, len(children))
		for ii, key := range spec.Keys {
			result.SetMapIndex(reflect.ValueOf(key).Convert(mapType.Key()), valueFor(children[ii], mapType.Elem()))
		}
		return result.Interface(), nil

	case KindStruct:
		result := reflect.New(spec.Type).Elem()
		for ii, child := range children {
			if !fits(child, result.Field(ii).Type()) {
				return structAsMap(spec, children), nil
			}
		}
		for ii, child := range children {
			field := result.Field(ii)
			field.Set(valueFor(child, field.Type()))
		}
		return result.Interface(), nil

	case KindPointer:
		child := reflect.ValueOf(children[0])
		if child.Type() != spec.Type.Elem() {
			return children[0], nil
		}
		ptr := reflect.New(child.Type())
		ptr.Elem().Set(child)
		return ptr.Interface(), nil
	}
	return nil, errors.Errorf("Unflatten: invalid tree spec kind %d", spec.Kind)
}

// structAsMap rebuilds a struct whose fields can't hold the new leaves as a map of field name to value.
//
// Flattening the map visits the fields in sorted name order, which may differ from the declaration order.
func structAsMap(spec *TreeSpec, children []any) map[string]any {
	result := make(map[string]any, len(children))
	for ii, child := range children {
		result[spec.Fields[ii]] = child
	}
	return result
}

// fits returns whether value can be stored in a slot of type t.
func fits(value any, t reflect.Type) bool {
	if value == nil {
		switch t.Kind() {
		case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map:
			return true
		}
		return false
	}
	return reflect.TypeOf(value).AssignableTo(t)
}

func allFit(values []any, t reflect.Type) bool {
	for _, value := range values {
		if !fits(value, t) {
			return false
		}
	}
	return true
}

func valueFor(value any, t reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(t)
	}
	return reflect.ValueOf(value)
}

func setElements(container reflect.Value, values []any) {
	elemType := container.Type().Elem()
	for ii, value := range values {
		container.Index(ii).Set(valueFor(value, elemType))
	}
}
