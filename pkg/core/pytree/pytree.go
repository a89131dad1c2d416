// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pytree flattens arbitrarily nested Go structures of leaves (typically *tensors.Tensor) into
// an ordered list of leaves plus a TreeSpec describing the structure, and rebuilds them back.
//
// Supported containers:
//
//   - Slices and arrays, of any element type: rebuilt with the original Go type.
//   - Maps whose keys are integers, floats or strings: flattened in sorted key order.
//   - Structs (and pointers to structs) with only exported fields, in declaration order.
//   - nil, a node without leaves ("None").
//
// Any value whose dynamic type is the leaf type L is a leaf. Anything else (e.g. a string that is not a leaf)
// returns an error wrapping ErrUnsupportedStructure.
//
// The order of the leaves is deterministic for a given structure, so flattening a different value with the
// same structure yields leaves in corresponding positions. This is what allows compiled code to use flat
// lists of arguments for structured inputs.
package pytree

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedStructure is returned when a value is neither a leaf nor a supported container.
	ErrUnsupportedStructure = errors.New("unsupported structure")

	// ErrLengthMismatch is returned when the number of leaves doesn't match the TreeSpec.
	ErrLengthMismatch = errors.New("number of leaves doesn't match tree spec")

	// ErrStructureMismatch is returned when a value doesn't have the structure of the given TreeSpec.
	ErrStructureMismatch = errors.New("structure doesn't match tree spec")
)

// Kind of TreeSpec node.
type Kind int

const (
	KindLeaf Kind = iota
	KindNone
	KindSlice
	KindArray
	KindMap
	KindStruct
	KindPointer
)

// TreeSpec describes the structure of a flattened tree: one node per container, with leaves marked as KindLeaf.
//
// TreeSpec values are immutable after creation.
type TreeSpec struct {
	Kind Kind

	// Type of the container, used to rebuild it. Nil for KindLeaf and KindNone.
	Type reflect.Type

	// Keys of a KindMap node, sorted, one per child.
	Keys []any

	// Fields names of a KindStruct node, one per child.
	Fields []string

	// IsNil is set for a nil KindSlice or KindMap. It only affects Unflatten: Equal treats a nil
	// container as an empty one.
	IsNil bool

	Children []*TreeSpec

	numLeaves int
}

// Leaf returns the TreeSpec of a single leaf.
func Leaf() *TreeSpec {
	return &TreeSpec{Kind: KindLeaf, numLeaves: 1}
}

// NumLeaves returns the number of leaves in the tree.
func (s *TreeSpec) NumLeaves() int { return s.numLeaves }

// Equal returns whether both specs describe the same structure, including container types and map keys.
func (s *TreeSpec) Equal(other *TreeSpec) bool {
	if s == nil || other == nil {
		return s == other
	}
	if s.Kind != other.Kind || s.Type != other.Type || s.numLeaves != other.numLeaves ||
		len(s.Children) != len(other.Children) || !slices.Equal(s.Fields, other.Fields) ||
		!reflect.DeepEqual(s.Keys, other.Keys) {
		return false
	}
	for ii, child := range s.Children {
		if !child.Equal(other.Children[ii]) {
			return false
		}
	}
	return true
}

// String returns a compact representation of the structure, with leaves printed as `*`. E.g.: `[*, {a: *, b: *}, None]`.
func (s *TreeSpec) String() string {
	var sb strings.Builder
	s.write(&sb)
	return sb.String()
}

func (s *TreeSpec) write(sb *strings.Builder) {
	writeChildren := func(open, close string, label func(ii int) string) {
		sb.WriteString(open)
		for ii, child := range s.Children {
			if ii > 0 {
				sb.WriteString(", ")
			}
			if label != nil {
				sb.WriteString(label(ii))
				sb.WriteString(": ")
			}
			child.write(sb)
		}
		sb.WriteString(close)
	}
	switch s.Kind {
	case KindLeaf:
		sb.WriteString("*")
	case KindNone:
		sb.WriteString("None")
	case KindSlice:
		writeChildren("[", "]", nil)
	case KindArray:
		writeChildren("(", ")", nil)
	case KindMap:
		writeChildren("{", "}", func(ii int) string { return fmt.Sprint(s.Keys[ii]) })
	case KindStruct:
		writeChildren(s.Type.Name()+"{", "}", func(ii int) string { return s.Fields[ii] })
	case KindPointer:
		sb.WriteString("&")
		s.Children[0].write(sb)
	}
}

// Flatten returns the leaves of tree (values of type L) in deterministic order, and the TreeSpec to rebuild it.
func Flatten[L any](tree any) ([]L, *TreeSpec, error) {
	var leaves []L
	spec, err := flatten(tree, &leaves, "")
	if err != nil {
		return nil, nil, err
	}
	return leaves, spec, nil
}

// FlattenWithSpec flattens tree and checks that it has exactly the structure given by spec.
// It returns an error wrapping ErrStructureMismatch otherwise.
func FlattenWithSpec[L any](tree any, spec *TreeSpec) ([]L, error) {
	leaves, treeSpec, err := Flatten[L](tree)
	if err != nil {
		return nil, err
	}
	if !treeSpec.Equal(spec) {
		return nil, errors.Wrapf(ErrStructureMismatch, "expected %s, got %s", spec, treeSpec)
	}
	return leaves, nil
}

func flatten[L any](value any, leaves *[]L, path string) (*TreeSpec, error) {
	if leaf, ok := value.(L); ok {
		*leaves = append(*leaves, leaf)
		return Leaf(), nil
	}
	if value == nil {
		return &TreeSpec{Kind: KindNone}, nil
	}
	v := reflect.ValueOf(value)
	t := v.Type()
	spec := &TreeSpec{Type: t}
	addChild := func(child reflect.Value, childPath string) error {
		childSpec, err := flatten(child.Interface(), leaves, childPath)
		if err != nil {
			return err
		}
		spec.Children = append(spec.Children, childSpec)
		spec.numLeaves += childSpec.numLeaves
		return nil
	}

	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		spec.Kind = KindSlice
		if t.Kind() == reflect.Array {
			spec.Kind = KindArray
		} else {
			spec.IsNil = v.IsNil()
		}
		for ii := range v.Len() {
			if err := addChild(v.Index(ii), fmt.Sprintf("%s[%d]", path, ii)); err != nil {
				return nil, err
			}
		}

	case reflect.Map:
		spec.Kind = KindMap
		spec.IsNil = v.IsNil()
		keys := v.MapKeys()
		if err := sortKeys(keys); err != nil {
			return nil, errors.WithMessagef(err, "at %q (%s)", pathOrRoot(path), t)
		}
		for _, key := range keys {
			spec.Keys = append(spec.Keys, key.Interface())
			if err := addChild(v.MapIndex(key), fmt.Sprintf("%s[%v]", path, key)); err != nil {
				return nil, err
			}
		}

	case reflect.Pointer:
		if t.Elem().Kind() != reflect.Struct {
			return nil, errors.Wrapf(ErrUnsupportedStructure, "at %q: pointer type %s is not a leaf", pathOrRoot(path), t)
		}
		if v.IsNil() {
			return &TreeSpec{Kind: KindNone}, nil
		}
		spec.Kind = KindPointer
		if err := addChild(v.Elem(), path); err != nil {
			return nil, err
		}

	case reflect.Struct:
		spec.Kind = KindStruct
		for ii := range t.NumField() {
			field := t.Field(ii)
			if !field.IsExported() {
				return nil, errors.Wrapf(ErrUnsupportedStructure, "at %q: struct %s has unexported field %q",
					pathOrRoot(path), t, field.Name)
			}
			spec.Fields = append(spec.Fields, field.Name)
			if err := addChild(v.Field(ii), path+"."+field.Name); err != nil {
				return nil, err
			}
		}

	default:
		return nil, errors.Wrapf(ErrUnsupportedStructure, "at %q: value of type %s is not a leaf or a container",
			pathOrRoot(path), t)
	}
	return spec, nil
}

func pathOrRoot(path string) string {
	if path == "" {
		return "<root>"
	}
	return path
}

// sortKeys sort map keys in place, it fails if the keys are not ordered types.
func sortKeys(keys []reflect.Value) error {
	if len(keys) == 0 {
		return nil
	}
	var compare func(a, b reflect.Value) int
	switch keys[0].Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		compare = func(a, b reflect.Value) int { return cmp.Compare(a.Int(), b.Int()) }
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		compare = func(a, b reflect.Value) int { return cmp.Compare(a.Uint(), b.Uint()) }
	case reflect.Float32, reflect.Float64:
		compare = func(a, b reflect.Value) int { return cmp.Compare(a.Float(), b.Float()) }
	case reflect.String:
		compare = func(a, b reflect.Value) int { return cmp.Compare(a.String(), b.String()) }
	default:
		return errors.Wrapf(ErrUnsupportedStructure, "map key type %s is not ordered", keys[0].Type())
	}
	slices.SortFunc(keys, compare)
	return nil
}
