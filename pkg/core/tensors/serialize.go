// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"encoding/gob"
	"os"
	"reflect"

	"github.com/gomlx/aot/pkg/core/shapes"
	"github.com/pkg/errors"
)

// GobSerialize Tensor in binary format.
//
// It returns an error for I/O errors or invalid tensors.
func (t *Tensor) GobSerialize(encoder *gob.Encoder) error {
	if err := t.CheckValid(); err != nil {
		return err
	}
	err := t.shape.GobSerialize(encoder)
	if err != nil {
		return err
	}
	accessErr := t.ConstFlatData(func(flat any) {
		err = encoder.Encode(flat)
		if err != nil {
			err = errors.Wrapf(err, "failed to write tensor data")
		}
	})
	if accessErr != nil {
		return accessErr
	}
	return err
}

// GobDeserialize a Tensor from the reader.
func GobDeserialize(decoder *gob.Decoder) (*Tensor, error) {
	shape, err := shapes.GobDeserialize(decoder)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to deserialize Tensor shape data")
	}
	flatPtrV := reflect.New(reflect.SliceOf(shape.DType.GoType()))
	err = decoder.Decode(flatPtrV.Interface())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to deserialize Tensor data")
	}
	if flatPtrV.Elem().Len() != shape.Size() {
		return nil, errors.Errorf("deserialized Tensor of shape %s has %d elements, expected %d",
			shape, flatPtrV.Elem().Len(), shape.Size())
	}
	// Build the new tensor using the data returned by the decoder, to avoid a copy.
	t := newEmptyTensor(shape)
	t.flat = flatPtrV.Elem().Interface()
	return t, nil
}

// Save the tensor to the given file path.
func (t *Tensor) Save(filePath string) error {
	if err := t.CheckValid(); err != nil {
		return err
	}
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "creating %q to save tensor", filePath)
	}
	enc := gob.NewEncoder(f)
	err = t.GobSerialize(enc)
	if err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "saving Tensor to %q", filePath)
	}
	err = f.Close()
	if err != nil {
		return errors.Wrapf(err, "close file %q, where tensor was saved", filePath)
	}
	return nil
}

// Load a tensor from the file path given.
func Load(filePath string) (*Tensor, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q to load Tensor", filePath)
	}
	defer func() { _ = f.Close() }()
	t, err := GobDeserialize(gob.NewDecoder(f))
	if err != nil {
		return nil, errors.WithMessagef(err, "loading Tensor from %q", filePath)
	}
	return t, nil
}

// GobSerializeList serializes a list of tensors: the number of tensors followed by each of them.
func GobSerializeList(encoder *gob.Encoder, list []*Tensor) error {
	if err := encoder.Encode(int32(len(list))); err != nil {
		return errors.Wrapf(err, "failed to write number of tensors")
	}
	for ii, t := range list {
		if err := t.GobSerialize(encoder); err != nil {
			return errors.WithMessagef(err, "serializing tensor #%d", ii)
		}
	}
	return nil
}

// GobDeserializeList is the inverse of GobSerializeList.
func GobDeserializeList(decoder *gob.Decoder) ([]*Tensor, error) {
	var n int32
	if err := decoder.Decode(&n); err != nil {
		return nil, errors.Wrapf(err, "failed to read number of tensors")
	}
	if n < 0 {
		return nil, errors.Errorf("invalid number of tensors %d", n)
	}
	list := make([]*Tensor, 0, n)
	for ii := range int(n) {
		t, err := GobDeserialize(decoder)
		if err != nil {
			return nil, errors.WithMessagef(err, "deserializing tensor #%d", ii)
		}
		list = append(list, t)
	}
	return list, nil
}
