// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"

	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Entry of a StateDict.
type Entry struct {
	Name  string
	Value *tensors.Tensor

	// Buffer entries are not trainable (e.g. batch normalization running statistics).
	Buffer bool
}

// StateDict is an ordered mapping of names to tensors holding the state of a model: first all its parameters,
// in the order they were added, and then all its buffers.
//
// The order is significant: it is the order of the leading arguments of compiled models.
type StateDict struct {
	params, buffers []Entry
	index           map[string]bool
}

// NewStateDict returns an empty StateDict.
func NewStateDict() *StateDict {
	return &StateDict{index: make(map[string]bool)}
}

// AddParameter appends a trainable parameter to the state. It panics if the name is already used.
func (sd *StateDict) AddParameter(name string, value *tensors.Tensor) *StateDict {
	sd.params = append(sd.params, sd.newEntry(name, value, false))
	return sd
}

// AddBuffer appends a non-trainable buffer to the state. It panics if the name is already used.
func (sd *StateDict) AddBuffer(name string, value *tensors.Tensor) *StateDict {
	sd.buffers = append(sd.buffers, sd.newEntry(name, value, true))
	return sd
}

func (sd *StateDict) newEntry(name string, value *tensors.Tensor, buffer bool) Entry {
	if sd.index == nil {
		sd.index = make(map[string]bool)
	}
	if sd.index[name] {
		exceptions.Panicf("StateDict: %q already defined", name)
	}
	value.AssertValid()
	sd.index[name] = true
	return Entry{Name: name, Value: value, Buffer: buffer}
}

// Len returns the number of entries, parameters and buffers.
func (sd *StateDict) Len() int {
	if sd == nil {
		return 0
	}
	return len(sd.params) + len(sd.buffers)
}

// Entries returns all entries, parameters first and then buffers.
func (sd *StateDict) Entries() []Entry {
	if sd == nil {
		return nil
	}
	entries := make([]Entry, 0, sd.Len())
	entries = append(entries, sd.params...)
	return append(entries, sd.buffers...)
}

// Names of all entries, in order.
func (sd *StateDict) Names() []string {
	entries := sd.Entries()
	names := make([]string, len(entries))
	for ii, entry := range entries {
		names[ii] = entry.Name
	}
	return names
}

// Values of all entries, in order.
func (sd *StateDict) Values() []*tensors.Tensor {
	entries := sd.Entries()
	values := make([]*tensors.Tensor, len(entries))
	for ii, entry := range entries {
		values[ii] = entry.Value
	}
	return values
}

// Get returns the value for the given name, or nil if not present.
func (sd *StateDict) Get(name string) *tensors.Tensor {
	for _, entry := range sd.Entries() {
		if entry.Name == name {
			return entry.Value
		}
	}
	return nil
}

// Clone returns a deep copy of the state: changes to the original tensors are not reflected in the clone.
func (sd *StateDict) Clone() (*StateDict, error) {
	clone := NewStateDict()
	for _, entry := range sd.Entries() {
		value, err := entry.Value.Clone()
		if err != nil {
			return nil, errors.WithMessagef(err, "cloning state %q", entry.Name)
		}
		if entry.Buffer {
			clone.AddBuffer(entry.Name, value)
		} else {
			clone.AddParameter(entry.Name, value)
		}
	}
	return clone, nil
}

// String lists the entries and their shapes.
func (sd *StateDict) String() string {
	s := fmt.Sprintf("StateDict(%d entries)", sd.Len())
	for _, entry := range sd.Entries() {
		kind := "param"
		if entry.Buffer {
			kind = "buffer"
		}
		s += fmt.Sprintf("\n\t%s %q: %s", kind, entry.Name, entry.Value.Shape())
	}
	return s
}
