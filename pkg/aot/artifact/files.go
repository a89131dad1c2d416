// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/pkg/errors"
)

const (
	// ProgramExt is the file extension of program files.
	ProgramExt = ".gmxa"

	// ConstantsExt is the file extension of the constants side-file.
	ConstantsExt = ".gmxc"

	// ConstantsSuffix is appended to the program path (without extension) to get the constants side-file path.
	ConstantsSuffix = "_constants"

	// TensorListAttribute is the attribute of the constants side-file holding the list of constants.
	TensorListAttribute = "tensor_list"

	// FormatVersion of the files, incremented on incompatible changes.
	FormatVersion = 1
)

var (
	programMagic   = []byte("GMXAPROG")
	constantsMagic = []byte("GMXACNST")

	// ErrAttributeNotFound is returned by ReadConstants if the file doesn't have the requested attribute.
	ErrAttributeNotFound = errors.New("attribute not found in constants file")
)

// ConstantsPath returns the path of the constants side-file for the given program path:
// the program path without its extension, with the suffix "_constants.gmxc".
func ConstantsPath(programPath string) string {
	return strings.TrimSuffix(programPath, filepath.Ext(programPath)) + ConstantsSuffix + ConstantsExt
}

func writeFile(path string, magic []byte, encodeFn func(enc *gob.Encoder) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	w := bufio.NewWriter(f)
	if _, err = w.Write(magic); err == nil {
		enc := gob.NewEncoder(w)
		if err = enc.Encode(FormatVersion); err == nil {
			err = encodeFn(enc)
		}
	}
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		_ = f.Close()
		return errors.WithMessagef(err, "writing %q", path)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "closing %q", path)
	}
	return nil
}

func readHeader(path string, r io.Reader, magic []byte) (*gob.Decoder, error) {
	header := make([]byte, len(magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrapf(err, "reading header of %q", path)
	}
	if !bytes.Equal(header, magic) {
		return nil, errors.Errorf("%q is not a valid file: bad magic header %q, expected %q", path, header, magic)
	}
	dec := gob.NewDecoder(r)
	var version int
	if err := dec.Decode(&version); err != nil {
		return nil, errors.Wrapf(err, "reading format version of %q", path)
	}
	if version != FormatVersion {
		return nil, errors.Errorf("%q has format version %d, only version %d is supported", path, version, FormatVersion)
	}
	return dec, nil
}

// WriteProgram writes the program file. It doesn't write the constants side-file, see WriteConstants.
func WriteProgram(path string, p *Program) error {
	return writeFile(path, programMagic, func(enc *gob.Encoder) error {
		return errors.Wrap(enc.Encode(p), "encoding program")
	})
}

// ReadProgram reads and verifies (see Program.Verify) a program file.
func ReadProgram(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening program %q", path)
	}
	defer func() { _ = f.Close() }()
	dec, err := readHeader(path, bufio.NewReader(f), programMagic)
	if err != nil {
		return nil, err
	}
	p := &Program{}
	if err = dec.Decode(p); err != nil {
		return nil, errors.Wrapf(err, "decoding program %q", path)
	}
	if err = p.Verify(); err != nil {
		return nil, errors.WithMessagef(err, "invalid program in %q", path)
	}
	return p, nil
}

// WriteConstants writes the constants side-file with the given attributes, each a named list of tensors.
// Attributes are written in the order given.
func WriteConstants(path string, names []string, lists [][]*tensors.Tensor) error {
	if len(names) != len(lists) {
		return errors.Errorf("WriteConstants: %d attribute names for %d lists", len(names), len(lists))
	}
	return writeFile(path, constantsMagic, func(enc *gob.Encoder) error {
		if err := enc.Encode(len(names)); err != nil {
			return errors.Wrap(err, "encoding number of attributes")
		}
		for ii, name := range names {
			if err := enc.Encode(name); err != nil {
				return errors.Wrapf(err, "encoding attribute name %q", name)
			}
			if err := tensors.GobSerializeList(enc, lists[ii]); err != nil {
				return errors.WithMessagef(err, "encoding attribute %q", name)
			}
		}
		return nil
	})
}

// ReadConstants reads the list of tensors of the given attribute from the constants side-file.
//
// If the file doesn't exist, the error wraps os.ErrNotExist. If the file doesn't have the attribute, it returns
// ErrAttributeNotFound. Any other error means the file is corrupt or unreadable.
func ReadConstants(path, attribute string) ([]*tensors.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening constants %q", path)
	}
	defer func() { _ = f.Close() }()
	dec, err := readHeader(path, bufio.NewReader(f), constantsMagic)
	if err != nil {
		return nil, err
	}
	var numAttributes int
	if err = dec.Decode(&numAttributes); err != nil {
		return nil, errors.Wrapf(err, "decoding number of attributes of %q", path)
	}
	for range numAttributes {
		var name string
		if err = dec.Decode(&name); err != nil {
			return nil, errors.Wrapf(err, "decoding attribute name in %q", path)
		}
		list, err := tensors.GobDeserializeList(dec)
		if err != nil {
			return nil, errors.WithMessagef(err, "decoding attribute %q in %q", name, path)
		}
		if name == attribute {
			return list, nil
		}
	}
	return nil, errors.Wrapf(ErrAttributeNotFound, "%q in %q", attribute, path)
}
