// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package native

import (
	"fmt"
	"os"

	"github.com/gomlx/aot/pkg/aot/artifact"
	"github.com/gomlx/aot/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ConstantsLoadError is returned by Library.Run when the constants side-file exists but can't be read:
// it is corrupt, has an incompatible version or is unreadable. Nothing is executed in that case.
type ConstantsLoadError struct {
	Path string
	Err  error
}

// Error implements error.
func (e *ConstantsLoadError) Error() string {
	return fmt.Sprintf("failed to load constants from %q: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConstantsLoadError) Unwrap() error { return e.Err }

// constants returns the buffers of the constants side-file, loading them on first use.
//
// A missing file or a file without the artifact.TensorListAttribute yields no constants. Only successful
// loads are cached, so a failed load is retried on the next call.
func (l *Library) constants() ([]*tensors.Tensor, []*buffer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.constantsLoaded {
		return l.constantTensors, l.constantBuffers, nil
	}

	list, err := artifact.ReadConstants(l.constantsPath, artifact.TensorListAttribute)
	switch {
	case err == nil:
		klog.V(1).Infof("loaded %d constants from %q", len(list), l.constantsPath)
	case errors.Is(err, os.ErrNotExist):
		klog.V(1).Infof("no constants file %q for %q, using no constants", l.constantsPath, l.path)
		list = nil
	case errors.Is(err, artifact.ErrAttributeNotFound):
		klog.Warningf("constants file %q has no attribute %q, using no constants", l.constantsPath,
			artifact.TensorListAttribute)
		list = nil
	default:
		klog.Errorf("failed to load constants for %q: %+v", l.path, err)
		return nil, nil, &ConstantsLoadError{Path: l.constantsPath, Err: err}
	}

	buffers := make([]*buffer, len(list))
	for ii, t := range list {
		buffers[ii], err = bufferFromTensor(t)
		if err != nil {
			err = errors.WithMessagef(err, "constant #%d", ii)
			klog.Errorf("failed to load constants for %q: %+v", l.path, err)
			return nil, nil, &ConstantsLoadError{Path: l.constantsPath, Err: err}
		}
	}
	l.constantTensors, l.constantBuffers = list, buffers
	l.constantsLoaded = true
	return list, buffers, nil
}
