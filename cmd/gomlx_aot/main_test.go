// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/aot/pkg/aot/aottest"
	"github.com/gomlx/aot/pkg/ml/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with the given arguments and returns its standard output.
func execute(t *testing.T, args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDemos(t *testing.T) {
	for _, name := range demoNames() {
		t.Run(name, func(t *testing.T) {
			d, err := lookupDemo(name)
			require.NoError(t, err)
			m, inputs := d.build(1)
			_, err = model.Call(m, inputs...)
			require.NoError(t, err)
		})
	}
	_, err := lookupDemo("nope")
	require.Error(t, err)
}

func TestCompileAndInspect(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, "compile", "--model=add_linear", "--output_dir="+dir)
	require.NoError(t, err)
	artifactPath := filepath.Join(dir, "add_linear.gmxa")
	assert.Contains(t, out, artifactPath)
	assert.FileExists(t, artifactPath)

	out, err = execute(t, "inspect", artifactPath)
	require.NoError(t, err)
	for _, want := range []string{"Arguments", "Instructions", "Dot", "fc.weight"} {
		assert.Contains(t, out, want)
	}

	out, err = execute(t, "inspect", "--listing", artifactPath)
	require.NoError(t, err)
	assert.Contains(t, out, `program "add_linear"`)

	_, err = execute(t, "inspect", filepath.Join(dir, "missing.gmxa"))
	require.Error(t, err)
}

func TestCompileWithConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "aot.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("name: custom\ncomment_origin: true\n"), 0o644))
	_, err := execute(t, "compile", "--model=sin_mm_cos", "--config="+cfgPath, "--output_dir="+dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "custom.gmxa"))

	require.NoError(t, os.WriteFile(cfgPath, []byte("unknown_field: 1\n"), 0o644))
	_, err = execute(t, "compile", "--config="+cfgPath, "--output_dir="+dir)
	require.Error(t, err)
}

func TestCheck(t *testing.T) {
	for _, name := range demoNames() {
		t.Run(name, func(t *testing.T) {
			out, err := execute(t, "check", "--model="+name, "--output_dir="+t.TempDir(), "--parallelism=2")
			require.NoError(t, err)
			assert.Contains(t, out, aottest.StatePass.String())
			assert.Contains(t, out, "outputs match")
		})
	}
	_, err := execute(t, "check", "--model=unknown")
	require.Error(t, err)
}

func TestBenchLayout(t *testing.T) {
	tracePath := filepath.Join(t.TempDir(), "chrome.json")
	out, err := execute(t, "bench-layout", "--preset=small", "--trace="+tracePath, "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "speedup")
	assert.FileExists(t, tracePath)

	_, err = execute(t, "bench-layout", "--preset=huge")
	require.Error(t, err)

	out, err = execute(t, "bench-layout", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "The default preset takes minutes")
	assert.Contains(t, out, "2.3e+10")
}
