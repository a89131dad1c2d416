// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package aot

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config of a compilation. The zero value is not valid, start from DefaultConfig.
type Config struct {
	// OutputDir where the artifact is written. If empty, a new directory "gomlx_aot_<uuid>" is created
	// in os.TempDir().
	OutputDir string `yaml:"output_dir"`

	// Name of the artifact: the program file is "<OutputDir>/<Name>.gmxa".
	Name string `yaml:"name"`

	// InlineConstants stores all constants in the program file. By default only scalar constants are
	// inlined, the others are written to the constants side-file.
	InlineConstants bool `yaml:"inline_constants"`

	// FuseTransposedMatMul lowers MatMul(a, Transpose(b)) to one MatMul reading b transposed.
	FuseTransposedMatMul bool `yaml:"fuse_transposed_matmul"`

	// CommentOrigin annotates each instruction with the id of the graph node it was lowered from, as "seq_nr:<id>".
	CommentOrigin bool `yaml:"comment_origin"`

	// Parallelism is the default number of workers of the native runtime, stored in the artifact.
	// 0 means the number of CPUs.
	Parallelism int `yaml:"parallelism"`
}

// DefaultConfig returns the default compilation configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:                 "model",
		FuseTransposedMatMul: true,
	}
}

// LoadConfig reads a YAML configuration file. Fields not given keep their default values.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening configuration %q", path)
	}
	defer func() { _ = f.Close() }()
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing configuration %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "configuration %q", path)
	}
	return cfg, nil
}

// Validate the configuration.
func (c *Config) Validate() error {
	if c.Name == "" || filepath.Base(c.Name) != c.Name {
		return errors.Errorf("invalid artifact name %q: it must be a non-empty file name, without directories", c.Name)
	}
	if c.Parallelism < 0 {
		return errors.Errorf("invalid parallelism %d", c.Parallelism)
	}
	return nil
}

// outputDir returns the output directory, creating it if needed.
func (c *Config) outputDir() (string, error) {
	dir := c.OutputDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "gomlx_aot_"+uuid.NewString())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "creating output directory %q", dir)
	}
	return dir, nil
}
