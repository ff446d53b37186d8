// Package config handles the stackvm.toml run configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"stackvm/pkg/vm"
)

// FileName is the configuration file looked up next to the program.
const FileName = "stackvm.toml"

// Config is a stackvm.toml run configuration.
type Config struct {
	Limits Limits `toml:"limits"`
	Trace  Trace  `toml:"trace"`

	// Path is the file the configuration was read from (set at load time).
	Path string `toml:"-"`
}

// Limits bounds the machine.
type Limits struct {
	OperandStack int `toml:"operand_stack"`
	CallStack    int `toml:"call_stack"`
	MaxSteps     int `toml:"max_steps"`
}

// Trace configures trace output.
type Trace struct {
	Enabled bool   `toml:"enabled"`
	File    string `toml:"file"` // empty means stderr
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Limits: Limits{
			OperandStack: vm.DefaultStackLimit,
			CallStack:    vm.DefaultCallLimit,
		},
	}
}

// Load parses a configuration file. Missing limits keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	c := Default()
	if _, err := toml.Decode(string(data), c); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	c.Path = path

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// FindAndLoad loads stackvm.toml from dir if it exists, otherwise returns
// the defaults.
func FindAndLoad(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return Load(path)
}

// Validate rejects limits the machine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Limits.OperandStack < 1:
		return fmt.Errorf("limits.operand_stack must be positive, got %d", c.Limits.OperandStack)
	case c.Limits.CallStack < 1:
		return fmt.Errorf("limits.call_stack must be positive, got %d", c.Limits.CallStack)
	case c.Limits.MaxSteps < 0:
		return fmt.Errorf("limits.max_steps must not be negative, got %d", c.Limits.MaxSteps)
	}
	return nil
}

// Options converts the limits into machine options.
func (c *Config) Options() []vm.Option {
	return []vm.Option{
		vm.WithStackLimit(c.Limits.OperandStack),
		vm.WithCallLimit(c.Limits.CallStack),
		vm.WithMaxSteps(c.Limits.MaxSteps),
	}
}
