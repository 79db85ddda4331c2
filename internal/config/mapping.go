// Package config loads the GPIO name mapping used to locate the trigger line.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownGPIO is returned when a name has no complete chip/line entry.
var ErrUnknownGPIO = errors.New("no valid gpio mapping")

// LineRef identifies a GPIO line.
type LineRef struct {
	Chip uint
	Line uint
}

// entry is one mapping record. Pointers distinguish a missing key from zero.
type entry struct {
	Chip *uint `yaml:"chip"`
	Line *uint `yaml:"line"`
}

// Mapping maps GPIO names (e.g. "CAM0_TRIGGER") to chip and line numbers.
type Mapping map[string]entry

// LoadMapping reads a YAML mapping file of the form:
//
//	camera_trigger:
//	  chip: 0
//	  line: 17
func LoadMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gpio mapping: %w", err)
	}
	return ParseMapping(data)
}

// ParseMapping decodes mapping YAML.
func ParseMapping(data []byte) (Mapping, error) {
	m := Mapping{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal gpio mapping: %w", err)
	}
	return m, nil
}

// Resolve returns the chip and line for name. It has no side effects.
func (m Mapping) Resolve(name string) (LineRef, error) {
	e, ok := m[name]
	if !ok || e.Chip == nil || e.Line == nil {
		return LineRef{}, fmt.Errorf("%w for %q", ErrUnknownGPIO, name)
	}
	return LineRef{Chip: *e.Chip, Line: *e.Line}, nil
}

// Names returns the mapped names in sorted order.
func (m Mapping) Names() []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
