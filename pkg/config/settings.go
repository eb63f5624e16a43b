// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config holds the hyperparameters of the augmentation and sample generation as a set of named
// settings with typed default values, that can be changed from the command line ("k=v;k=v"), from
// settings files or from TOML files.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Settings is an ordered set of named parameters. The type of each parameter is set by its default value,
// and can't be changed.
type Settings struct {
	names  []string
	values map[string]any
	usages map[string]string
}

// NewSettings returns an empty Settings.
func NewSettings() *Settings {
	return &Settings{values: make(map[string]any), usages: make(map[string]string)}
}

// Define a parameter with its default value. The supported types are int, uint64, float64, bool, string,
// []int, []float64 and []string. Redefining a parameter replaces its value.
func (s *Settings) Define(name string, defaultValue any, usage string) *Settings {
	if _, found := s.values[name]; !found {
		s.names = append(s.names, name)
	}
	s.values[name] = defaultValue
	s.usages[name] = usage
	return s
}

// Names returns the parameter names, in the order they were defined.
func (s *Settings) Names() []string { return slices.Clone(s.names) }

// Get returns the value of a parameter.
func (s *Settings) Get(name string) (value any, found bool) {
	value, found = s.values[name]
	return
}

// Set the value of a known parameter. It must have the same type as its default.
func (s *Settings) Set(name string, value any) error {
	current, found := s.values[name]
	if !found {
		return errors.Errorf("unknown parameter %q", name)
	}
	if fmt.Sprintf("%T", current) != fmt.Sprintf("%T", value) {
		return errors.Errorf("parameter %q is of type %T, can't set it to %#v (%T)", name, current, value, value)
	}
	s.values[name] = value
	return nil
}

// GetOr returns the value of the parameter converted to T, or defaultValue if the parameter is not
// defined or has a different type.
func GetOr[T any](s *Settings, name string, defaultValue T) T {
	value, found := s.values[name]
	if !found {
		return defaultValue
	}
	typed, ok := value.(T)
	if !ok {
		return defaultValue
	}
	return typed
}

// Parse settings in the form "param1=value1;param2=value2;...", typically the value of a flag.
//
// Values are parsed according to the type of the parameter default value. For integers "_" can be used as
// a separator (1_000_000). Lists are separated by ",". An entry "file:<path>" reads settings from a file:
// TOML files (".toml") are decoded with LoadTOML, other files hold one or more settings per line
// (separated by ";"), and lines starting with "#" are comments.
//
// It returns the list of parameters set, in order, and fails on unknown parameters or unparsable values.
func (s *Settings) Parse(settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = s.parseSetting(setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func (s *Settings) parseSetting(setting string, paramsSet []string) ([]string, error) {
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return paramsSet, nil
	}
	if filePath, isFile := strings.CutPrefix(setting, "file:"); isFile {
		filePath, err := fsutil.ReplaceTildeInDir(filePath)
		if err != nil {
			return paramsSet, err
		}
		if strings.HasSuffix(filePath, ".toml") {
			set, err := s.LoadTOML(filePath)
			return append(paramsSet, set...), err
		}
		contents, err := os.ReadFile(filePath)
		if err != nil {
			return paramsSet, errors.Wrapf(err, "failed to read settings from file %q", filePath)
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, lineSetting := range strings.Split(line, ";") {
				paramsSet, err = s.parseSetting(lineSetting, paramsSet)
				if err != nil {
					return paramsSet, errors.WithMessagef(err, "in settings file %q", filePath)
				}
			}
		}
		return paramsSet, nil
	}

	name, valueStr, found := strings.Cut(setting, "=")
	if !found {
		return paramsSet, errors.Errorf("can't parse setting %q: each setting requires the format \"<param>=<value>\"", setting)
	}
	name, valueStr = strings.TrimSpace(name), strings.TrimSpace(valueStr)
	current, found := s.values[name]
	if !found {
		return paramsSet, errors.Errorf("can't set parameter %q: unknown parameter, see -help for the list of parameters", name)
	}
	value, err := parseValue(current, valueStr)
	if err != nil {
		return paramsSet, errors.Wrapf(err, "failed to parse value %q for parameter %q (default value is %#v)",
			valueStr, name, current)
	}
	s.values[name] = value
	return append(paramsSet, name), nil
}

// parseValue parses valueStr to the type of current.
func parseValue(current any, valueStr string) (value any, err error) {
	switch v := current.(type) {
	case int:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case uint64:
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		value = v
	case float64:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case bool:
		err = json.Unmarshal([]byte(valueStr), &v)
		value = v
	case string:
		value = valueStr
	case []string:
		value = splitList(valueStr)
	case []int:
		value = xslices.Map(splitList(valueStr), func(str string) int {
			var asInt int
			if newErr := json.Unmarshal([]byte(strings.ReplaceAll(str, "_", "")), &asInt); newErr != nil {
				err = newErr
			}
			return asInt
		})
	case []float64:
		value = xslices.Map(splitList(valueStr), func(str string) float64 {
			var asNum float64
			if newErr := json.Unmarshal([]byte(str), &asNum); newErr != nil {
				err = newErr
			}
			return asNum
		})
	default:
		err = errors.Errorf("don't know how to parse type %T", current)
	}
	return
}

// splitList splits a comma separated list, an empty string is an empty list.
func splitList(valueStr string) []string {
	if valueStr == "" {
		return []string{}
	}
	parts := strings.Split(valueStr, ",")
	for ii, part := range parts {
		parts[ii] = strings.TrimSpace(part)
	}
	return parts
}

// LoadTOML sets parameters from a TOML file with top-level "key = value" entries. Tables are not supported.
//
// It returns the list of parameters set, in the order they are defined.
func (s *Settings) LoadTOML(path string) (paramsSet []string, err error) {
	var raw map[string]any
	if _, err = toml.DecodeFile(path, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to parse TOML settings file %q", path)
	}
	for _, name := range s.names {
		rawValue, found := raw[name]
		if !found {
			continue
		}
		value, convErr := fromTOML(s.values[name], rawValue)
		if convErr != nil {
			return paramsSet, errors.WithMessagef(convErr, "parameter %q in %q", name, path)
		}
		s.values[name] = value
		paramsSet = append(paramsSet, name)
		delete(raw, name)
	}
	if len(raw) > 0 {
		return paramsSet, errors.Errorf("unknown parameters in %q: %v", path, xslices.SortedKeys(raw))
	}
	return paramsSet, nil
}

// fromTOML converts a decoded TOML value (int64, float64, bool, string or []any) to the type of current.
func fromTOML(current, raw any) (any, error) {
	mismatch := func() error {
		return errors.Errorf("TOML value %#v (%T) doesn't match the parameter type %T", raw, raw, current)
	}
	toFloat := func(v any) (float64, bool) {
		switch n := v.(type) {
		case int64:
			return float64(n), true
		case float64:
			return n, true
		}
		return 0, false
	}
	switch current.(type) {
	case int:
		if n, ok := raw.(int64); ok {
			return int(n), nil
		}
	case uint64:
		if n, ok := raw.(int64); ok && n >= 0 {
			return uint64(n), nil
		}
	case float64:
		if f, ok := toFloat(raw); ok {
			return f, nil
		}
	case bool:
		if b, ok := raw.(bool); ok {
			return b, nil
		}
	case string:
		if str, ok := raw.(string); ok {
			return str, nil
		}
	case []int, []float64, []string:
		list, ok := raw.([]any)
		if !ok {
			return nil, mismatch()
		}
		switch current.(type) {
		case []int:
			out := make([]int, len(list))
			for ii, e := range list {
				n, ok := e.(int64)
				if !ok {
					return nil, mismatch()
				}
				out[ii] = int(n)
			}
			return out, nil
		case []float64:
			out := make([]float64, len(list))
			for ii, e := range list {
				if out[ii], ok = toFloat(e); !ok {
					return nil, mismatch()
				}
			}
			return out, nil
		default:
			out := make([]string, len(list))
			for ii, e := range list {
				if out[ii], ok = e.(string); !ok {
					return nil, mismatch()
				}
			}
			return out, nil
		}
	}
	return nil, mismatch()
}

// CreateFlag creates a string flag (named "set" if flagName is empty) in the default flag set, with a
// description of the defined parameters. Its value should be given to Parse after flag.Parse().
func (s *Settings) CreateFlag(flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{
		`Set augmentation parameters. ` +
			`It should be a list of elements "param=value" separated by ";". ` +
			`It can also be given an entry like: "file:settings_file.txt" (or a ".toml" file), in ` +
			`which case the file will be read and the settings will be parsed, ` +
			`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. ` +
			`Current available parameters that can be set:`,
	}
	for _, name := range s.names {
		parts = append(parts, fmt.Sprintf("%q: %s (default value is %v)", name, s.usages[name], s.values[name]))
	}
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// Sprint pretty-prints all parameters and their values.
func (s *Settings) Sprint() string {
	parts := make([]string, 0, len(s.names))
	for _, name := range s.names {
		value := s.values[name]
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", name, value, value))
	}
	return strings.Join(parts, "\n")
}

// SprintModified pretty-prints the parameters in paramsSet (sorted, without duplicates).
func (s *Settings) SprintModified(paramsSet []string) string {
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	paramsSet = slices.Compact(paramsSet)
	var parts []string
	for _, name := range paramsSet {
		value, found := s.values[name]
		if !found {
			continue
		}
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %v", name, value, value))
	}
	return strings.Join(parts, "\n")
}

// Map returns a copy of all the values, keyed by name.
func (s *Settings) Map() map[string]any {
	m := make(map[string]any, len(s.values))
	for name, value := range s.values {
		m[name] = value
	}
	return m
}
