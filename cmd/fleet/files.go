package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cuemby/fleet/pkg/types"
	"github.com/cuemby/fleet/pkg/upgrade"
	"gopkg.in/yaml.v3"
)

// readYAML reads a yaml (or json) file and re-encodes it as json, so the
// domain types decode it with their json field matching
func readYAML(filename string) ([]byte, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %v", err)
	}

	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %v", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%s is empty", filename)
	}
	return json.Marshal(doc)
}

// loadUniverse reads a universe definition
func loadUniverse(filename string) (*types.Universe, error) {
	data, err := readYAML(filename)
	if err != nil {
		return nil, err
	}
	var u types.Universe
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("invalid universe in %s: %v", filename, err)
	}
	return &u, nil
}

// loadParams reads task parameters; force overrides the file's force setting when set
func loadParams(filename string, force bool) (json.RawMessage, error) {
	data, err := readYAML(filename)
	if err != nil {
		return nil, err
	}
	params, err := upgrade.DecodeParams(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", filename, err)
	}
	if force {
		params.Force = true
	}
	return params.Encode()
}

// printYAML writes v to stdout as yaml
func printYAML(v interface{}) error {
	// Round-trip through json so field names match what the API serves
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(doc)
}
