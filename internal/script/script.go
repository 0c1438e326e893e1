// Package script loads test scripts: YAML files that declare a test catalog and the
// scripted lifecycle steps each test replays.
package script

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/testmaster/testmaster/internal/catalog"
	tmerrors "github.com/testmaster/testmaster/internal/errors"
	"github.com/testmaster/testmaster/internal/ledger"
)

// Keys inside a test node that describe execution rather than catalog structure.
const (
	KeySteps     = "steps"
	KeyExecOrder = "exec_order"
)

// OnceOnly is the exec order of tests that run a single time, without a unit.
const OnceOnly = -1

// ErrInvalid is returned for scripts that cannot be parsed.
var ErrInvalid = tmerrors.New(tmerrors.KindValidation, "invalid script")

// Step is one lifecycle event a test emits, followed by an optional pause.
type Step struct {
	Fields map[string]any
	Delay  time.Duration
}

// Event renders the step for unit as wire JSON. A unit of 0 leaves the unit index null.
func (s Step) Event(testName string, unit int) (json.RawMessage, error) {
	fields := make(map[string]any, len(s.Fields)+2)
	for k, v := range s.Fields {
		fields[k] = v
	}
	fields["test name"] = testName
	if unit > 0 {
		fields["unit index"] = unit
	} else {
		fields["unit index"] = nil
	}
	return json.Marshal(fields)
}

// Node is the execution metadata of one catalog node.
type Node struct {
	ExecOrder int
	Steps     []Step
}

// Script is one parsed script file.
type Script struct {
	Name                     string
	MultiUnitSupportedNumber int
	tests                    catalog.Mapping
	tree                     *catalog.Tree
	nodes                    map[string]Node
}

type file struct {
	MultiUnitSupportedNumber int       `yaml:"multi_unit_supported_number"`
	Tests                    yaml.Node `yaml:"tests"`
}

// Parse decodes and validates a script. Every step must decode as a lifecycle event once
// its test name and unit are filled in.
func Parse(name string, data []byte) (*Script, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
	}

	s := &Script{
		Name:                     name,
		MultiUnitSupportedNumber: f.MultiUnitSupportedNumber,
		tests:                    catalog.Mapping{},
		nodes:                    make(map[string]Node),
	}
	if s.MultiUnitSupportedNumber < 1 {
		s.MultiUnitSupportedNumber = 1
	}

	if f.Tests.Kind != 0 {
		m, err := catalog.FromYAML(&f.Tests, KeySteps, KeyExecOrder)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, name, err)
		}
		s.tests = m
		if err := s.collect(&f.Tests, ""); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, name, err)
		}
	}

	tree, err := catalog.Build(s.tests)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, name, err)
	}
	s.tree = tree
	return s, nil
}

// collect walks the tests mapping and records steps and exec order per node id.
func (s *Script) collect(node *yaml.Node, parent string) error {
	if node.Kind == yaml.AliasNode {
		node = node.Alias
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		switch k.Value {
		case KeySteps, KeyExecOrder:
			continue
		}

		id := k.Value
		if parent != "" {
			id = parent + catalog.Separator + k.Value
		}
		n, err := parseNode(id, v)
		if err != nil {
			return err
		}
		s.nodes[id] = n
		if err := s.collect(v, id); err != nil {
			return err
		}
	}
	return nil
}

func parseNode(id string, v *yaml.Node) (Node, error) {
	n := Node{ExecOrder: 1}
	if v.Kind != yaml.MappingNode {
		return n, nil
	}

	for i := 0; i+1 < len(v.Content); i += 2 {
		k, val := v.Content[i], v.Content[i+1]
		switch k.Value {
		case KeyExecOrder:
			if err := val.Decode(&n.ExecOrder); err != nil {
				return Node{}, fmt.Errorf("%s: exec_order: %v", id, err)
			}
			if n.ExecOrder < OnceOnly {
				return Node{}, fmt.Errorf("%s: exec_order %d below %d", id, n.ExecOrder, OnceOnly)
			}
		case KeySteps:
			var raw []map[string]any
			if err := val.Decode(&raw); err != nil {
				return Node{}, fmt.Errorf("%s: steps: %v", id, err)
			}
			for j, fields := range raw {
				step, err := parseStep(id, fields)
				if err != nil {
					return Node{}, fmt.Errorf("%s: step %d: %w", id, j, err)
				}
				n.Steps = append(n.Steps, step)
			}
		}
	}
	return n, nil
}

func parseStep(id string, fields map[string]any) (Step, error) {
	step := Step{Fields: make(map[string]any, len(fields))}
	for k, v := range fields {
		if k == "delay" {
			text, ok := v.(string)
			if !ok {
				return Step{}, fmt.Errorf("delay must be a duration string")
			}
			d, err := time.ParseDuration(text)
			if err != nil {
				return Step{}, fmt.Errorf("delay: %v", err)
			}
			step.Delay = d
			continue
		}
		step.Fields[k] = v
	}

	data, err := step.Event(id, 1)
	if err != nil {
		return Step{}, err
	}
	if _, err := ledger.DecodeEvent(data); err != nil {
		return Step{}, err
	}
	return step, nil
}

// Catalog returns the test hierarchy with execution keys removed.
func (s *Script) Catalog() catalog.Mapping {
	return s.tests
}

// Tree returns the built catalog tree.
func (s *Script) Tree() *catalog.Tree {
	return s.tree
}

// Node returns the execution metadata of id.
func (s *Script) Node(id string) (Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}
