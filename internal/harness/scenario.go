package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a multi-device sync scenario.
// Every device has its own local store and engine; all of them share one
// in-memory remote and one fake clock.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the fake clock's initial time (RFC3339). Defaults to
	// DefaultStart.
	Start string `yaml:"start,omitempty"`

	// Devices lists the device names. Steps refer to them.
	Devices []string `yaml:"devices"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultStart is used when a scenario has no start time.
const DefaultStart = "2026-03-01T09:00:00Z"

// Step runs one operation on one device.
type Step struct {
	Device string `yaml:"device"`

	// Do is the operation; see the Step* constants.
	Do string `yaml:"do"`

	// Args are the operation arguments. Entity references (entity, parent,
	// leaf) name an earlier step's "as" label.
	Args map[string]any `yaml:"args,omitempty"`

	// Expect is the expected outcome: "ok" or an error name. Empty skips
	// the check.
	Expect string `yaml:"expect,omitempty"`
}

// Step operations.
const (
	StepPlant   = "plant"
	StepWater   = "water"
	StepHarvest = "harvest"
	StepUproot  = "uproot"
	StepReflect = "reflect"
	StepLeaf    = "leaf"

	StepSync     = "sync"
	StepFullSync = "full_sync"
	StepRetry    = "retry"
	StepErase    = "erase"

	StepOffline      = "offline"
	StepOnline       = "online"
	StepAdvance      = "advance"
	StepFailInsert   = "fail_insert"
	StepLoseResponse = "lose_response"
)

var knownSteps = []string{
	StepPlant, StepWater, StepHarvest, StepUproot, StepReflect, StepLeaf,
	StepSync, StepFullSync, StepRetry, StepErase,
	StepOffline, StepOnline, StepAdvance, StepFailInsert, StepLoseResponse,
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Device is the device inspected (soil, entity, pending, reflections).
	Device string `yaml:"device,omitempty"`

	// Devices lists the devices compared by converged. Empty means all.
	Devices []string `yaml:"devices,omitempty"`

	// Ref names an entity by its "as" label (entity).
	Ref string `yaml:"ref,omitempty"`

	// State is the expected lifecycle (entity).
	State string `yaml:"state,omitempty"`

	// Watered is the expected progress count (entity).
	Watered *int `yaml:"watered,omitempty"`

	// Available and Capacity are the expected soil (soil).
	Available *float64 `yaml:"available,omitempty"`
	Capacity  *float64 `yaml:"capacity,omitempty"`

	// Step and Outcome filter trace_count; Outcome is optional.
	Step    string `yaml:"step,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number (pending, remote_rows, reflections,
	// trace_count).
	Count int `yaml:"count"`
}

// Assertion type constants.
const (
	AssertSoil        = "soil"
	AssertEntity      = "entity"
	AssertPending     = "pending"
	AssertReflections = "reflections"
	AssertRemoteRows  = "remote_rows"
	AssertConverged   = "converged"
	AssertTraceCount  = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Start != "" {
		if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	if len(s.Devices) == 0 {
		return fmt.Errorf("devices list is required and must be non-empty")
	}
	seen := make(map[string]bool, len(s.Devices))
	for _, d := range s.Devices {
		if d == "" {
			return fmt.Errorf("device names must be non-empty")
		}
		if seen[d] {
			return fmt.Errorf("duplicate device %q", d)
		}
		seen[d] = true
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if !seen[step.Device] {
			return fmt.Errorf("steps[%d]: unknown device %q", i, step.Device)
		}
		if !slices.Contains(knownSteps, step.Do) {
			return fmt.Errorf("steps[%d]: unknown operation %q", i, step.Do)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i], seen); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, devices map[string]bool) error {
	needDevice := func() error {
		if !devices[a.Device] {
			return fmt.Errorf("assertions[%d]: %s needs a known device, got %q", index, a.Type, a.Device)
		}
		return nil
	}

	switch a.Type {
	case AssertSoil:
		if err := needDevice(); err != nil {
			return err
		}
		if a.Available == nil && a.Capacity == nil {
			return fmt.Errorf("assertions[%d]: soil needs available or capacity", index)
		}
	case AssertEntity:
		if err := needDevice(); err != nil {
			return err
		}
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for entity", index)
		}
	case AssertPending, AssertReflections:
		if err := needDevice(); err != nil {
			return err
		}
	case AssertConverged:
		for _, d := range a.Devices {
			if !devices[d] {
				return fmt.Errorf("assertions[%d]: unknown device %q", index, d)
			}
		}
	case AssertRemoteRows:
	case AssertTraceCount:
		if a.Step == "" {
			return fmt.Errorf("assertions[%d]: step is required for trace_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
