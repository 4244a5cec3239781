package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "One device plants once"
devices: [a]
steps:
  - device: a
    do: plant
    args:
      title: tomatoes
      cost: 2.5
      as: tom
    expect: ok
assertions:
  - type: entity
    device: a
    ref: tom
    state: active
`

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Equal(t, "One device plants once", scenario.Description)
	assert.Equal(t, []string{"a"}, scenario.Devices)
	require.Len(t, scenario.Steps, 1)
	assert.Equal(t, StepPlant, scenario.Steps[0].Do)
	assert.Equal(t, "tomatoes", scenario.Steps[0].Args["title"])
	assert.Equal(t, 2.5, scenario.Steps[0].Args["cost"])
	assert.Equal(t, "ok", scenario.Steps[0].Expect)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, "tom", scenario.Assertions[0].Ref)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_Testdata(t *testing.T) {
	files, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, f := range files {
		t.Run(filepath.Base(f), func(t *testing.T) {
			scenario, err := LoadScenario(f)
			require.NoError(t, err)
			assert.Equal(t, filepath.Base(f), scenario.Name+".yaml")
		})
	}
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "\nflow: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_OptionalFields(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: opt
description: d
start: 2026-04-01T06:00:00Z
devices: [a]
steps:
  - {device: a, do: advance, args: {by: 1h}}
assertions:
  - {type: soil, device: a, available: 10}
  - {type: entity, device: a, ref: x, watered: 0}
`))
	require.NoError(t, err)
	assert.Equal(t, "2026-04-01T06:00:00Z", scenario.Start)
	assert.Empty(t, scenario.Steps[0].Expect)

	soil := scenario.Assertions[0]
	require.NotNil(t, soil.Available)
	assert.Equal(t, 10.0, *soil.Available)
	assert.Nil(t, soil.Capacity)

	require.NotNil(t, scenario.Assertions[1].Watered)
	assert.Equal(t, 0, *scenario.Assertions[1].Watered)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\ndevices: [a]\nsteps: [{device: a, do: sync}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\ndevices: [a]\nsteps: [{device: a, do: sync}]",
			wantErr: "description is required",
		},
		{
			name:    "bad start",
			yaml:    "name: n\ndescription: d\nstart: yesterday\ndevices: [a]\nsteps: [{device: a, do: sync}]",
			wantErr: "start",
		},
		{
			name:    "no devices",
			yaml:    "name: n\ndescription: d\nsteps: [{device: a, do: sync}]",
			wantErr: "devices list is required",
		},
		{
			name:    "duplicate device",
			yaml:    "name: n\ndescription: d\ndevices: [a, a]\nsteps: [{device: a, do: sync}]",
			wantErr: `duplicate device "a"`,
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\ndevices: [a]",
			wantErr: "steps list is required",
		},
		{
			name:    "step on unknown device",
			yaml:    "name: n\ndescription: d\ndevices: [a]\nsteps: [{device: b, do: sync}]",
			wantErr: `steps[0]: unknown device "b"`,
		},
		{
			name:    "unknown operation",
			yaml:    "name: n\ndescription: d\ndevices: [a]\nsteps: [{device: a, do: prune}]",
			wantErr: `steps[0]: unknown operation "prune"`,
		},
		{
			name:    "assertion without type",
			yaml:    "name: n\ndescription: d\ndevices: [a]\nsteps: [{device: a, do: sync}]\nassertions: [{count: 1}]",
			wantErr: "assertions[0]: type is required",
		},
		{
			name:    "unknown assertion type",
			yaml:    "name: n\ndescription: d\ndevices: [a]\nsteps: [{device: a, do: sync}]\nassertions: [{type: harvest_count}]",
			wantErr: `unknown assertion type "harvest_count"`,
		},
		{
			name:    "soil without values",
			yaml:    "name: n\ndescription: d\ndevices: [a]\nsteps: [{device: a, do: sync}]\nassertions: [{type: soil, device: a}]",
			wantErr: "soil needs available or capacity",
		},
		{
			name:    "entity without ref",
			yaml:    "name: n\ndescription: d\ndevices: [a]\nsteps: [{device: a, do: sync}]\nassertions: [{type: entity, device: a}]",
			wantErr: "ref is required",
		},
		{
			name:    "pending on unknown device",
			yaml:    "name: n\ndescription: d\ndevices: [a]\nsteps: [{device: a, do: sync}]\nassertions: [{type: pending, device: z}]",
			wantErr: "pending needs a known device",
		},
		{
			name:    "converged with unknown device",
			yaml:    "name: n\ndescription: d\ndevices: [a]\nsteps: [{device: a, do: sync}]\nassertions: [{type: converged, devices: [a, z]}]",
			wantErr: `unknown device "z"`,
		},
		{
			name:    "trace_count without step",
			yaml:    "name: n\ndescription: d\ndevices: [a]\nsteps: [{device: a, do: sync}]\nassertions: [{type: trace_count, count: 1}]",
			wantErr: "step is required",
		},
		{
			name:    "negative count",
			yaml:    "name: n\ndescription: d\ndevices: [a]\nsteps: [{device: a, do: sync}]\nassertions: [{type: remote_rows, count: -1}]",
			wantErr: "count must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
