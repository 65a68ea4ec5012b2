package codegen

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/require"

	"github.com/secondsky/mcp-orchestrator/internal/catalog"
	"github.com/secondsky/mcp-orchestrator/internal/registry"
)

func weatherEntry() registry.ServerEntry {
	return registry.ServerEntry{
		ID:      "weather",
		Title:   "Weather Service",
		Version: "1.2.0",
	}
}

func forecastSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"city": {Type: "string"},
			"days": {Type: "integer"},
			"units": {
				Type: "string",
				Enum: []any{"metric", "imperial"},
			},
		},
		Required: []string{"city"},
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	tools := []catalog.ToolInfo{
		{Name: "get-forecast", Description: "Fetch a forecast.", InputSchema: forecastSchema()},
		{Name: "alerts", InputSchema: &jsonschema.Schema{Type: "object"}},
	}

	out, err := Generate(weatherEntry(), tools, Options{})
	require.NoError(t, err)

	require.Contains(t, out, `import { invoke } from "./orchestrator";`)
	require.Contains(t, out, `MCP server "weather" (Weather Service)`)

	// Sorted by tool name, so alerts renders before get-forecast.
	require.Less(t, strings.Index(out, "alerts"), strings.Index(out, "getForecast"))
	require.NotEqual(t, -1, strings.Index(out, "alerts"))

	require.Contains(t, out, "/** Fetch a forecast. */")
	require.Contains(t, out,
		`export async function getForecast(args: { city: string; days?: number; units?: "metric" | "imperial" }): Promise<unknown> {`)
	require.Contains(t, out, `return invoke("weather", "get-forecast", args);`)

	// Empty object schemas fall back to a loose record type.
	require.Contains(t, out,
		"export async function alerts(args: Record<string, unknown>): Promise<unknown> {")
}

func TestGenerate_InvokeImportOverride(t *testing.T) {
	t.Parallel()

	out, err := Generate(weatherEntry(), nil, Options{InvokeImport: "@acme/mcp"})
	require.NoError(t, err)
	require.Contains(t, out, `import { invoke } from "@acme/mcp";`)
}

func TestGenerate_NameCollisions(t *testing.T) {
	t.Parallel()

	tools := []catalog.ToolInfo{
		{Name: "get-data"},
		{Name: "get_data"},
	}

	out, err := Generate(weatherEntry(), tools, Options{})
	require.NoError(t, err)

	require.Contains(t, out, "export async function getData(")
	require.Contains(t, out, "export async function getData2(")
}

func TestGenerate_Deterministic(t *testing.T) {
	t.Parallel()

	tools := []catalog.ToolInfo{
		{Name: "b-tool", InputSchema: forecastSchema()},
		{Name: "a-tool"},
	}

	first, err := Generate(weatherEntry(), tools, Options{})
	require.NoError(t, err)

	second, err := Generate(weatherEntry(), tools, Options{})
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestGenerateManifest(t *testing.T) {
	t.Parallel()

	tools := []catalog.ToolInfo{
		{Name: "get-forecast", Description: "Fetch a forecast.", InputSchema: forecastSchema()},
		{Name: "alerts"},
	}

	raw, err := GenerateManifest(weatherEntry(), tools)
	require.NoError(t, err)

	var manifest Manifest
	require.NoError(t, json.Unmarshal(raw, &manifest))

	require.Equal(t, "weather", manifest.Server)
	require.Equal(t, "Weather Service", manifest.Title)
	require.Equal(t, "1.2.0", manifest.Version)
	require.Len(t, manifest.Tools, 2)

	require.Equal(t, "alerts", manifest.Tools[0].Name)
	require.Nil(t, manifest.Tools[0].InputSchema)

	forecast := manifest.Tools[1]
	require.Equal(t, "get-forecast", forecast.Name)
	require.Equal(t, "object", forecast.InputSchema["type"])

	props, ok := forecast.InputSchema["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "city")
}

func TestFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"get-forecast", "getForecast"},
		{"get_weather_data", "getWeatherData"},
		{"ping", "ping"},
		{"fs.read file", "fsReadFile"},
		{"2fa-verify", "_2faVerify"},
		{"", "tool"},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, funcName(tt.in), "input %q", tt.in)
	}
}

func TestTSType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		schema *jsonschema.Schema
		want   string
	}{
		{"nil schema", nil, "Record<string, unknown>"},
		{"string", &jsonschema.Schema{Type: "string"}, "string"},
		{"integer", &jsonschema.Schema{Type: "integer"}, "number"},
		{"boolean", &jsonschema.Schema{Type: "boolean"}, "boolean"},
		{
			"string array",
			&jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}},
			"string[]",
		},
		{
			"enum",
			&jsonschema.Schema{Type: "string", Enum: []any{"a", "b"}},
			`"a" | "b"`,
		},
		{
			"quoted property",
			&jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"content-type": {Type: "string"},
				},
			},
			`{ "content-type"?: string }`,
		},
		{"unknown type", &jsonschema.Schema{Type: "blob"}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.want, tsType(tt.schema, 1))
		})
	}
}
