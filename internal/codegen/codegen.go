// Package codegen renders callable client modules from live tool schemas.
//
// The output is a TypeScript module with one exported async function per
// tool, typed from the tool's JSON schema, calling back into the
// orchestrator over its invoke endpoint. Output is deterministic: tools
// are rendered sorted by name.
package codegen

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/secondsky/mcp-orchestrator/internal/catalog"
	"github.com/secondsky/mcp-orchestrator/internal/registry"
)

// Options configure generation.
type Options struct {
	// InvokeImport is the module the generated code imports its invoke
	// helper from. Defaults to "./orchestrator".
	InvokeImport string
}

// Manifest is a machine-readable description of a server's tools, for
// loaders that resolve modules dynamically instead of pasting code.
type Manifest struct {
	Server  string         `json:"server"`
	Title   string         `json:"title"`
	Version string         `json:"version,omitempty"`
	Tools   []ManifestTool `json:"tools"`
}

// ManifestTool is one tool in a Manifest.
type ManifestTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

const moduleTemplate = `// Generated client for MCP server "{{.ServerID}}" ({{.Title}}).
// Do not edit; regenerate when the server's tools change.
import { invoke } from "{{.InvokeImport}}";

{{range .Tools}}{{if .Doc}}/** {{.Doc}} */
{{end}}export async function {{.FuncName}}(args: {{.ArgsType}}): Promise<unknown> {
  return invoke("{{$.ServerID}}", "{{.ToolName}}", args);
}

{{end}}`

type templateTool struct {
	ToolName string
	FuncName string
	Doc      string
	ArgsType string
}

type templateData struct {
	ServerID     string
	Title        string
	InvokeImport string
	Tools        []templateTool
}

var moduleTmpl = template.Must(template.New("module").Parse(moduleTemplate))

// Generate renders the TypeScript client module for a server.
func Generate(entry registry.ServerEntry, tools []catalog.ToolInfo, opts Options) (string, error) {
	invokeImport := opts.InvokeImport
	if invokeImport == "" {
		invokeImport = "./orchestrator"
	}

	sorted := append([]catalog.ToolInfo(nil), tools...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	data := templateData{
		ServerID:     entry.ID,
		Title:        entry.Title,
		InvokeImport: invokeImport,
	}

	seen := make(map[string]int)

	for _, tool := range sorted {
		name := funcName(tool.Name)
		// Distinct tool names can collide after sanitizing; suffix repeats.
		if n := seen[name]; n > 0 {
			seen[name] = n + 1
			name = fmt.Sprintf("%s%d", name, n+1)
		} else {
			seen[name] = 1
		}

		data.Tools = append(data.Tools, templateTool{
			ToolName: tool.Name,
			FuncName: name,
			Doc:      strings.ReplaceAll(tool.Description, "*/", ""),
			ArgsType: tsType(tool.InputSchema, 1),
		})
	}

	var out strings.Builder
	if err := moduleTmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("render module for %q: %w", entry.ID, err)
	}

	return out.String(), nil
}

// GenerateManifest describes the server's tools as JSON.
func GenerateManifest(entry registry.ServerEntry, tools []catalog.ToolInfo) ([]byte, error) {
	manifest := Manifest{
		Server:  entry.ID,
		Title:   entry.Title,
		Version: entry.Version,
		Tools:   make([]ManifestTool, 0, len(tools)),
	}

	sorted := append([]catalog.ToolInfo(nil), tools...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, tool := range sorted {
		mt := ManifestTool{Name: tool.Name, Description: tool.Description}

		if tool.InputSchema != nil {
			raw, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("marshal schema for %s/%s: %w", entry.ID, tool.Name, err)
			}

			var m map[string]any
			if err := json.Unmarshal(raw, &m); err != nil {
				return nil, fmt.Errorf("reshape schema for %s/%s: %w", entry.ID, tool.Name, err)
			}

			mt.InputSchema = m
		}

		manifest.Tools = append(manifest.Tools, mt)
	}

	return json.MarshalIndent(manifest, "", "  ")
}

// funcName converts a tool name like "get-weather_data" to "getWeatherData".
func funcName(name string) string {
	var (
		out  strings.Builder
		next bool
	)

	for i, r := range name {
		switch {
		case r == '-' || r == '_' || r == '.' || r == ' ':
			next = true
		case next:
			out.WriteString(strings.ToUpper(string(r)))
			next = false
		case i == 0 && r >= '0' && r <= '9':
			out.WriteString("_" + string(r))
		default:
			out.WriteRune(r)
		}
	}

	if out.Len() == 0 {
		return "tool"
	}

	return out.String()
}

// maxTypeDepth bounds recursion into nested schemas; deeper levels decay
// to unknown.
const maxTypeDepth = 6

// tsType maps a JSON schema to a TypeScript type expression.
func tsType(schema *jsonschema.Schema, depth int) string {
	if schema == nil {
		return "Record<string, unknown>"
	}

	if depth > maxTypeDepth {
		return "unknown"
	}

	if len(schema.Enum) > 0 {
		return enumType(schema.Enum)
	}

	switch schema.Type {
	case "string":
		return "string"
	case "number", "integer":
		return "number"
	case "boolean":
		return "boolean"
	case "null":
		return "null"
	case "array":
		return tsType(schema.Items, depth+1) + "[]"
	case "object", "":
		return objectType(schema, depth)
	default:
		return "unknown"
	}
}

func objectType(schema *jsonschema.Schema, depth int) string {
	if len(schema.Properties) == 0 {
		return "Record<string, unknown>"
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}

	sort.Strings(names)

	var out strings.Builder

	out.WriteString("{ ")

	for i, name := range names {
		if i > 0 {
			out.WriteString("; ")
		}

		out.WriteString(propertyKey(name))

		if !required[name] {
			out.WriteString("?")
		}

		out.WriteString(": ")
		out.WriteString(tsType(schema.Properties[name], depth+1))
	}

	out.WriteString(" }")

	return out.String()
}

// propertyKey quotes property names that are not valid TS identifiers.
func propertyKey(name string) string {
	for i, r := range name {
		valid := r == '_' || r == '$' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(i > 0 && r >= '0' && r <= '9')
		if !valid {
			quoted, _ := json.Marshal(name)

			return string(quoted)
		}
	}

	if name == "" {
		return `""`
	}

	return name
}

func enumType(values []any) string {
	parts := make([]string, 0, len(values))

	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return "unknown"
		}

		parts = append(parts, string(raw))
	}

	return strings.Join(parts, " | ")
}
