package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"intellibotic/internal/domain/flow"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func sampleJSON(t *testing.T) string {
	t.Helper()
	data, err := flow.Marshal(flow.Sample())
	require.NoError(t, err)
	return writeFile(t, "sample.json", string(data))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

const sampleYAML = `nodes:
  - id: s
    kind: start
    label: Start
    position: {x: 250, y: 50}
  - id: ask
    kind: user_input
    label: Ask
    data:
      prompt: Ready?
      variable: answer
  - id: check
    kind: condition
    data:
      expression: answer is "yes"
  - id: "yes"
    kind: message
    data: {text: Great}
  - id: "no"
    kind: message
    data: {text: Maybe later}
edges:
  - {id: e1, source: s, target: ask}
  - {id: e2, source: ask, target: check}
  - {id: e3, source: check, target: "yes", sourceHandle: "true"}
  - {id: e4, source: check, target: "no", sourceHandle: "false"}
viewport: {x: 0, y: 0, zoom: 1}
`

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "validate", sampleJSON(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Flow is valid ✅ (5 nodes, 4 edges, 0 warnings)")

	out, err = execute(t, "validate", writeFile(t, "flow.yaml", sampleYAML))
	require.NoError(t, err)
	assert.Contains(t, out, "(5 nodes, 4 edges, 0 warnings)")
}

func TestValidateReportsFatalIssues(t *testing.T) {
	path := writeFile(t, "broken.json", `{"nodes":[{"id":"m","kind":"message"}],"edges":[{"id":"x","source":"m","target":"ghost"}]}`)
	out, err := execute(t, "validate", path)
	require.ErrorIs(t, err, errFatalIssues)
	assert.Contains(t, out, "[fatal] MissingStartNode")
	assert.Contains(t, out, "[fatal] DanglingEdge")
}

func TestValidateWarnings(t *testing.T) {
	path := writeFile(t, "warn.json", `{"nodes":[{"id":"s","kind":"start"},{"id":"c","kind":"condition"},{"id":"m","kind":"message"}],
		"edges":[{"id":"e1","source":"s","target":"c"},{"id":"e2","source":"c","target":"m","sourceHandle":"true"}]}`)
	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[warning] IncompleteBranch c")
	assert.Contains(t, out, "1 warnings")
}

func TestRenderCommand(t *testing.T) {
	out, err := execute(t, "render", sampleJSON(t), "--visited", "1,2", "--current", "2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, `2[/"Ask name"/]`)
	assert.Contains(t, out, "class 2 current;")
}

func TestWalkCommand(t *testing.T) {
	path := sampleJSON(t)

	tests := []struct {
		name    string
		args    []string
		want    []string
		outcome string
		wantErr bool
	}{
		{name: "all branches", args: nil, want: []string{"1", "2", "3", "4", "5"}, outcome: "completed"},
		{name: "true branch", args: []string{"--branch", "3=true"}, want: []string{"1", "2", "3", "4"}, outcome: "completed"},
		{name: "start at", args: []string{"--start-at", "3", "--branch", "3=false"}, want: []string{"3", "5"}, outcome: "completed"},
		{name: "acyclic ignores step limit", args: []string{"--max-steps", "2"}, want: []string{"1", "2", "3", "4", "5"}, outcome: "completed"},
		{name: "missing branch", args: []string{"--branch", "9=true"}, want: []string{"1", "2", "3"}, outcome: "failed", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"walk", path}, tt.args...)...)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}

			var ids []string
			for _, line := range strings.Split(out, "\n") {
				fields := strings.Fields(line)
				if len(fields) >= 2 && strings.HasSuffix(fields[0], ".") {
					ids = append(ids, fields[1])
				}
			}
			assert.Equal(t, tt.want, ids)
			assert.Contains(t, out, "outcome: "+tt.outcome)
		})
	}

	_, err := execute(t, "walk", path, "--start-at", "ghost")
	assert.ErrorIs(t, err, flow.ErrNotFound)
}

func TestWalkCommandLoop(t *testing.T) {
	g := flow.Sample()
	_, err := g.AddEdge(flow.Edge{Source: "5", Target: "2"})
	require.NoError(t, err)
	data, err := flow.Marshal(g)
	require.NoError(t, err)
	path := writeFile(t, "loop.json", string(data))

	out, err := execute(t, "walk", path, "--branch", "3=false", "--max-steps", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "  5. 2 [user_input]")
	assert.Contains(t, out, "outcome: step_limit_exceeded")
}

func TestConvertCommand(t *testing.T) {
	yamlPath := writeFile(t, "flow.yml", sampleYAML)

	out, err := execute(t, "convert", yamlPath, "--to", "json")
	require.NoError(t, err)
	g, err := flow.Unmarshal([]byte(out))
	require.NoError(t, err)
	nodes, edges := g.Len()
	assert.Equal(t, 5, nodes)
	assert.Equal(t, 4, edges)

	out, err = execute(t, "convert", sampleJSON(t), "--to", "yaml")
	require.NoError(t, err)
	var doc flow.Document
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	assert.Len(t, doc.Nodes, 5)
	require.Len(t, doc.Edges, 4)
	assert.Nil(t, doc.Edges[0].SourceHandle)
	require.NotNil(t, doc.Edges[2].SourceHandle)
	assert.Equal(t, "true", *doc.Edges[2].SourceHandle)

	_, err = execute(t, "convert", sampleJSON(t), "--to", "xml")
	assert.Error(t, err)
}

func TestConvertLegacyAndEnvelope(t *testing.T) {
	legacy := writeFile(t, "legacy.json", `{"name":"old","version":"1.0.0",
		"nodes":[{"id":"hello","type":"response","message":"Hi"}],
		"flows":{}}`)
	out, err := execute(t, "convert", legacy)
	require.NoError(t, err)
	g, err := flow.Unmarshal([]byte(out))
	require.NoError(t, err)
	start, ok := g.Start()
	require.True(t, ok)
	assert.Len(t, g.Outgoing(start.ID), 1)

	legacyYAML := writeFile(t, "legacy.yaml", "name: old\nnodes:\n  - {id: start, type: trigger, message: Hi}\n  - {id: bye, type: response, message: Bye}\nflows:\n  start: [bye]\n")
	_, err = execute(t, "validate", legacyYAML)
	require.NoError(t, err)

	data, err := flow.Marshal(flow.Sample())
	require.NoError(t, err)
	envelope := writeFile(t, "export.json", `{"id":"b1","name":"Sample","config":`+string(data)+`}`)
	out, err = execute(t, "validate", envelope)
	require.NoError(t, err)
	assert.Contains(t, out, "(5 nodes, 4 edges")
}
