// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/jaw/internal/irgraph"
	"github.com/xkilldash9x/jaw/internal/observability"
)

// execute runs a fresh command tree with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)
	t.Setenv("JAW_LOGGER_LEVEL", "fatal")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func project(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "lib.js"), "export function helper(v) { return v; }\n")
	writeFile(t, filepath.Join(dir, "app.js"), `import { helper } from './lib.js';
var el = document.getElementById("go");
el.addEventListener("click", function () { helper(el); });
`)
	writeFile(t, filepath.Join(dir, "node_modules", "dep", "index.js"), "module.exports = 1;\n")
	writeFile(t, filepath.Join(dir, "README.md"), "# not code\n")
	return dir
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "jaw version "+Version)
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestAnalyzeCmd_Summary(t *testing.T) {
	dir := project(t)

	out, err := execute(t, "analyze", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "app.js")
	assert.Contains(t, out, "lib.js")
	assert.NotContains(t, out, "node_modules")
	for _, rel := range irgraph.Relations() {
		assert.Contains(t, out, string(rel))
	}
	assert.Contains(t, out, "reachable functions")
	assert.NotContains(t, out, "degraded models")
}

func TestAnalyzeCmd_JSONToFile(t *testing.T) {
	dir := project(t)
	path := filepath.Join(t.TempDir(), "stream.json")

	out, err := execute(t, "analyze", "--format", "JSON", "--out", path, "--no-page", dir)
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var stream irgraph.Stream
	require.NoError(t, json.Unmarshal(data, &stream))
	assert.NotEmpty(t, stream.Header.RunID)
	require.Len(t, stream.Header.Files, 2)
	assert.True(t, strings.HasSuffix(stream.Header.Files[0], "app.js"), "walk order is sorted")
	assert.NotEmpty(t, stream.Nodes)

	relations := make(map[irgraph.Relation]int)
	for _, e := range stream.Edges {
		relations[e.Relation]++
	}
	assert.Positive(t, relations[irgraph.RelAST])
	assert.Positive(t, relations[irgraph.RelERDDGRegistration])
	assert.Equal(t, 1, relations[irgraph.RelModuleImport])
}

func TestAnalyzeCmd_ConfigFile(t *testing.T) {
	dir := project(t)
	cfgPath := filepath.Join(t.TempDir(), "jaw.yaml")
	writeFile(t, cfgPath, "output:\n  format: json\nanalysis:\n  event_graph: false\n")

	out, err := execute(t, "--config", cfgPath, "analyze", filepath.Join(dir, "app.js"))
	require.NoError(t, err)

	var stream irgraph.Stream
	require.NoError(t, json.Unmarshal([]byte(out), &stream))
	for _, e := range stream.Edges {
		assert.NotEqual(t, irgraph.RelERDDGRegistration, e.Relation)
	}
}

func TestAnalyzeCmd_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    func(dir string) []string
		wantErr string
	}{
		{
			name:    "unknown format",
			args:    func(dir string) []string { return []string{"analyze", "--format", "csv", dir} },
			wantErr: "unknown output format",
		},
		{
			name:    "negative alias cutoff",
			args:    func(dir string) []string { return []string{"analyze", "--alias-cutoff", "-1", dir} },
			wantErr: "alias cutoff must not be negative",
		},
		{
			name:    "missing path",
			args:    func(dir string) []string { return []string{"analyze", filepath.Join(dir, "missing.js")} },
			wantErr: "failed to stat",
		},
		{
			name:    "walk root named node_modules",
			args:    func(dir string) []string { return []string{"analyze", filepath.Join(dir, "node_modules")} },
			wantErr: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := project(t)
			_, err := execute(t, tt.args(dir)...)
			if tt.wantErr == "" {
				// The walk root itself is never skipped.
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "empty.js"), "")
	writeFile(t, filepath.Join(dir, "big.js"), strings.Repeat("x;", 64))
	writeFile(t, filepath.Join(dir, "ok.mjs"), "var ok = 1;")
	writeFile(t, filepath.Join(dir, "vendor", "node_modules", "v.js"), "var v = 1;")
	logger := zaptest.NewLogger(t)

	files, err := loadSources(logger, []string{dir, filepath.Join(dir, "ok.mjs")}, 32, false)
	require.NoError(t, err)
	require.Len(t, files, 1, "empty, oversized, vendored and duplicate files are skipped")
	assert.True(t, strings.HasSuffix(files[0].Name, "ok.mjs"))

	files, err = loadSources(logger, []string{dir}, 32, true)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = loadSources(logger, []string{filepath.Join(dir, "empty.js")}, 0, false)
	assert.ErrorContains(t, err, "no JavaScript sources")
}
