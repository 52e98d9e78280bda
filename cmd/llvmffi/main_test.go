package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/llvm-ffi/llvm"
	"github.com/wippyai/llvm-ffi/metrics"
	"github.com/wippyai/llvm-ffi/nativetest"
	"github.com/wippyai/llvm-ffi/registry"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llvmffi.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
wasm = "/opt/llvm/libLLVM.wasm"

[engine]
memory_limit_pages = 1024
alloc_export = "cabi_realloc"

[logging]
format = "json"

[metrics]
address = "127.0.0.1:9464"
`), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.validate())

	assert.Equal(t, "/opt/llvm/libLLVM.wasm", cfg.Wasm)
	assert.Equal(t, uint32(1024), cfg.Engine.MemoryLimitPages)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Address)

	ec := cfg.engineConfig()
	assert.Equal(t, uint32(1024), ec.MemoryLimitPages)
	assert.Equal(t, "cabi_realloc", ec.AllocExport)
	assert.Empty(t, ec.FreeExport)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	require.NoError(t, cfg.validate())
	assert.Equal(t, uint32(4096), cfg.Engine.MemoryLimitPages)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"too many pages", func(c *Config) { c.Engine.MemoryLimitPages = 70000 }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad metrics address", func(c *Config) { c.Metrics.Address = "not an address" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestWriteDump(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeDump(&buf))

	var got struct {
		Routines []map[string]any `yaml:"routines"`
		Releases []map[string]any `yaml:"releases"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	assert.Len(t, got.Routines, registry.Routines.Len())
	assert.Len(t, got.Releases, registry.Releases.Len())

	assert.Contains(t, buf.String(), "name: LLVMPrintModuleToString")
	assert.Contains(t, buf.String(), "policy: InboundOwned")
	assert.Contains(t, buf.String(), "routine: LLVMDisposeErrorMessage")
}

func TestPrintTables(t *testing.T) {
	var buf bytes.Buffer
	printTables(&buf, false)
	out := buf.String()

	assert.Contains(t, out, "LLVMParseIRInContext(ContextRef handle<Context>, MemBuf handle<MemoryBuffer> consumed")
	assert.Contains(t, out, "bool-failure")
	assert.Contains(t, out, "implicit, owned by Module")
	assert.Contains(t, out, "LLVMDisposeMessage (string)")
}

func TestProbe(t *testing.T) {
	ctx := context.Background()
	lib, _ := nativetest.NewLLVM()
	rec := metrics.New()
	a := newAdapter(lib, rec)

	report, err := probe(ctx, llvm.New(a))
	require.NoError(t, err)
	assert.Equal(t, "wasm32-unknown-wasi", report.Triple)
	assert.Equal(t, "wasm32-unknown-wasi", report.Normalized)
	assert.Equal(t, "wasm32", report.Target)
	assert.False(t, report.JIT)
	assert.Contains(t, report.IR, "declare void @probe()")

	require.NoError(t, a.Close())
	assert.Equal(t, 0, lib.Live())
	assert.Empty(t, lib.Faults())

	var buf bytes.Buffer
	report.print(&buf)
	assert.Contains(t, buf.String(), "Target:         wasm32 (jit: false)")
}

func TestProbe_UnknownTarget(t *testing.T) {
	lib, fake := nativetest.NewLLVM()
	fake.DefaultTriple = "riscv64-unknown-elf"
	a := newAdapter(lib, nil)

	report, err := probe(context.Background(), llvm.New(a))
	require.NoError(t, err)
	assert.Error(t, report.TargetErr)
	assert.Empty(t, report.Target)
	require.NoError(t, a.Close())
}

func TestRun_TablesOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, run(context.Background(), defaultConfig(), nil, &buf))
	assert.Contains(t, buf.String(), "Routines (")
	assert.NotContains(t, buf.String(), "Library:")
}

func TestExecute(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, execute(nil, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "Routines (")
	assert.Empty(t, stderr.String())

	stdout.Reset()
	assert.Equal(t, 0, execute([]string{"-dump", "-"}, &stdout, &stderr))
	var dumped struct {
		Routines []map[string]any `yaml:"routines"`
	}
	require.NoError(t, yaml.Unmarshal(stdout.Bytes(), &dumped))
	assert.Len(t, dumped.Routines, registry.Routines.Len())
}

func TestExecute_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
		msg  string
	}{
		{"missing config", []string{"-config", filepath.Join(t.TempDir(), "missing.toml")}, 1, "Error:"},
		{"bad metrics address", []string{"-metrics", "not an address"}, 1, "Error:"},
		{"missing wasm", []string{"-wasm", filepath.Join(t.TempDir(), "missing.wasm")}, 1, "read file"},
		{"unknown flag", []string{"-nope"}, 2, "flag provided but not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, tt.code, execute(tt.args, &stdout, &stderr))
			assert.Contains(t, stderr.String(), tt.msg)
		})
	}
}

func TestInteractiveModel(t *testing.T) {
	m := newInteractiveModel(defaultConfig(), nil)
	assert.Nil(t, m.Init())
	assert.Len(t, m.visible(), registry.Routines.Len())

	key := func(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

	m.Update(key("j"))
	assert.Equal(t, 1, m.selected)

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, tabReleases, m.tab)
	assert.Equal(t, 0, m.selected)
	assert.Len(t, m.visible(), registry.Releases.Len())

	m.Update(key("/"))
	assert.Equal(t, stateFilter, m.state)
	m.filter.SetValue("message")
	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, stateBrowse, m.state)
	names := make([]string, 0)
	for _, e := range m.visible() {
		names = append(names, e.name)
	}
	assert.ElementsMatch(t, []string{registry.Message, registry.ErrorMessage}, names)

	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, stateDetail, m.state)
	assert.Contains(t, m.View(), "(string)")

	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, stateBrowse, m.state)

	// probing needs a loaded library
	m.Update(key("p"))
	assert.Equal(t, stateBrowse, m.state)

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
}

func TestInteractiveModel_Probe(t *testing.T) {
	lib, _ := nativetest.NewLLVM()
	m := newInteractiveModel(defaultConfig(), nil)
	m.adapter = newAdapter(lib, nil)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	require.NotNil(t, cmd)
	assert.Equal(t, stateProbe, m.state)
	assert.Contains(t, m.View(), "probing...")

	m.Update(cmd())
	require.NoError(t, m.err)
	require.NotNil(t, m.report)
	assert.Contains(t, m.View(), "Default triple: wasm32-unknown-wasi")

	m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, stateBrowse, m.state)
	require.NoError(t, m.adapter.Close())
}
