package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestParseAssignments(t *testing.T) {
	changes, err := parseAssignments([]string{"status=Customs hold", "vessel=", " eta =2024-07-01"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "Customs hold", "vessel": nil, "eta": "2024-07-01"}, changes)

	_, err = parseAssignments([]string{"status"})
	assert.Error(t, err)
}

func TestDictionaryInitAndImportDryRun(t *testing.T) {
	dir := t.TempDir()
	dictPath := filepath.Join(dir, "dictionary.yaml")
	t.Setenv("SHIPRECON_DICTIONARY_PATH", dictPath)

	out, err := execute(t, "--config", dir, "dictionary", "init")
	require.NoError(t, err)
	assert.Contains(t, out, dictPath)

	_, err = execute(t, "--config", dir, "dictionary", "init")
	assert.Error(t, err)

	out, err = execute(t, "--config", dir, "dictionary", "version")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", strings.TrimSpace(out))

	csvPath := filepath.Join(dir, "june.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Container No,Carrier,Status\nMSKU1234567,Maersk,Arrived\n"), 0o644))

	out, err = execute(t, "--config", dir, "import", "--dry-run", csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "COMPLETED"`)
}

func TestImportFailsBatchWithoutDictionary(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SHIPRECON_DICTIONARY_PATH", filepath.Join(dir, "missing.yaml"))
	csvPath := filepath.Join(dir, "june.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("Container No\nMSKU1234567\n"), 0o644))

	out, err := execute(t, "--config", dir, "import", "--dry-run", csvPath)
	require.Error(t, err)
	assert.Contains(t, out, `"status": "FAILED"`)
}

func TestEditRequiresChanges(t *testing.T) {
	_, err := execute(t, "edit", "MSKU1234567")
	assert.Error(t, err)
}
