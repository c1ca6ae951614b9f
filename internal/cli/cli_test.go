package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidateCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func runExplainCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewExplainCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidate_ValidDefinition(t *testing.T) {
	out, err := runValidateCmd(t, "text", filepath.Join("testdata", "org.cue"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ definition valid: 2 model(s), 2 endpoint(s)")
}

func TestValidate_ValidDefinitionJSON(t *testing.T) {
	out, err := runValidateCmd(t, "json", filepath.Join("testdata", "org.cue"))
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), data["models"])
}

func TestValidate_MissingFile(t *testing.T) {
	out, err := runValidateCmd(t, "text", filepath.Join("testdata", "nope.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E001]")
}

func TestValidate_DecodeError(t *testing.T) {
	out, err := runValidateCmd(t, "text", filepath.Join("testdata", "bad_type.cue"))
	require.Error(t, err)
	assert.Contains(t, out, "Error [E001]")
	assert.Contains(t, out, "varchar")
}

func TestValidate_UnknownReferenceTarget(t *testing.T) {
	out, err := runValidateCmd(t, "text", filepath.Join("testdata", "unknown_ref.cue"))
	require.Error(t, err)
	assert.Contains(t, out, "Error [E002]")
	assert.Contains(t, out, `"Org" does not exist`)
}

func TestValidate_BadResponsePath(t *testing.T) {
	out, err := runValidateCmd(t, "text", filepath.Join("testdata", "bad_path.cue"))
	require.Error(t, err)
	assert.Contains(t, out, "Error [E003]")
	assert.Contains(t, out, "nickname")
}

func TestExplain_GetEndpoint(t *testing.T) {
	out, err := runExplainCmd(t, "text", filepath.Join("testdata", "org.cue"), "get", "Org")
	require.NoError(t, err)
	assert.Contains(t, out, "-- root")
	assert.Contains(t, out, "SELECT")
	assert.Contains(t, out, "$@path.0")
	// the to-many repos child renders as its own batched statement
	assert.Contains(t, out, "-- repos")
}

func TestExplain_ListEndpointJSON(t *testing.T) {
	out, err := runExplainCmd(t, "json", filepath.Join("testdata", "org.cue"), "list", "Org")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "list Org", data["endpoint"])
	stmts, ok := data["statements"].([]any)
	require.True(t, ok)
	require.Len(t, stmts, 1)
}

func TestExplain_UnknownEndpoint(t *testing.T) {
	out, err := runExplainCmd(t, "text", filepath.Join("testdata", "org.cue"), "delete", "Org")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E004]")
}

func TestRootCommand_RejectsUnknownFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--format", "yaml", "validate", filepath.Join("testdata", "org.cue")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
}
