package hooks

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-linux/aurora/internal/logger"
	"github.com/aurora-linux/aurora/pkg/errors"
)

func TestRunScriptSuccess(t *testing.T) {
	s := NewSandbox()
	err := s.RunScript([]byte(`
text := import("text")
greeting := text.join(["hello", "world"], " ")
`), "/")
	require.NoError(t, err)
}

func TestRunScriptTargetRootBound(t *testing.T) {
	s := NewSandbox()
	err := s.RunScript([]byte(`
err := ""
if target_root == "" {
	err = "target root not provided"
}
`), "/mnt/target")
	require.NoError(t, err)
}

func TestRunScriptErrVariableFails(t *testing.T) {
	s := NewSandbox()
	err := s.RunScript([]byte(`err := "refusing to install"`), "/")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrScriptletFailed)
	assert.Contains(t, err.Error(), "refusing to install")
}

func TestRunScriptRuntimeErrorFails(t *testing.T) {
	s := NewSandbox()
	err := s.RunScript([]byte(`x := 1 / 0`), "/")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrScriptletFailed)
}

func TestRunScriptCompileErrorFails(t *testing.T) {
	s := NewSandbox()
	err := s.RunScript([]byte(`if {`), "/")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrScriptletFailed)
}

func TestRunScriptOSModuleNotAvailable(t *testing.T) {
	s := NewSandbox()
	err := s.RunScript([]byte(`os := import("os")`), "/")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrScriptletFailed)
}

func TestRunScriptAuroraLogging(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stderr)

	s := NewSandbox()
	err := s.RunScript([]byte(`
aurora := import("aurora")
aurora.info("configuring service")
aurora.warn("legacy configuration detected")
`), "/")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "configuring service")
	assert.Contains(t, out, "legacy configuration detected")
}

func TestRunScriptFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hook.tengo")
	require.NoError(t, os.WriteFile(path, []byte(`ok := true`), 0o644))

	s := NewSandbox()
	require.NoError(t, s.RunScriptFromFile(path, "/"))
}

func TestRunScriptFromFileMissing(t *testing.T) {
	s := NewSandbox()
	err := s.RunScriptFromFile(filepath.Join(t.TempDir(), "missing.tengo"), "/")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrScriptletFailed)
}
