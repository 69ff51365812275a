package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects the logger into a buffer for the rest of the test.
func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	original := logger.Out
	originalLevel := logger.GetLevel()
	logger.SetOutput(&buf)
	t.Cleanup(func() {
		logger.SetOutput(original)
		logger.SetLevel(originalLevel)
	})
	return &buf
}

func TestHelpersWriteLevels(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(DebugLevel)

	Debugf("debug %d", 1)
	Infof("info %d", 2)
	Warnf("warn %d", 3)
	Errorf("error %d", 4)

	out := buf.String()
	assert.Contains(t, out, `level=debug msg="debug 1"`)
	assert.Contains(t, out, `level=info msg="info 2"`)
	assert.Contains(t, out, `level=warning msg="warn 3"`)
	assert.Contains(t, out, `level=error msg="error 4"`)
}

func TestSetLevel(t *testing.T) {
	buf := captureOutput(t)

	SetLevel(WarnLevel)
	Debugf("Debug message")
	Infof("Info message")
	assert.Empty(t, buf.String())

	Warnf("Warn message")
	assert.Contains(t, buf.String(), "Warn message")
}

func TestFileLogging(t *testing.T) {
	captureOutput(t)
	dir := t.TempDir()

	require.NoError(t, EnableFileLogging(dir, "test.log", 10, 3, 7))
	Infof("File log test message")

	content, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "File log test message")
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"":        InfoLevel,
		"warn":    WarnLevel,
		"warning": WarnLevel,
		" error ": ErrorLevel,
		"fatal":   FatalLevel,
	} {
		got, err := ParseLevel(name)
		assert.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestComponent(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(InfoLevel)

	Component("capture").Infof("capture enabled")
	Component("capture").Debugf("hidden")

	assert.Contains(t, buf.String(), "component=capture")
	assert.Contains(t, buf.String(), "capture enabled")
	assert.NotContains(t, buf.String(), "hidden")
}
