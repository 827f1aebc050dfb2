package arena

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	defer SetLogOutput(nil)
	defer SetLogLevel(LevelWarn)

	SetLogLevel(LevelWarn)
	internalLogger.infof("hidden %d", 1)
	assert.Zero(t, buf.Len())
	internalLogger.warnf("shown %d", 2)
	line := buf.String()
	assert.Contains(t, line, "Warn")
	assert.Contains(t, line, "shown 2")
	assert.Contains(t, line, "memarena")
	assert.True(t, strings.HasSuffix(line, reset+"\n"))

	buf.Reset()
	SetLogLevel(LevelNoPrint)
	internalLogger.errorf("dropped")
	assert.Zero(t, buf.Len())

	// out-of-range levels are ignored
	SetLogLevel(42)
	assert.False(t, internalLogger.enabled(LevelError))
}

func TestContractViolationIsLogged(t *testing.T) {
	var buf bytes.Buffer
	SetLogOutput(&buf)
	defer SetLogOutput(nil)

	a, err := New(&Config{Backend: newSimBackend()})
	assert.NoError(t, err)
	assert.Error(t, a.Release())
	assert.Contains(t, buf.String(), "contract violation")
	assert.Contains(t, buf.String(), a.ID())
}
