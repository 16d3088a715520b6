package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	for _, level := range []Severity{TraceLevel, DebugLevel, InfoLevel, WarningLevel, ErrorLevel, CriticalLevel} {
		assert.Equal(t, level, ParseLevel(level.Name()))
	}
	assert.Equal(t, WarningLevel, ParseLevel("WARN"))
	assert.Equal(t, Severity(0), ParseLevel("loud"))
	assert.Equal(t, "none", Severity(0).Name())
}

func TestStartRejectsInvalidLevel(t *testing.T) { //nolint:paralleltest // Changes global state.
	assert.Error(t, StartWithWriter("loud", nil))
}
