package logx_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mnv104/capfs-sub000/internal/logx"
)

func TestConfigureDefaultsNilWriterToStderr(t *testing.T) {
	// Must not panic when given a nil destination.
	logx.Configure(nil, logx.LevelInfo)
}

func TestDebugfSuppressedBelowDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logx.Configure(&buf, logx.LevelInfo)
	logx.Debugf("store", "chunk %s written", "abc")
	assert.Empty(t, buf.String(), "debug messages must be suppressed at info level")
}

func TestDebugfEmittedAtDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logx.Configure(&buf, logx.LevelDebug)
	logx.Debugf("store", "chunk %s written", "abc")
	assert.Contains(t, buf.String(), "chunk abc written")
}

func TestErrorfIncludesTagField(t *testing.T) {
	var buf bytes.Buffer
	logx.Configure(&buf, logx.LevelInfo)
	logx.Errorf("recipestore", "commit failed for %s", "f1")
	out := buf.String()
	assert.True(t, strings.Contains(out, "in=recipestore"), "expected tag field in log line, got: %s", out)
	assert.Contains(t, out, "commit failed for f1")
}

func TestInfofWithNilTagOmitsField(t *testing.T) {
	var buf bytes.Buffer
	logx.Configure(&buf, logx.LevelInfo)
	logx.Infof(nil, "manager started")
	out := buf.String()
	assert.NotContains(t, out, "in=")
	assert.Contains(t, out, "manager started")
}
