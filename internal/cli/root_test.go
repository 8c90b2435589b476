package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewtune/brewtune/internal/uploader"
)

func TestNewRootCmd(t *testing.T) {
	root := NewRootCmd("1.2.3")
	assert.Equal(t, "brewtune", root.Use)
	assert.Equal(t, "1.2.3", root.Version)

	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "upload")
	assert.Contains(t, names, "info")
	assert.Contains(t, names, "history")
}

func TestUploadRequiresFileFlag(t *testing.T) {
	root := NewRootCmd("test")
	root.SetArgs([]string{"upload"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file")
}

func TestProgressPrinterCollapsesDuplicates(t *testing.T) {
	var out bytes.Buffer
	observe := NewProgressPrinter(&out)

	observe(uploader.Event{Fraction: 0.20, Label: "Transferring content"})
	observe(uploader.Event{Fraction: 0.20, Label: "Transferring content"})
	observe(uploader.Event{Fraction: 0.45, Label: "Transferring content"})

	assert.Equal(t, "[ 20%] Transferring content\n[ 45%] Transferring content\n", out.String())
}

func TestNewLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "unknown"} {
		assert.NotNil(t, newLogger(level))
	}
}
