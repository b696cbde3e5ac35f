package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHelp_ListsCommands(t *testing.T) {
	var buf bytes.Buffer
	help(&buf)

	out := buf.String()
	for _, cmd := range []string{"validate", "sync", "render", "help"} {
		assert.Contains(t, out, "  "+cmd+" ")
	}
	assert.True(t, strings.HasSuffix(out, "command.\n"))
	assert.False(t, strings.HasSuffix(out, "\n\n"))
}
