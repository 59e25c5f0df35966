// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOptionsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithOptions("reanaconda", Options{Level: "debug", Format: "json", Writer: &buf})
	require.NoError(t, err)

	logger.Debug("monitor dialed", "port", 4444)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "reanaconda", record["subsystem"])
	assert.Equal(t, "monitor dialed", record["msg"])
	assert.EqualValues(t, 4444, record["port"])
}

func TestNewWithOptionsFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithOptions("reanaconda", Options{Level: "warn", Format: "text", Writer: &buf})
	require.NoError(t, err)

	logger.Info("quiet")
	logger.Warn("loud")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.True(t, strings.Contains(out, "loud"))
}

func TestNewWithOptionsRejectsUnknownFormat(t *testing.T) {
	_, err := NewWithOptions("reanaconda", Options{Format: "xml"})
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}
