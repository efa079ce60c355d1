// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/pluginhost/internal/plugin"
)

func TestRunStatus(t *testing.T) {
	statuses := []plugin.Status{
		{Name: "echo", Version: "1.0.0", State: plugin.StateLoaded, MemoryBytes: 3 << 20},
		{Name: "broken", Version: "0.2.0", State: plugin.StateError, MemoryBytes: plugin.UnknownMemoryUsage, LastError: "load plugin broken: boom"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/statusz", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statuses)
	}))
	defer srv.Close()

	cmd := &cobra.Command{}
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	require.NoError(t, runStatus(cmd, &statusConfig{}, srv.URL+"/statusz"))

	out := buf.String()
	for _, want := range []string{"PLUGIN", "echo", "loaded", "3.0 MiB", "broken", "error", "boom"} {
		assert.Contains(t, out, want)
	}
}

func TestRunStatus_HostError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	err := runStatus(&cobra.Command{}, &statusConfig{}, srv.URL+"/statusz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestStatusURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:9100/statusz", statusURL(":9100"))
	assert.Equal(t, "http://localhost:9100/statusz", statusURL("localhost:9100"))
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{-1, "-"},
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KiB"},
		{5 << 30, "5.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}

func TestFormatStatusTable_Empty(t *testing.T) {
	assert.Contains(t, formatStatusTable(nil), "No plugins managed")
}
