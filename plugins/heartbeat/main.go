// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package main implements a binary plugin that logs a heartbeat until the
// host shuts it down.
//
// Build it next to its manifest:
//
//	go build -o plugins/heartbeat/bin/heartbeat-$(go env GOOS)-$(go env GOARCH) ./plugins/heartbeat
package main

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/holomush/pluginhost/pkg/pluginsdk"
)

const defaultInterval = 10 * time.Second

type heartbeat struct {
	logger hclog.Logger

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

func (h *heartbeat) Init(_ context.Context, cfg pluginsdk.Config) error {
	interval := defaultInterval
	if s, ok := cfg.Settings()["interval"].(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		interval = d
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	h.mu.Lock()
	h.stop, h.done = cancel, done
	h.mu.Unlock()

	h.logger.Info("heartbeat started", "plugin", cfg.Name(), "version", cfg.Version(), "interval", interval.String())
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for beats := 1; ; beats++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.logger.Debug("heartbeat", "beats", beats)
			}
		}
	}()
	return nil
}

func (h *heartbeat) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.mu.Unlock()
	if stop == nil {
		return nil
	}
	stop()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	h.logger.Info("heartbeat stopped")
	return nil
}

func main() {
	// go-plugin forwards JSON lines on stderr into the host log.
	logger := hclog.New(&hclog.LoggerOptions{
		Level:      hclog.Debug,
		Output:     os.Stderr,
		JSONFormat: true,
	})
	pluginsdk.Serve(&pluginsdk.ServeConfig{
		Plugin: &heartbeat{logger: logger},
	})
}
