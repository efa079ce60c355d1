// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/pluginhost/internal/config"
	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/store"
)

// historyStore is the read side of the transition store.
type historyStore interface {
	History(ctx context.Context, name string, limit int) ([]plugin.Transition, error)
	Latest(ctx context.Context) (map[string]plugin.Transition, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// openHistory is replaced in tests.
var openHistory = func(ctx context.Context, databaseURL string) (historyStore, func(), error) {
	pool, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return nil, nil, err
	}
	return store.NewTransitionStore(pool, nil), pool.Close, nil
}

type historyConfig struct {
	limit      int
	jsonOutput bool
}

// NewHistoryCmd creates the history subcommand.
func NewHistoryCmd() *cobra.Command {
	cfg := &historyConfig{}
	cmd := &cobra.Command{
		Use:   "history [plugin]",
		Short: "Show recorded lifecycle transitions",
		Long: `Show lifecycle transitions recorded in PostgreSQL by a running host.
With a plugin name the most recent transitions of that plugin are listed,
newest first; without one the latest transition of every plugin is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, func(ctx context.Context, hs historyStore) error {
				var name string
				if len(args) == 1 {
					name = args[0]
				}
				return runHistory(ctx, cmd, cfg, hs, name)
			})
		},
	}
	cmd.Flags().IntVar(&cfg.limit, "limit", store.DefaultHistoryLimit, "maximum transitions to show")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output transitions as JSON")
	cmd.AddCommand(newHistoryPruneCmd())
	return cmd
}

func newHistoryPruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete transitions older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return oops.Code(config.CodeInvalidConfig).Errorf("--older-than must be positive, got %s", olderThan)
			}
			return withHistory(cmd, func(ctx context.Context, hs historyStore) error {
				n, err := hs.Prune(ctx, time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				cmd.Printf("Pruned %d transition(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete transitions recorded before now minus this duration")
	return cmd
}

func withHistory(cmd *cobra.Command, fn func(context.Context, historyStore) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return oops.Code(config.CodeInvalidConfig).
			Errorf("database URL is required; set --database-url or %s", config.DatabaseURLEnv)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	hs, release, err := openHistory(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx, hs)
}

func runHistory(ctx context.Context, cmd *cobra.Command, cfg *historyConfig, hs historyStore, name string) error {
	var transitions []plugin.Transition
	if name != "" {
		ts, err := hs.History(ctx, name, cfg.limit)
		if err != nil {
			return err
		}
		transitions = ts
	} else {
		latest, err := hs.Latest(ctx)
		if err != nil {
			return err
		}
		for _, t := range latest {
			transitions = append(transitions, t)
		}
		slices.SortFunc(transitions, func(a, b plugin.Transition) int {
			return strings.Compare(a.Plugin, b.Plugin)
		})
	}

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(transitions, "", "  ")
		if err != nil {
			return oops.Wrapf(err, "marshal transitions")
		}
		cmd.Println(string(data))
		return nil
	}
	if len(transitions) == 0 {
		cmd.Println(mutedStyle.Render("No transitions recorded"))
		return nil
	}
	cmd.Println(formatTransitions(transitions))
	return nil
}

func formatTransitions(transitions []plugin.Transition) string {
	rows := make([][]string, 0, len(transitions))
	for _, t := range transitions {
		rows = append(rows, []string{
			t.At.Local().Format(time.DateTime),
			t.Plugin,
			t.Version,
			fmt.Sprintf("%s -> %s", t.From, stateStyle(t.To).Render(t.To.String())),
			orDash(t.Error),
		})
	}
	return renderTable([]string{"TIME", "PLUGIN", "VERSION", "TRANSITION", "ERROR"}, rows)
}
