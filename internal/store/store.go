// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package store persists plugin lifecycle transitions in PostgreSQL.
package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/holomush/pluginhost/internal/bus"
	"github.com/holomush/pluginhost/internal/plugin"
)

// DefaultHistoryLimit caps History when the caller passes a non-positive limit.
const DefaultHistoryLimit = 100

// poolIface is the subset of pgxpool.Pool used by the store. pgxmock
// implements it for unit tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ plugin.Publisher = (*TransitionStore)(nil)
	_ bus.Handler      = (*TransitionStore)(nil)
)

// TransitionStore records lifecycle transitions. It can be used directly as a
// Manager's Publisher or subscribed to a bus.
type TransitionStore struct {
	pool   poolIface
	logger *slog.Logger
}

// NewTransitionStore creates a store over pool.
func NewTransitionStore(pool poolIface, logger *slog.Logger) *TransitionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransitionStore{pool: pool, logger: logger}
}

// Connect opens a pgx pool and verifies the connection.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return pool, nil
}

// Publish implements plugin.Publisher. Re-publishing a transition with an
// already stored ID is a no-op.
func (s *TransitionStore) Publish(ctx context.Context, t plugin.Transition) error {
	var errText any
	if t.Error != "" {
		errText = t.Error
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO plugin_transitions (id, plugin, version, from_state, to_state, error, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Plugin, t.Version, t.From.String(), t.To.String(), errText, t.At)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			s.logger.DebugContext(ctx, "transition already recorded", "id", t.ID)
			return nil
		}
		return oops.With("operation", "record transition").
			With("plugin", t.Plugin).
			With("id", t.ID).
			Wrap(err)
	}
	return nil
}

// HandleTransition implements bus.Handler.
func (s *TransitionStore) HandleTransition(ctx context.Context, t plugin.Transition) error {
	return s.Publish(ctx, t)
}

// History returns the most recent transitions of a plugin, newest first.
func (s *TransitionStore) History(ctx context.Context, name string, limit int) ([]plugin.Transition, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, plugin, version, from_state, to_state, error, occurred_at
		 FROM plugin_transitions WHERE plugin = $1 ORDER BY id DESC LIMIT $2`,
		name, limit)
	if err != nil {
		return nil, oops.With("operation", "query history").With("plugin", name).Wrap(err)
	}
	return collect(rows, name)
}

// Latest returns the newest transition of every plugin that has one.
func (s *TransitionStore) Latest(ctx context.Context) (map[string]plugin.Transition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (plugin) id, plugin, version, from_state, to_state, error, occurred_at
		 FROM plugin_transitions ORDER BY plugin, id DESC`)
	if err != nil {
		return nil, oops.With("operation", "query latest").Wrap(err)
	}
	list, err := collect(rows, "")
	if err != nil {
		return nil, err
	}
	latest := make(map[string]plugin.Transition, len(list))
	for _, t := range list {
		latest[t.Plugin] = t
	}
	return latest, nil
}

// Prune deletes transitions older than before and returns how many were removed.
func (s *TransitionStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM plugin_transitions WHERE occurred_at < $1`, before)
	if err != nil {
		return 0, oops.With("operation", "prune transitions").With("before", before).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func collect(rows pgx.Rows, name string) ([]plugin.Transition, error) {
	defer rows.Close()

	var out []plugin.Transition
	for rows.Next() {
		var (
			t        plugin.Transition
			from, to string
			errText  *string
		)
		if err := rows.Scan(&t.ID, &t.Plugin, &t.Version, &from, &to, &errText, &t.At); err != nil {
			return nil, oops.With("operation", "scan transition row").With("plugin", name).Wrap(err)
		}
		var ok bool
		if t.From, ok = plugin.ParseState(from); !ok {
			return nil, oops.With("id", t.ID).Errorf("corrupt from_state %q", from)
		}
		if t.To, ok = plugin.ParseState(to); !ok {
			return nil, oops.With("id", t.ID).Errorf("corrupt to_state %q", to)
		}
		if errText != nil {
			t.Error = *errText
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("operation", "iterate transitions").With("plugin", name).Wrap(err)
	}
	return out, nil
}
