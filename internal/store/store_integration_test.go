// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package store_test

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/pluginhost/internal/plugin"
	"github.com/holomush/pluginhost/internal/store"
)

var _ = Describe("TransitionStore", Ordered, func() {
	var (
		ctx       context.Context
		pool      *pgxpool.Pool
		terminate func()
		ts        *store.TransitionStore
	)

	BeforeAll(func() {
		ctx = context.Background()
		connStr, stop, err := startPostgres(ctx)
		Expect(err).NotTo(HaveOccurred())
		terminate = stop

		migrator, err := store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())
		Expect(migrator.Close()).To(Succeed())

		pool, err = store.Connect(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		ts = store.NewTransitionStore(pool, nil)
	})

	AfterAll(func() {
		if pool != nil {
			pool.Close()
		}
		if terminate != nil {
			terminate()
		}
	})

	transition := func(name string, from, to plugin.State, errText string) plugin.Transition {
		return plugin.Transition{
			ID:      ulid.Make().String(),
			Plugin:  name,
			Version: "1.0.0",
			From:    from,
			To:      to,
			Error:   errText,
			At:      time.Now().UTC().Truncate(time.Microsecond),
		}
	}

	It("records transitions and returns them newest first", func() {
		first := transition("alpha", plugin.StateUnloaded, plugin.StateLoading, "")
		second := transition("alpha", plugin.StateLoading, plugin.StateError, "boom")

		Expect(ts.Publish(ctx, first)).To(Succeed())
		Expect(ts.HandleTransition(ctx, second)).To(Succeed())

		history, err := ts.History(ctx, "alpha", 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(2))
		Expect(history[0].ID).To(Equal(second.ID))
		Expect(history[0].To).To(Equal(plugin.StateError))
		Expect(history[0].Error).To(Equal("boom"))
		Expect(history[1].Error).To(BeEmpty())
		Expect(history[1].At.Equal(first.At)).To(BeTrue())
	})

	It("ignores a transition published twice", func() {
		t := transition("beta", plugin.StateUnloaded, plugin.StateLoading, "")
		Expect(ts.Publish(ctx, t)).To(Succeed())
		Expect(ts.Publish(ctx, t)).To(Succeed())

		history, err := ts.History(ctx, "beta", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(HaveLen(1))
	})

	It("reports the latest transition per plugin", func() {
		Expect(ts.Publish(ctx, transition("gamma", plugin.StateLoading, plugin.StateLoaded, ""))).To(Succeed())

		latest, err := ts.Latest(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(latest).To(HaveKey("alpha"))
		Expect(latest["alpha"].To).To(Equal(plugin.StateError))
		Expect(latest["gamma"].To).To(Equal(plugin.StateLoaded))
	})

	It("prunes old transitions", func() {
		old := transition("delta", plugin.StateUnloaded, plugin.StateLoading, "")
		old.At = time.Now().Add(-48 * time.Hour).UTC()
		Expect(ts.Publish(ctx, old)).To(Succeed())

		removed, err := ts.Prune(ctx, time.Now().Add(-24*time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(Equal(int64(1)))

		history, err := ts.History(ctx, "delta", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(history).To(BeEmpty())
	})
})
