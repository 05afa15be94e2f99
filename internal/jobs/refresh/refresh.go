// Package refresh re-imports enabled subscriptions on a schedule and stores
// the resulting nodes.
package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"subgate/internal/config"
	"subgate/internal/database"
	"subgate/internal/domain"
	"subgate/internal/subscription"
)

// Importer downloads and parses one subscription URL.
type Importer interface {
	Import(ctx context.Context, rawURL string) (subscription.Result, error)
}

// invalidator is implemented by importers that cache payloads.
type invalidator interface {
	Invalidate(ctx context.Context, rawURL string) error
}

// Store is the persistence used by a refresh. The zero Deps uses the
// database package.
type Store interface {
	ListEnabledSubscriptions(ctx context.Context) ([]domain.Subscription, error)
	ReplaceSubscriptionNodes(ctx context.Context, id, format string, nodes []domain.Node) error
	RecordSubscriptionError(ctx context.Context, id string, cause error) error
}

type databaseStore struct{}

func (databaseStore) ListEnabledSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	return database.ListEnabledSubscriptions(ctx)
}

func (databaseStore) ReplaceSubscriptionNodes(ctx context.Context, id, format string, nodes []domain.Node) error {
	return database.ReplaceSubscriptionNodes(ctx, id, format, nodes)
}

func (databaseStore) RecordSubscriptionError(ctx context.Context, id string, cause error) error {
	return database.RecordSubscriptionError(ctx, id, cause)
}

type Deps struct {
	Importer Importer
	Store    Store
	// Workers bounds concurrent imports. Zero reads subscription.workers
	// from the active config.
	Workers int
}

func (d Deps) store() Store {
	if d.Store == nil {
		return databaseStore{}
	}
	return d.Store
}

func (d Deps) workers() int {
	if d.Workers > 0 {
		return d.Workers
	}
	return config.GetConfig().Subscription.WorkerCount()
}

// Outcome summarises one RefreshAll pass.
type Outcome struct {
	Total     int
	Succeeded int
	Failed    int
	Nodes     int
	Duration  time.Duration
}

var ErrNoImporter = errors.New("refresh: importer is not configured")

// RefreshAll imports every enabled subscription. A failing subscription is
// recorded and does not stop the others.
func RefreshAll(ctx context.Context, deps Deps) (Outcome, error) {
	if deps.Importer == nil {
		return Outcome{}, ErrNoImporter
	}
	start := time.Now()

	subs, err := deps.store().ListEnabledSubscriptions(ctx)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{Total: len(subs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deps.workers())

	for _, sub := range subs {
		sub := sub
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			nodes, err := refresh(gctx, deps, sub, false)

			mu.Lock()
			if err != nil {
				outcome.Failed++
			} else {
				outcome.Succeeded++
				outcome.Nodes += nodes
			}
			mu.Unlock()
			return nil
		})
	}

	err = g.Wait()
	outcome.Duration = time.Since(start)
	return outcome, err
}

// RefreshOne imports a single subscription now, bypassing the payload cache.
// It returns the number of stored nodes.
func RefreshOne(ctx context.Context, deps Deps, sub domain.Subscription) (int, error) {
	if deps.Importer == nil {
		return 0, ErrNoImporter
	}
	return refresh(ctx, deps, sub, true)
}

func refresh(ctx context.Context, deps Deps, sub domain.Subscription, force bool) (int, error) {
	if force {
		if inv, ok := deps.Importer.(invalidator); ok {
			if err := inv.Invalidate(ctx, sub.URL); err != nil {
				log.Warn("Subscription cache invalidation failed", "id", sub.ID, "error", err)
			}
		}
	}

	store := deps.store()
	res, err := deps.Importer.Import(ctx, sub.URL)
	if err != nil {
		log.Warn("Subscription refresh failed", "id", sub.ID, "url", sub.URL, "error", err)
		if recordErr := store.RecordSubscriptionError(ctx, sub.ID, err); recordErr != nil {
			log.Error("Failed to record subscription error", "id", sub.ID, "error", recordErr)
		}
		return 0, err
	}

	nodes := domain.NodesFromSubscription(sub.ID, res.Nodes)
	if err := store.ReplaceSubscriptionNodes(ctx, sub.ID, string(res.Format), nodes); err != nil {
		log.Error("Failed to store subscription nodes", "id", sub.ID, "error", err)
		return 0, err
	}
	return len(nodes), nil
}
