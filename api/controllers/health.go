package controllers

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/jem-cart/api/responses"
	"github.com/angelmondragon/jem-cart/pkg/config"
	pkgerrors "github.com/angelmondragon/jem-cart/pkg/errors"
	"github.com/angelmondragon/jem-cart/pkg/logger"
)

const readinessTimeout = 2 * time.Second

const (
	checkOK          = "ok"
	checkUnavailable = "unavailable"
)

// Pinger is satisfied by the db and redis clients.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Jem-Env", cfg.App.Env)
		responses.WriteSuccess(w, healthStatus{Status: "live"})
	}
}

// HealthReady pings every configured dependency in parallel. Nil entries are
// skipped so the memory store can run without a database.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Jem-Env", cfg.App.Env)

		checks, failed, err := pingAll(r.Context(), deps)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, failed+" unavailable").
				WithDetails(map[string]any{"dependency": failed, "checks": checks}))
			return
		}
		responses.WriteSuccess(w, healthStatus{Status: "ready", Checks: checks})
	}
}

// pingAll returns every dependency's status plus the first failure in name
// order.
func pingAll(ctx context.Context, deps map[string]Pinger) (map[string]string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(deps))
		errs   = make(map[string]error)
	)
	var g errgroup.Group
	for name, dep := range deps {
		if dep == nil {
			continue
		}
		g.Go(func() error {
			err := dep.Ping(ctx)
			mu.Lock()
			defer mu.Unlock()
			checks[name] = checkOK
			if err != nil {
				checks[name] = checkUnavailable
				errs[name] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	if len(names) == 0 {
		return checks, "", nil
	}
	sort.Strings(names)
	return checks, names[0], errs[names[0]]
}
