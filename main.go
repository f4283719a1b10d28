/*
Unseen serves a todo list whose page is rendered and updated entirely by the
server: list items are views bound to models, clicks travel to the server over
a websocket and are dispatched to the view that rendered them, and model
changes travel back as element updates. Todos live in a local bbolt store, or
behind any remote record endpoint, which is polled for changes made elsewhere.
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"unseen/config"
	"unseen/records"
	"unseen/rest"
	"unseen/server"
	"unseen/server/fastview"
	"unseen/server/root_view"
	"unseen/server/todo_views"
	"unseen/store"

	"github.com/mattn/go-isatty"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:          "unseen",
		Short:        "Serve a todo list whose views are bound to server side models",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath, cmd.Flags())
			if err != nil {
				return err
			}
			if err = setupLogging(cfg.LogLevel); err != nil {
				return err
			}
			return runApp(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path of the yaml config file")
	config.Flags(cmd.Flags())
	return cmd
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
		DisableColors: !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()),
	})
	return nil
}

// loadSeed seeds the store's collection from the json file at path, if the
// collection is empty.
func loadSeed(st *store.Store, collection, path string) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	defer f.Close()

	recs, err := records.DecodeRecords(f)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	n, err := st.Seed(collection, recs)
	if err != nil {
		return fmt.Errorf("seed %s: %w", path, err)
	}
	log.WithFields(log.Fields{"collection": collection, "records": n}).Info("seeded store")
	return nil
}

// newBackend returns the remote endpoint at sourceURL, or the store's
// collection when there is none.
func newBackend(st *store.Store, cfg *config.Config) (todo_views.Backend, error) {
	if cfg.Source.URL == "" {
		return &todo_views.StoreBackend{Store: st, Collection: cfg.Store.Collection}, nil
	}
	client, err := rest.NewClient(cfg.Source.URL)
	if err != nil {
		return nil, err
	}
	return &todo_views.RestBackend{Client: client}, nil
}

func runApp(ctx context.Context, cfg *config.Config) (err error) {
	appCtx, appCancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer appCancel()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	if cfg.Store.Seed != "" {
		if err = loadSeed(st, cfg.Store.Collection, cfg.Store.Seed); err != nil {
			return err
		}
	}

	backend, err := newBackend(st, cfg)
	if err != nil {
		return err
	}

	// Both were validated by config.Load.
	refresh, _ := cfg.Source.RefreshInterval()
	tick, _ := cfg.Deferred.TickInterval()

	var opts []fastview.CollectionOption
	if cfg.Deferred.Threshold > 0 {
		opts = append(opts, fastview.WithDeferred(cfg.Deferred.Threshold, cfg.Deferred.PerTick, tick))
	}
	views, err := todo_views.NewViews(appCtx, backend, refresh, opts...)
	if err != nil {
		return err
	}

	srv := server.NewServer(cfg.Addr, root_view.NewRootView("Todos", views...), st)

	group, groupCtx := errgroup.WithContext(appCtx)
	group.Go(func() error {
		return srv.Serve(groupCtx)
	})
	return group.Wait()
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
