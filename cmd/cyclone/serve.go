package main

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/searchktools/cyclone/app"
	"github.com/searchktools/cyclone/config"
	"github.com/searchktools/cyclone/core/logging"
	"github.com/searchktools/cyclone/core/sse"
	"github.com/searchktools/cyclone/core/store"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.Options{
				File:    opts.configFile,
				EnvFile: opts.envFile,
				Flags:   cmd.Flags(),
			})
			if err != nil {
				return errors.Mark(err, app.ErrStartup)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	f := cmd.Flags()
	f.String("host", "127.0.0.1", "address to bind")
	f.Int("port", 8000, "port to bind")
	f.Int("workers", 1, "number of OS threads executing requests")
	f.Bool("debug", false, "verbose error bodies")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return errors.Mark(err, app.ErrStartup)
	}
	defer closer.Close()

	a := app.New(cfg, log)
	api := &notesAPI{broker: sse.NewBroker("notes", 1000)}

	a.OnStartup(func(ctx context.Context) error {
		s, err := store.Open(cfg.Store)
		if err != nil {
			return err
		}
		api.store = s
		log.Info().Str("type", cfg.Store.Type).Str("path", cfg.Store.Path).Msg("store opened")
		return nil
	})
	a.OnShutdown(func(ctx context.Context) error {
		api.broker.Close()
		return api.store.Close()
	})

	if err := api.register(a, 15*time.Second); err != nil {
		return errors.Mark(err, app.ErrStartup)
	}
	return a.Run(ctx)
}
