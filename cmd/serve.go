package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/xhad/docqa/pkg/logger"
	"github.com/xhad/docqa/server"
	"go.uber.org/zap"
)

func newServeCommand(root *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			log, err := logger.New(cfg.Debug)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.pipeline(nil, nil)
			if err != nil {
				return err
			}

			if cfg.VectorStore.ForceRecreate {
				log.Warn("force_recreate is set, every request drops the index first",
					zap.String("index", cfg.VectorStore.IndexName))
			}

			return server.New(p, cfg.Server, cfg.Auth, log).Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Address to listen on")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "Port to listen on")

	return cmd
}
