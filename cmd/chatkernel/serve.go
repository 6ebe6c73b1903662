package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/chatkernel"
	"github.com/hupe1980/chatkernel/server"
	"github.com/spf13/cobra"
)

func serveCmd(g *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve kernels over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ck, err := chatkernel.FromConfig(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = ck.Close() }()

			logger := chatkernel.NewLogger(cfg.Logging)
			srv := server.New(ck, func(o *server.Options) {
				o.Logger = logger
				o.ShutdownTimeout = cfg.Server.ShutdownTimeout
			})

			logger.Info("chatkernel starting", "addr", addr, "provider", cfg.Provider.Name, "model", cfg.Provider.Model)
			return srv.ListenAndServe(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}
