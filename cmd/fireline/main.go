// Command fireline runs the edge coordination node (`serve`) or a
// responder simulator that drives the client stack (`simulate`).
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/firelinehq/fireline/internal/client"
	"github.com/firelinehq/fireline/internal/config"
	"github.com/firelinehq/fireline/internal/dedup"
	"github.com/firelinehq/fireline/internal/hub"
	"github.com/firelinehq/fireline/internal/server"
	"github.com/firelinehq/fireline/internal/state"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "fireline",
		Short:         "Edge coordination service for first responders on degraded networks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "fireline.yaml", "path to optional YAML config file")

	root.AddCommand(serveCmd(&cfgPath), simulateCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the edge node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			log, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer log.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store := state.New()
			window := dedup.NewWindow(cfg.DedupTTL(), log)
			go window.Run(ctx)

			h := hub.New(store, window, log)
			srv := server.New(cfg.ListenAddr, h, store, log)
			return srv.Start(ctx)
		},
	}
}

func simulateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Run a responder simulator against an edge node",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			log, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer log.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tr := client.NewWSTransport(cfg.EdgeURL, log)
			c := client.New(tr, client.Options{
				IncidentID:  cfg.IncidentID,
				ResponderID: cfg.ResponderID,
				ResendAfter: cfg.ResendAfter(),
				FlushTick:   cfg.FlushTick(),
			}, log)

			go runResponderScript(ctx, c, log)

			if err := c.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
}

// runResponderScript emits a random-walk location every few seconds and the
// occasional chat line, exercising the outbox end to end.
func runResponderScript(ctx context.Context, c *client.Client, log *zap.Logger) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	lat := 37.7749 + rng.Float64()*0.01
	lng := -122.4194 + rng.Float64()*0.01

	locTicker := time.NewTicker(5 * time.Second)
	chatTicker := time.NewTicker(15 * time.Second)
	defer locTicker.Stop()
	defer chatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-locTicker.C:
			lat += (rng.Float64() - 0.5) * 0.001
			lng += (rng.Float64() - 0.5) * 0.001
			accuracy := 5 + rng.Float64()*20
			if _, err := c.SendLocation(lat, lng, &accuracy); err != nil {
				log.Warn("simulate: queue location", zap.Error(err))
			}
		case <-chatTicker.C:
			if _, err := c.SendChat(fmt.Sprintf("checking in at %s", time.Now().Format(time.Kitchen))); err != nil {
				log.Warn("simulate: queue chat", zap.Error(err))
			}
			queued, pending := c.QueueDepth()
			log.Info("simulate: queue state",
				zap.String("status", string(c.View().State().Status)),
				zap.Int("queued", queued),
				zap.Int("pending", pending),
			)
		}
	}
}
