package cli

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/iliyamo/ticket-mint-reconciler/internal/config"
	"github.com/iliyamo/ticket-mint-reconciler/internal/queue"
	"github.com/iliyamo/ticket-mint-reconciler/internal/router"
	queue_publisher "github.com/iliyamo/ticket-mint-reconciler/internal/service"
)

// NewServeCommand creates the serve command: the long running worker.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume ledger events and serve health endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, config.Load())
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pub := queue_publisher.NewPublisher(cfg.RabbitURL)
	defer pub.Close()

	d, err := a.driver(pub)
	if err != nil {
		return err
	}

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e, a.db)
	addr := ":" + cfg.Port
	go func() {
		log.Printf("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http: %v", err)
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(sctx)
	}()

	err = queue.NewConsumer(cfg.RabbitURL, d, cfg.Workers).Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Printf("reconciler: shutting down")
		return nil
	}
	return err
}
