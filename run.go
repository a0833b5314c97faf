package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"blive-greeting/action"
	"blive-greeting/config"
	"blive-greeting/directory"
	"blive-greeting/domain"
	"blive-greeting/greeting"
	"blive-greeting/hub"
	"blive-greeting/live"
	"blive-greeting/metrics"
	"blive-greeting/notify"
	"blive-greeting/session"
)

const shutdownTimeout = 10 * time.Second

func runCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch every configured room and greet when it goes live",
		Long: `Connects once to each room in the rooms file and blocks until every
connection has ended or the process is interrupted. Connections are not
retried.

A status server exposes /health, /stats and /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&cfg.Port, "port", "p", cfg.Port, "status server port")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	creds, err := session.LoadCookies(cfg.CookiesFile)
	if err != nil {
		return err
	}
	rooms, err := config.LoadRooms(cfg.RoomsFile)
	if err != nil {
		return err
	}
	if len(rooms) == 0 {
		return fmt.Errorf("no rooms listed in %s", cfg.RoomsFile)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	registry := hub.New()

	client := live.NewClient(directory.New(slog.Default()),
		live.WithHeartbeatInterval(cfg.HeartbeatInterval),
		live.WithMetrics(m),
		live.WithRegistry(registry),
	)
	bot := greeting.NewBot(action.NewSender(creds), botOptions(cfg)...)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/stats", statsHandler(registry))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("status server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		registry.CloseAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		defer cancel()
		return watchRooms(gctx, client, creds, rooms, bot)
	})

	return g.Wait()
}

// watchRooms runs one connection per room and waits for all of them. Errors
// caused by shutdown are not reported.
func watchRooms(ctx context.Context, client *live.Client, creds domain.Credentials, rooms []uint32, h domain.Handler) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result *multierror.Error
	)

	for _, roomID := range rooms {
		wg.Add(1)
		go func(roomID uint32) {
			defer wg.Done()
			err := client.ConnectAndRun(ctx, creds, roomID, h)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("room stopped", "room", roomID, "error", err)

			mu.Lock()
			result = multierror.Append(result, fmt.Errorf("room %d: %w", roomID, err))
			mu.Unlock()
		}(roomID)
	}
	wg.Wait()

	return result.ErrorOrNil()
}

func botOptions(cfg *config.Config) []greeting.Option {
	opts := []greeting.Option{greeting.WithDebounce(cfg.GreetingDebounce)}
	if cfg.OneBotEndpoint != "" && cfg.OneBotGroup != 0 {
		opts = append(opts, greeting.WithNotifier(
			notify.NewOneBot(cfg.OneBotEndpoint, cfg.OneBotToken),
			notify.Peer{Kind: notify.Group, ID: cfg.OneBotGroup},
		))
	}
	return opts
}
