package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"blive-greeting/config"
	"blive-greeting/hub"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	setupLogger(cfg.LogLevel)

	rootCmd := &cobra.Command{
		Use:   "blive-greeting",
		Short: "Greets live streamers in chat when their room goes live",
		Long: `blive-greeting keeps one relay connection per configured live room,
watches for the LIVE event and posts a greeting into the room chat.

Credentials come from a cookies file exported from a logged-in browser.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfg.CookiesFile, "cookies", cfg.CookiesFile, "path to the cookies file")
	rootCmd.PersistentFlags().StringVar(&cfg.RoomsFile, "rooms", cfg.RoomsFile, "path to the rooms file")

	rootCmd.AddCommand(
		runCmd(cfg),
		greetCmd(cfg),
	)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func setupLogger(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statsHandler(registry *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, connections := registry.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"rooms":       rooms,
			"connections": connections,
			"roomIds":     registry.Rooms(),
		})
	}
}
