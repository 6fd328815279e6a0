package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soporteakasiapro1-art/pi-island/internal/config"
	"github.com/soporteakasiapro1-art/pi-island/internal/islandlog"
	"github.com/soporteakasiapro1-art/pi-island/internal/manager"
	"github.com/soporteakasiapro1-art/pi-island/internal/rpc"
	"github.com/soporteakasiapro1-art/pi-island/internal/server"
	"github.com/soporteakasiapro1-art/pi-island/internal/watcher"
)

// Serve command flags
var (
	servePort    int
	serveHost    string
	serveToken   string
	serveQuiet   bool
	serveNoWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session manager and its HTTP bridge",
	Long: `Run the session manager: load past sessions from the transcript root,
watch it for changes, and serve the session API for UIs.

The API lives under /v1 (sessions, prompts, model and thinking controls,
resume, select, delete) with a WebSocket event stream at /v1/events and
Prometheus metrics at /metrics.

Only one serve runs per user; a second one exits with an error.

Authentication:
  Pass --token, set server.token in the config, or set PI_ISLAND_TOKEN.
  Clients send "Authorization: Bearer <token>" or ?token=<token>.
  Generate a token with: pi-island serve token

Examples:
  pi-island serve                  # localhost:8796
  pi-island serve -p 9000 -q       # custom port, no access log
  pi-island serve --no-watch       # load history once, ignore later changes`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Generate a secure authentication token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := server.GenerateSecureToken()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "server port (default: from config, 8796)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "server host (default: from config, localhost)")
	serveCmd.Flags().StringVar(&serveToken, "token", "", "bearer token for API authentication (default: PI_ISLAND_TOKEN)")
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "suppress HTTP request logging")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "do not watch the transcript root")

	serveCmd.AddCommand(serveTokenCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(&cfg)

	if logPath == "" {
		if logPath, err = defaultLogPath(); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		if err := islandlog.Init(logPath, verbose); err != nil {
			return err
		}
	}

	unlock, err := config.LockServe()
	if err != nil {
		return err
	}
	defer unlock()

	exe, err := config.ResolveAgent(cfg.Agent)
	if err != nil {
		return err
	}
	dir, err := cfg.Sessions.ResolvedDir()
	if err != nil {
		return err
	}
	islandlog.Log.Info("Starting serve", "agent", exe.Path, "sessions", dir, "host", cfg.Server.Host, "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := manager.New(manager.Options{
		Executable:   rpc.Executable{Path: exe.Path, Env: exe.Env, Args: exe.Args},
		Provider:     cfg.Agent.Provider,
		Model:        cfg.Agent.Model,
		Timeout:      cfg.RPC.Timeout(),
		ParseWorkers: cfg.Sessions.Workers(),
	})
	defer func() {
		if err := m.Close(); err != nil {
			islandlog.Log.Warn("Manager close", "error", err)
		}
	}()

	// Watch before the initial scan so nothing written in between is lost.
	if cfg.Sessions.Watch {
		w, err := watcher.New(dir, cfg.Sessions.DebounceDuration())
		if err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		defer w.Stop()
		go forwardEvents(ctx, w, m)
	}

	n, err := m.LoadHistory(ctx, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d sessions from %s\n", n, dir)

	srv := server.New(m, server.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Token:   cfg.Server.Token,
		Quiet:   serveQuiet,
		LogPath: logPath,
	})
	err = srv.ListenAndServe(ctx)
	fmt.Fprintln(os.Stderr, "Shutting down...")
	return err
}

// applyServeFlags lets explicit flags override the config file.
func applyServeFlags(cfg *config.Config) {
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if serveToken != "" {
		cfg.Server.Token = serveToken
	}
	if serveNoWatch {
		cfg.Sessions.Watch = false
	}
}

func forwardEvents(ctx context.Context, w *watcher.Watcher, m *manager.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-w.Events():
			m.HandleFileEvent(ev)
		}
	}
}
