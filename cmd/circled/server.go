package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/circled/internal/api"
	"github.com/kalambet/circled/internal/config"
	"github.com/kalambet/circled/internal/notify"
	"github.com/kalambet/circled/internal/posts"
	"github.com/kalambet/circled/internal/responder"
	"github.com/kalambet/circled/internal/roster"
	"github.com/kalambet/circled/internal/scheduler"
	"github.com/kalambet/circled/internal/storage"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the circled daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running circled daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "circled.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "circled version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	apiToken, err := config.APIToken(cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Refuse to start twice against the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("circled is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("circled is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	actors, err := roster.LoadFile(cfg.Roster.Path)
	if err != nil {
		return fmt.Errorf("loading roster: %w", err)
	}
	rm, err := roster.New(store, actors)
	if err != nil {
		return fmt.Errorf("restoring actor state: %w", err)
	}
	slog.Info("roster loaded", "actors", len(actors), "path", cfg.Roster.Path)

	postStore := posts.NewStore(store)
	list, err := postStore.Load()
	if err != nil {
		return fmt.Errorf("loading posts: %w", err)
	}
	slog.Info("posts loaded", "count", len(list))

	sinks := notify.Multi{notify.NewLogSink()}
	if cfg.Notify.NATSURL != "" {
		natsSink, err := notify.DialNATS(cfg.Notify.NATSURL)
		if err != nil {
			slog.Warn("nats unavailable, notifications go to the log only", "url", cfg.Notify.NATSURL, "error", err)
		} else {
			defer natsSink.Close()
			sinks = append(sinks, natsSink)
			slog.Info("publishing notifications to nats", "url", cfg.Notify.NATSURL)
		}
	}

	sched := scheduler.New(scheduler.Deps{
		Actors: rm,
		Posts:  postStore,
		Responder: responder.New(responder.Config{
			APIKey:  cfg.Responder.APIKey,
			BaseURL: cfg.Responder.BaseURL,
			Model:   cfg.Responder.Model,
			Timeout: config.Duration(cfg.Responder.Timeout),
		}),
		Notifier: sinks,
		JobLog:   store,
		Fanout:   cfg.Scheduler.Fanout,
	}, config.Duration(cfg.Scheduler.JobInterval))
	registry := scheduler.NewRegistry(store, rm)
	trigger := scheduler.NewTrigger(sched, registry, config.Duration(cfg.Scheduler.TickInterval))

	handler := api.NewAppHandler(api.AppDeps{
		Scheduler: sched,
		Registry:  registry,
		Posts:     postStore,
		Roster:    rm,
		Jobs:      store,
		User:      api.User{ID: cfg.Circle.UserID, Name: cfg.Circle.UserName},
		Token:     apiToken,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	g.Go(func() error {
		trigger.Run(gctx)
		return nil
	})
	g.Go(func() error {
		fmt.Fprintf(os.Stderr, "circled listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Scheduler: sched, Posts: postStore, Roster: rm})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)")
	}

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("circled is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop circled (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to circled (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Model", "%s via %s", cfg.Responder.Model, cfg.Responder.BaseURL)
	printStatus("Roster", "%s", cfg.Roster.Path)
	if cfg.Notify.NATSURL != "" {
		printStatus("NATS", "%s", cfg.Notify.NATSURL)
	}

	if running {
		token, err := config.APIToken(cfg)
		if err == nil {
			c := &apiClient{baseURL: serverURL, token: token, httpClient: client}
			var stats api.SchedulerResponse
			if err := c.getJSON(ctx, "/scheduler", &stats); err == nil {
				printQueue(stats)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func printQueue(stats api.SchedulerResponse) {
	labels := []string{"interaction", "post", "scheduled", "user"}
	parts := make([]string, 0, len(stats.Queued))
	for i, n := range stats.Queued {
		label := strconv.Itoa(i)
		if i < len(labels) {
			label = labels[i]
		}
		parts = append(parts, fmt.Sprintf("%s=%d", label, n))
	}
	printStatus("Queue", "%s", strings.Join(parts, " "))
	printStatus("Jobs", "%d processed, %d rejected, %d failed", stats.Processed, stats.Rejected, stats.Failed)
}
