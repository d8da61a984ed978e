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

	"github.com/kalambet/canon/internal/api"
	"github.com/kalambet/canon/internal/builder"
	"github.com/kalambet/canon/internal/config"
	"github.com/kalambet/canon/internal/graph"
	"github.com/kalambet/canon/internal/langflow"
	"github.com/kalambet/canon/internal/queue"
	"github.com/kalambet/canon/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the canon server and build workers (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running canon server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show canon server and Langflow status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "canon.pid")
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

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func queuePolicy(cfg config.QueueConfig) queue.Policy {
	return queue.Policy{
		MaxAttempts:     cfg.MaxAttempts,
		BackoffBase:     cfg.BackoffBase,
		BackoffMax:      cfg.BackoffMax,
		RetainCompleted: cfg.RetainCompleted,
		RetainFailed:    cfg.RetainFailed,
	}
}

// openGraph returns the entity store selected by graph.backend and a func
// that releases it.
func openGraph(ctx context.Context, cfg config.GraphConfig, store *storage.Store) (graph.Store, func(), error) {
	if cfg.Backend != "neo4j" {
		return store, func() {}, nil
	}

	neo, err := graph.NewNeo4jStore(cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return nil, nil, err
	}
	if err := graph.WaitReady(ctx, neo, 10, 2*time.Second); err != nil {
		neo.Close(context.Background())
		return nil, nil, fmt.Errorf("neo4j at %s not ready: %w", cfg.Neo4jURI, err)
	}
	slog.Info("graph store connected", "backend", "neo4j", "uri", cfg.Neo4jURI)
	return neo, func() {
		if err := neo.Close(context.Background()); err != nil {
			slog.Warn("closing neo4j driver", "error", err)
		}
	}, nil
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "canon version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))
	if cfg.Server.APIToken == "" {
		slog.Warn("API token not set, HTTP routes are unauthenticated")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
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

	entities, closeGraph, err := openGraph(ctx, cfg.Graph, store)
	if err != nil {
		return err
	}
	defer closeGraph()

	q := queue.New(store, queuePolicy(cfg.Queue))
	if _, err := q.RecoverActive(ctx); err != nil {
		return fmt.Errorf("recovering interrupted jobs: %w", err)
	}

	flows := langflow.New(cfg.Langflow.BaseURL, cfg.Langflow.APIKey, cfg.Langflow.FlowID)
	recorder := builder.NewRecorder(nil, entities, q)
	proc := builder.NewProcessor(flows, recorder, q, cfg.Langflow.Timeout)
	worker := builder.NewWorker(q, proc, builder.NewNotifier(cfg.Webhook.NotifyURL), cfg.Queue.PollInterval)

	handler := api.NewHandler(api.Deps{
		Queue:     q,
		Completer: builder.NewCompleter(recorder),
		Graph:     entities,
		Langflow:  flows,
		Token:     cfg.Server.APIToken,
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
		slog.Info("canon listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("build workers started", "workers", cfg.Queue.Workers)
		return worker.RunN(gctx, cfg.Queue.Workers)
	})

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Queue: q}, version)
		stdio := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			slog.Info("MCP server started (stdio transport)")
			if err := stdio.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("canon is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop canon (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to canon (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}

	out := os.Stdout
	resp, err := client.get(ctx, "/health")
	if err != nil {
		printStatus(out, "Server", "stopped")
		printStatus(out, "Data dir", "%s", cfg.Storage.DataDir)
		return nil
	}
	resp.Body.Close()
	printStatus(out, "Server", "running on port %d", cfg.Server.Port)

	var check api.LangflowCheck
	if resp, err := client.get(ctx, "/test/langflow"); err == nil && decodeJSON(resp, &check) == nil {
		if check.Success {
			printStatus(out, "Langflow", "reachable at %s (%d flows)", cfg.Langflow.BaseURL, check.Flows)
		} else {
			printStatus(out, "Langflow", "%s", colorize(colorRed, check.Message))
		}
	}

	var stats queue.Stats
	if resp, err := client.get(ctx, "/queue/stats"); err == nil && decodeJSON(resp, &stats) == nil {
		printStatus(out, "Jobs", "%d waiting, %d active, %d completed, %d failed",
			stats.Waiting, stats.Active, stats.Completed, stats.Failed)
	}

	printStatus(out, "Graph", "%s", cfg.Graph.Backend)
	printStatus(out, "Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
