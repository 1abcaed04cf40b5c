package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"cabinet/internal/core"
	"cabinet/internal/vfs"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

const usage = `usage: cabinet [serve] [flags]
       cabinet put [flags] <file> [key]
       cabinet ls [flags] [prefix]`

func setupLogging(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}

	handler := log.NewWithOptions(os.Stdout, log.Options{
		Level:           lvl,
		TimeFormat:      time.RFC3339,
		ReportTimestamp: true,
		TimeFunction:    log.NowUTC,
		ReportCaller:    true,
	})

	slog.SetDefault(slog.New(handler))
}

func Run(ctx context.Context, args []string) error {
	cmd := "serve"
	if len(args) > 0 && (args[0] == "serve" || args[0] == "put" || args[0] == "ls") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "put":
		return runPut(ctx, args)
	case "ls":
		return runList(ctx, args, os.Stdout)
	default:
		return runServe(ctx, args)
	}
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv("CABINET_CONFIG"), "path to YAML config file")
	listen := fs.String("listen", "", "HTTP listen port (overrides config)")
	dataDir := fs.String("data-dir", "", "directory for the local backend (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	setupLogging(cfg.LogLevel)

	if cfg.Backend == core.BackendLocal {
		// Ensure data directory is absolute for easier debugging.
		absDataDir, err := filepath.Abs(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to resolve data directory: %w", err)
		}
		cfg.DataDir = absDataDir
	}

	server, err := core.NewServer(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create cabinet server: %w", err)
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Listen),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 20 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		slog.Info("Starting Cabinet HTTP server", "port", cfg.Listen, "backend", cfg.Backend, "auth", cfg.Auth.Mode)
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	slog.Info("Cabinet Started")
	return eg.Wait()
}

// clientFlags registers the flags shared by the client subcommands.
func clientFlags(fs *flag.FlagSet) func() *core.Client {
	server := fs.String("server", envOr("CABINET_SERVER", "http://localhost:9000"), "cabinet server URL")
	user := fs.String("user", os.Getenv("CABINET_USER"), "basic auth user")
	password := fs.String("password", os.Getenv("CABINET_PASSWORD"), "basic auth password")

	return func() *core.Client {
		client := core.NewClient(*server)
		client.Username = *user
		client.Password = *password
		return client
	}
}

func envOr(key string, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runPut(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	newClient := clientFlags(fs)
	chunkSize := fs.Int64("chunk-size", vfs.DefaultChunkSize, "multipart part size in bytes")
	contentType := fs.String("content-type", "", "content type (default: inferred from the file name)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return errors.New(usage)
	}

	setupLogging(envOr("CABINET_LOG_LEVEL", "info"))

	path := fs.Arg(0)
	key := filepath.Base(path)
	if fs.NArg() == 2 {
		key = fs.Arg(1)
		if vfs.IsFolderKey(key) {
			key += filepath.Base(path)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}

	if *contentType == "" {
		*contentType = vfs.MimeTypeFromExtension(path)
	}

	u := vfs.Uploader{
		Target:    newClient(),
		ChunkSize: *chunkSize,
		Progress: func(sent, total int64) {
			slog.Debug("Upload progress", "key", key, "sent", sent, "total", total)
		},
	}

	info, err := u.Upload(ctx, key, f, stat.Size(), *contentType)
	if err != nil {
		return err
	}

	slog.Info("Uploaded", "key", info.Key, "size", info.Size, "etag", info.ETag)
	return nil
}

func runList(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	newClient := clientFlags(fs)
	limit := fs.Int("limit", 0, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	prefix := fs.Arg(0)
	if prefix != "" {
		prefix = vfs.FolderKey(prefix)
	}

	client := newClient()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer tw.Flush()

	cursor := ""
	for {
		page, err := client.List(ctx, prefix, cursor, *limit)
		if err != nil {
			return err
		}

		for _, e := range page.Entries {
			switch {
			case e.IsFolder && e.ItemCount != nil:
				fmt.Fprintf(tw, "%s\t-\t%d items\n", e.Key, *e.ItemCount)
			case e.IsFolder:
				fmt.Fprintf(tw, "%s\t-\t\n", e.Key)
			default:
				fmt.Fprintf(tw, "%s\t%d\t%s\n", e.Key, e.Size, e.ContentType)
			}
		}

		if !page.Truncated || page.Cursor == "" {
			return nil
		}
		cursor = page.Cursor
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, os.Args[1:]); err != nil {
		slog.Error("Cabinet exited with error", "error", err)
		os.Exit(1)
	}
}
