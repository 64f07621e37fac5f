// Package main provides the entry point for the bulletin service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yourusername/bulletin/internal/announcement"
	"github.com/yourusername/bulletin/internal/auth"
	"github.com/yourusername/bulletin/internal/b2store"
	"github.com/yourusername/bulletin/internal/boltstore"
	"github.com/yourusername/bulletin/internal/config"
	"github.com/yourusername/bulletin/internal/coordinator"
	"github.com/yourusername/bulletin/internal/github"
	"github.com/yourusername/bulletin/internal/mongostore"
	"github.com/yourusername/bulletin/internal/render"
	"github.com/yourusername/bulletin/internal/server"
	"github.com/yourusername/bulletin/internal/storage"
	"github.com/yourusername/bulletin/internal/store"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	addr := flag.String("addr", "", "Listen address (overrides server.addr)")
	exportPath := flag.String("export", "", "Write a backup snapshot to this file (- for stdout) and exit")
	importPath := flag.String("import", "", "Restore a backup snapshot from this file and exit")
	syncOnce := flag.Bool("sync", false, "Push the local mirror to the primary backend and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	mirror, err := storage.OpenLocalAdapter(cfg.Storage.LocalDB, cfg.Storage.LocalQuotaBytes, logger)
	if err != nil {
		log.Fatalf("Failed to open local mirror: %v", err)
	}
	defer func() { _ = mirror.Close() }()

	primary, closePrimary, err := openPrimary(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open primary backend: %v", err)
	}
	defer closePrimary()

	st := store.New(coordinator.New(primary, mirror, logger), store.WithLogger(logger))
	st.Load(ctx)

	switch {
	case *exportPath != "":
		if err := exportSnapshot(st, *exportPath); err != nil {
			log.Fatalf("Export failed: %v", err)
		}
		return
	case *importPath != "":
		if err := importSnapshot(ctx, st, *importPath); err != nil {
			log.Fatalf("Import failed: %v", err)
		}
		return
	case *syncOnce:
		results := st.Sync(ctx)
		for kind, res := range results {
			log.Printf("%s: %s %v", kind, res.Outcome, errors.Join(res.Primary, res.Mirror))
		}
		if results.Outcome() != coordinator.OutcomeOK {
			os.Exit(1)
		}
		return
	}

	page := render.NewPageWithLogger(cfg.Site.Root, cfg.Site.DefaultImage, logger)
	page.Attach(st)

	checker := auth.NewChecker(cfg.GetAdminPassword())
	if !checker.Enabled() {
		log.Println("Warning: no admin password configured, admin endpoints are open")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewWithLogger(st, page, checker, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Serving on %s (primary: %s)", cfg.Server.Addr, st.Primary())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Done!")
}

// openPrimary builds the configured primary backend. A nil adapter means the
// local mirror is authoritative.
func openPrimary(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Adapter, func(), error) {
	noop := func() {}
	switch cfg.Storage.Primary {
	case config.PrimaryFile:
		return storage.NewFileAdapterWithLogger(cfg.Storage.DataDir, logger), noop, nil
	case config.PrimaryGitHub:
		if cfg.GetGitHubToken() == "" {
			log.Println("Warning: GITHUB_TOKEN is not set, saves to GitHub will fail")
		}
		adapter := github.NewAdapterWithLogger(github.Options{
			APIURL: cfg.GitHub.APIURL,
			Owner:  cfg.GitHub.Owner,
			Repo:   cfg.GitHub.Repo,
			Branch: cfg.GitHub.Branch,
			Paths: map[announcement.Kind]string{
				announcement.News:       cfg.GitHub.NewsPath,
				announcement.Activities: cfg.GitHub.ActivitiesPath,
			},
			Timeout: cfg.GitHubTimeout(),
			Token:   cfg.GetGitHubToken,
		}, logger)
		return adapter, noop, nil
	case config.PrimaryMongo:
		adapter, client, err := mongostore.Connect(ctx, cfg.GetMongoURI(), cfg.Mongo.Database, cfg.Mongo.Collection, logger)
		if err != nil {
			return nil, nil, err
		}
		return adapter, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(disconnectCtx)
		}, nil
	case config.PrimaryBolt:
		adapter, err := boltstore.Open(cfg.Storage.BoltPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return adapter, func() { _ = adapter.Close() }, nil
	case config.PrimaryB2:
		adapter, err := b2store.Connect(ctx, cfg.GetB2KeyID(), cfg.GetB2AppKey(), cfg.GetB2Bucket(), cfg.B2.Prefix, logger)
		if err != nil {
			return nil, nil, err
		}
		return adapter, noop, nil
	case config.PrimaryLocal:
		return nil, noop, nil
	}
	return nil, nil, fmt.Errorf("unknown primary backend %q", cfg.Storage.Primary)
}

func exportSnapshot(st *store.Store, path string) error {
	var w io.Writer = os.Stdout
	if path != "-" {
		// #nosec G304 -- path is user-provided output file path
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(st.ExportAll())
}

func importSnapshot(ctx context.Context, st *store.Store, path string) error {
	// #nosec G304 -- path is user-provided backup file path
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	snap, err := store.DecodeSnapshot(f)
	if err != nil {
		return err
	}
	results, err := st.ImportAll(ctx, snap)
	if err != nil {
		return err
	}
	log.Printf("Imported %d news and %d activities: %s", len(snap.News), len(snap.Activities), results.Outcome())
	if results.Outcome() == coordinator.OutcomeFailed {
		return fmt.Errorf("import was not persisted on any backend")
	}
	return nil
}
