package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gluk-w/teemux/internal/config"
	"github.com/gluk-w/teemux/internal/database"
	"github.com/gluk-w/teemux/internal/events"
	"github.com/gluk-w/teemux/internal/handlers"
	"github.com/gluk-w/teemux/internal/logging"
	"github.com/gluk-w/teemux/internal/orchestrator"
	"github.com/gluk-w/teemux/internal/sshmanager"
	"github.com/gluk-w/teemux/internal/storage"
	"github.com/gluk-w/teemux/internal/terminal"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--import-hosts":
			runCLICommand("import-hosts")
			return
		case "--generate-key":
			runCLICommand("generate-key")
			return
		}
	}

	config.Load()
	logging.Init(config.Cfg.LogPath)
	defer logging.Close()

	if err := database.Init(config.Cfg.Database); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	hub := events.NewHub(config.Cfg.EventBuffer)
	termMgr := terminal.NewManager(hub, terminal.Config{
		GracePeriod:   config.Cfg.DestroyGrace,
		ReadChunkSize: config.Cfg.ReadChunkSize,
	})
	sshMgr := sshmanager.NewSSHManager(termMgr, hub, sshmanager.Config{
		ConnectTimeout:    config.Cfg.ConnectTimeout,
		KeepaliveInterval: config.Cfg.KeepaliveInterval,
		KnownHostsPath:    config.Cfg.KnownHosts,
		TermType:          config.Cfg.TermType,
		RateLimit: sshmanager.RateLimitConfig{
			MaxAttemptsPerMinute: config.Cfg.MaxConnectPerMinute,
			MaxConsecFailures:    config.Cfg.MaxConsecFailures,
			BlockDuration:        config.Cfg.FailureBlock,
		},
	})
	sshMgr.OnStatusChange(func(sessionID string, from, to sshmanager.Status, errMsg string) {
		if errMsg != "" {
			log.Printf("[session-mgr] %s: %s -> %s (%s)", sessionID, from, to, errMsg)
			return
		}
		log.Printf("[session-mgr] %s: %s -> %s", sessionID, from, to)
	})
	log.Printf("Session manager initialized (connect timeout %s, keepalive %s, destroy grace %s)",
		config.Cfg.ConnectTimeout, config.Cfg.KeepaliveInterval, config.Cfg.DestroyGrace)

	handlers.Hub = hub
	handlers.Terminals = termMgr
	handlers.Sessions = sshMgr
	handlers.Store = storage.New(database.DB)
	handlers.KeysDir = config.KeysDir()
	handlers.LocalShell = config.Cfg.LocalShell

	ctx := context.Background()
	if err := orchestrator.Init(ctx, config.Cfg.ExecBackend); err != nil {
		log.Printf("WARNING: %v", err)
	}

	purge, err := startPurgeJob(sshMgr, config.Cfg.PurgeSchedule, config.Cfg.SessionRetention)
	if err != nil {
		log.Fatalf("Purge job: %v", err)
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	handlers.RegisterRoutes(r)

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	<-purge.Stop().Done()
	sshMgr.CloseAll()
	termMgr.Stop()
	hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	file := fs.String("file", "", "YAML hosts file (import-hosts)")
	name := fs.String("name", "", "Key name (generate-key)")
	comment := fs.String("comment", "", "Key comment (generate-key)")
	passphrase := fs.String("passphrase", "", "Key passphrase (generate-key)")
	fs.Parse(os.Args[2:])

	config.Load()
	if err := database.Init(config.Cfg.Database); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	store := storage.New(database.DB)

	switch command {
	case "import-hosts":
		path := *file
		if path == "" && fs.NArg() > 0 {
			path = fs.Arg(0)
		}
		if path == "" {
			fmt.Fprintln(os.Stderr, "Usage: teemux --import-hosts --file <hosts.yaml>")
			os.Exit(1)
		}
		hosts, err := store.ImportYAMLFile(path)
		if err != nil {
			log.Fatalf("Import failed after %d hosts: %v", len(hosts), err)
		}
		fmt.Printf("Imported %d hosts from %s.\n", len(hosts), path)

	case "generate-key":
		if *name == "" && fs.NArg() > 0 {
			*name = fs.Arg(0)
		}
		if *name == "" {
			fmt.Fprintln(os.Stderr, "Usage: teemux --generate-key --name <name> [--comment <c>] [--passphrase <p>]")
			os.Exit(1)
		}
		handlers.Store = store
		key, err := handlers.CreateKey(config.KeysDir(), *name, *comment, *passphrase)
		if err != nil {
			log.Fatalf("Failed to generate key: %v", err)
		}
		fmt.Printf("Key '%s' written to %s\n%s\n", key.Name, key.Path, key.PublicKey)
	}
}
