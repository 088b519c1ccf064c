package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/overseer/internal/cloudflare"
	"github.com/overseer/internal/cname"
	"github.com/overseer/internal/config"
	"github.com/overseer/internal/constants"
	"github.com/overseer/internal/crypto"
	"github.com/overseer/internal/db"
	"github.com/overseer/internal/docker"
	"github.com/overseer/internal/ingress"
	"github.com/overseer/internal/jobs"
	"github.com/overseer/internal/logger"
	"github.com/overseer/internal/mcp"
	"github.com/overseer/internal/ports"
	"github.com/overseer/internal/secrets"
	"github.com/overseer/internal/tunnel"
)

const metaCloudflareTokenPath = "meta/cloudflare/api_token"

func main() {
	// Load .env file if it exists (optional, won't error if missing)
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.InitLogger(cfg.Environment)

	key, err := crypto.LoadKey(cfg.Crypto.KeyFile, cfg.Crypto.Key)
	if err != nil {
		log.Fatalf("Failed to load encryption key: %v", err)
	}
	box, err := crypto.NewBox(key)
	if err != nil {
		log.Fatalf("Failed to initialize encryption: %v", err)
	}

	database, err := db.Init(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()
	slogger.Info("database ready", "path", database.GetDBPath())

	projects, err := config.LoadProjects(cfg.ProjectsFile)
	if err != nil {
		log.Fatalf("Failed to load projects: %v", err)
	}
	if err := seedProjects(database, projects); err != nil {
		log.Fatalf("Failed to seed projects: %v", err)
	}

	secretStore := secrets.NewStore(database, box, slogger)
	allocator := ports.NewAllocator(database, slogger)
	detector := secrets.NewDetector()

	executor := docker.NewRealCommandExecutor()
	prober := docker.NewProber(executor, slogger)

	svc := &mcp.Services{
		Allocator: allocator,
		Secrets:   secretStore,
		Detector:  detector,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go prober.Run(ctx)

	var dnsClient *cloudflare.Client
	if cfg.Cloudflare.APIToken != "" || hasStoredToken(secretStore) {
		dnsClient = cloudflare.NewClient(cloudflare.NewRealHTTPClient(), tokenSource(cfg, secretStore), slogger)
	}

	var monitor *tunnel.Monitor
	if cfg.Tunnel.TunnelID != "" && dnsClient != nil {
		ingressManager := ingress.NewManager(cfg.Tunnel.IngressFile, executor, slogger)
		if err := ingressManager.EnsureFile(cfg.Tunnel.TunnelID, cfg.Tunnel.CredentialsFile); err != nil {
			log.Fatalf("Failed to prepare ingress file: %v", err)
		}

		monitor = tunnel.NewMonitor(strings.Fields(cfg.Tunnel.Command), cfg.Tunnel.PingURL, database, slogger)
		if err := monitor.Start(); err != nil {
			log.Fatalf("Failed to start tunnel: %v", err)
		}
		go monitor.Run(ctx)

		svc.Monitor = monitor
		svc.CNAME = cname.NewService(database, dnsClient, ingressManager, monitor,
			prober, cfg.Tunnel.TunnelID, cfg.Cloudflare.DefaultDomain, slogger)
	} else {
		slogger.Warn("tunnel disabled: TUNNEL_ID or Cloudflare credentials missing")
	}

	registry := mcp.NewRegistry(slogger)
	router, err := mcp.NewRouter(registry, cfg.ProjectsFile, slogger)
	if err != nil {
		log.Fatalf("Failed to build endpoint router: %v", err)
	}
	svc.Router = router
	if err := mcp.RegisterTools(registry, svc); err != nil {
		log.Fatalf("Failed to register tools: %v", err)
	}

	var zones jobs.ZoneLister
	if dnsClient != nil {
		zones = dnsClient
	}
	scheduler := jobs.NewScheduler(database, zones, secretStore, slogger)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	server := mcp.NewServer(cfg, router, registry, slogger)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-sigCh:
		slogger.Info("shutting down", "signal", sig.String())
	}

	cancel()
	scheduler.Stop()
	if monitor != nil {
		monitor.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownDrainTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slogger.Error("shutdown did not drain cleanly", "error", err)
	}
}

// seedProjects mirrors the projects file into the database, assigning each
// project its declared port range. A project range spans exactly
// constants.ProjectRangeSize ports; the shared pool spans SharedRangeSize.
func seedProjects(database *db.DB, projects []config.ProjectConfig) error {
	for _, p := range projects {
		start, end, err := config.ParsePortRange(p.PortRange)
		if err != nil {
			return err
		}
		if size := end - start + 1; size != constants.ProjectRangeSize && size != constants.SharedRangeSize {
			return fmt.Errorf("project %s: range %s spans %d ports, want %d (or %d for the shared pool)",
				p.Name, p.PortRange, size, constants.ProjectRangeSize, constants.SharedRangeSize)
		}
		rng, err := database.EnsurePortRange(p.Name, start, end)
		if err != nil {
			return err
		}
		err = database.UpsertProject(&db.Project{
			Name:         p.Name,
			PortRangeID:  rng.ID,
			WorkingDir:   p.WorkingDir,
			ToolsAllowed: p.AllowedTools,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// tokenSource prefers the environment token and falls back to the encrypted
// secrets store.
func tokenSource(cfg *config.Config, store *secrets.Store) cloudflare.TokenSource {
	return func() (string, error) {
		if cfg.Cloudflare.APIToken != "" {
			return cfg.Cloudflare.APIToken, nil
		}
		return store.Get(metaCloudflareTokenPath, "system")
	}
}

func hasStoredToken(store *secrets.Store) bool {
	_, err := store.Get(metaCloudflareTokenPath, "startup")
	return err == nil
}
