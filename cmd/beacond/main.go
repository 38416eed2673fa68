package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beacon/internal/config"
	"beacon/internal/domain"
	"beacon/internal/handler"
	"beacon/internal/hub"
	"beacon/internal/logger"
	"beacon/internal/registry"
	"beacon/internal/repository"
	"beacon/internal/repository/sqlite"
	"beacon/internal/service"
	"beacon/internal/transport"
	"beacon/internal/trust"
	"beacon/internal/watcher"
)

func main() {
	configPath := flag.String("config", "", "config file (default: search BEACON_CONFIG, ./beacon.yaml, XDG, /etc)")
	addr := flag.String("addr", "", "HTTP listen address, overrides http.addr")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if err := run(*configPath, *addr, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "beacond: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr string, debug bool) error {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.HTTP.Addr = addr
	}
	if debug {
		cfg.Logging.Debug = true
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	if cfg.EnsureDeviceID() {
		if path == "" {
			path = config.DefaultConfigPath()
		}
		if err := cfg.Save(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Generated device id could not be saved; it will change on restart")
		} else {
			log.Info().Str("path", path).Str("device_id", cfg.Node.DeviceID).Msg("Generated device id")
		}
	}
	log.Info().Str("config", path).Msg(cfg.Summary())

	store, err := sqlite.New(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	issuers, keys := cfg.Trust.Effective(config.PolicyFile{})
	policy := trust.NewPolicy(cfg.Node.DeviceID, issuers...)
	keyDir := trust.NewKeyDirectory(keys)
	evaluator := trust.NewEvaluator(policy, keyDir, nil)

	if cfg.Trust.PolicyPath != "" {
		reloader := watcher.NewPolicyReloader(cfg.Trust.PolicyPath, cfg.Trust, policy, keyDir, log)
		if err := reloader.Reload(); err != nil {
			log.Warn().Err(err).Msg("Trust policy not loaded, using config only")
		}
		go func() {
			if err := reloader.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Trust policy watch stopped")
			}
		}()
	}

	udp := transport.NewUDP(transport.UDPConfig{
		BindAddress: cfg.Discovery.BindAddress,
		Port:        cfg.Discovery.Port,
	}, log)
	if err := udp.Init(ctx); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	defer udp.Close()

	bus := service.NewEventBus()
	devices := registry.New(cfg.Node.DeviceID)

	discovery := service.NewDiscoveryService(service.DiscoveryConfig{
		DeviceID:          cfg.Node.DeviceID,
		DeviceType:        cfg.Node.DeviceType,
		Capabilities:      cfg.Node.Capabilities,
		Port:              cfg.Discovery.Port,
		BroadcastAddress:  transport.ResolveBroadcast(cfg.Discovery.BroadcastAddress),
		BroadcastInterval: cfg.Discovery.BroadcastInterval.Duration(),
		SweepInterval:     cfg.Discovery.SweepInterval.Duration(),
		DeviceTimeout:     cfg.Discovery.DeviceTimeout.Duration(),
		Format:            cfg.Discovery.Format,
	}, service.DiscoveryDeps{
		Transport: udp,
		Registry:  devices,
		Evaluator: evaluator,
		Store:     store,
		Bus:       bus,
		Logger:    log,
	})
	exchange := service.NewExchangeService(service.ExchangeConfig{
		DeviceID:           cfg.Node.DeviceID,
		TrustedTTL:         cfg.Credential.TrustedTTL.Duration(),
		UntrustedTTL:       cfg.Credential.UntrustedTTL.Duration(),
		PendingTTL:         cfg.Credential.PendingTTL.Duration(),
		AcceptProvisioning: cfg.Credential.AcceptProvisioning,
	}, udp, evaluator, bus, log)

	if err := discovery.Init(ctx); err != nil {
		return fmt.Errorf("discovery: %w", err)
	}
	defer discovery.Shutdown()
	if err := exchange.Init(); err != nil {
		return fmt.Errorf("exchange: %w", err)
	}
	defer exchange.Close()

	own, err := loadOwnCredential(ctx, cfg.Node.CredentialPath, store)
	if err != nil {
		log.Warn().Err(err).Msg("Own credential not loaded, node is unowned")
	}
	if own != nil {
		if err := adoptCredential(ctx, own, exchange, discovery); err != nil {
			log.Warn().Err(err).Msg("Own credential rejected, node is unowned")
		}
	}

	unsubscribe := bus.On(service.EventOwnershipProvisioned, func(e service.Event) {
		p, ok := e.Payload.(service.ProvisionedPayload)
		if !ok {
			return
		}
		// the bus runs listeners on the transport's read goroutine
		go persistProvisioned(ctx, cfg.Node.CredentialPath, store, p, discovery, log)
	})
	defer unsubscribe()
	unsubscribeRemoval := bus.On(service.EventOwnershipRemoved, func(e service.Event) {
		p, ok := e.Payload.(service.OwnershipRemovedPayload)
		if !ok {
			return
		}
		go persistRemoval(ctx, cfg.Node.CredentialPath, store, p, e.Time, log)
	})
	defer unsubscribeRemoval()

	if err := discovery.Start(ctx); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}
	if err := discovery.RequestDiscovery(ctx, "", 0); err != nil {
		log.Warn().Err(err).Msg("Initial discovery request failed")
	}

	if cfg.HTTP.Addr != "" {
		server := newHTTPServer(ctx, cfg.HTTP.Addr, devices, exchange, discovery, bus, log)
		go func() {
			log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("HTTP server error")
				cancel()
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if err := server.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("HTTP shutdown error")
			}
		}()
	}

	log.Info().Str("device_id", cfg.Node.DeviceID).Int("port", udp.LocalPort()).Msg("beacond running")
	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return nil
}

func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// loadOwnCredential prefers the configured file and falls back to the newest
// credential in the store. No credential is not an error.
func loadOwnCredential(ctx context.Context, path string, store repository.ObjectStore) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read credential: %w", err)
		}
	}
	objs, err := store.List(ctx, repository.KindCredential, 1)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, nil
	}
	removed, err := credentialRemoved(ctx, store, objs[0].Hash)
	if err != nil || removed {
		return nil, err
	}
	return objs[0].Data, nil
}

// removalRecord marks a stored credential as given up by its owner
type removalRecord struct {
	CredentialHash string    `json:"credential_hash"`
	OwnerID        string    `json:"owner_id"`
	RemovedAt      time.Time `json:"removed_at"`
}

func credentialRemoved(ctx context.Context, store repository.ObjectStore, hash string) (bool, error) {
	records, err := store.List(ctx, repository.KindOwnershipRemoval, 0)
	if err != nil {
		return false, err
	}
	for _, obj := range records {
		var r removalRecord
		if err := json.Unmarshal(obj.Data, &r); err == nil && r.CredentialHash == hash {
			return true, nil
		}
	}
	return false, nil
}

// persistRemoval deletes the credential file and records the removal so the
// stored copy is not loaded again on restart
func persistRemoval(ctx context.Context, path string, store repository.ObjectStore, p service.OwnershipRemovedPayload, at time.Time, log logger.Logger) {
	if path != "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Error().Err(err).Str("path", path).Msg("Failed to delete removed credential")
		}
	}
	record, err := json.Marshal(removalRecord{
		CredentialHash: repository.ContentHash(p.Credential),
		OwnerID:        p.OwnerID,
		RemovedAt:      at.UTC(),
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode removal record")
		return
	}
	if _, err := store.Store(ctx, repository.KindOwnershipRemoval, record); err != nil {
		log.Error().Err(err).Msg("Failed to store removal record")
		return
	}
	log.Info().Str("owner_id", p.OwnerID).Msg("Ownership removal persisted")
}

func adoptCredential(ctx context.Context, raw []byte, exchange *service.ExchangeService, discovery *service.DiscoveryService) error {
	var cred domain.Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return fmt.Errorf("%w: %v", trust.ErrMalformedCredential, err)
	}
	if cred.Issuer == "" {
		return trust.ErrIncompleteCredential
	}
	if err := exchange.SetOwnCredential(raw); err != nil {
		return err
	}
	return discovery.UpdateOwnership(ctx, true, cred.Issuer)
}

func persistProvisioned(ctx context.Context, path string, store repository.ObjectStore, p service.ProvisionedPayload, discovery *service.DiscoveryService, log logger.Logger) {
	if _, err := store.Store(ctx, repository.KindCredential, p.Credential); err != nil {
		log.Error().Err(err).Msg("Failed to store provisioned credential")
	}
	if path != "" {
		if err := os.WriteFile(path, p.Credential, 0600); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to write provisioned credential")
		}
	}
	if err := discovery.UpdateOwnership(ctx, true, p.OwnerID); err != nil {
		log.Error().Err(err).Msg("Failed to apply ownership")
	}
}

func newHTTPServer(ctx context.Context, addr string, devices *registry.Registry, exchange *service.ExchangeService,
	discovery *service.DiscoveryService, bus *service.EventBus, log logger.Logger) *http.Server {

	sseHub := hub.New(log)
	go sseHub.Run(ctx)

	events := make(chan service.Event, 100)
	unsubscribe := bus.Subscribe(events)
	go func() {
		defer unsubscribe()
		for {
			select {
			case e := <-events:
				sseHub.Broadcast(string(e.Type), e)
			case <-ctx.Done():
				return
			}
		}
	}()

	mux := http.NewServeMux()
	handler.NewDeviceHandler(devices, exchange, discovery, log).Register(mux)
	mux.Handle("GET /events", sseHub)

	httpLog := log.WithComponent("http")
	return &http.Server{
		Addr:        addr,
		Handler:     handler.Chain(mux, handler.Recover(httpLog), handler.Logger(httpLog)),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
}
