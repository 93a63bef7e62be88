package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrmesh/internal/config"
	"github.com/ryandielhenn/zephyrmesh/internal/logging"
	"github.com/ryandielhenn/zephyrmesh/internal/telemetry"
	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
	"github.com/ryandielhenn/zephyrmesh/pkg/node"
	"github.com/ryandielhenn/zephyrmesh/pkg/registry"
)

// set with -ldflags "-X main.version=... -X main.gitSHA=..."
var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	if err := boot(); err != nil {
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}
}

// boot owns every deferred cleanup so that main is the only exit point.
func boot() error {
	// 1. Load configuration from env + flags
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()

	telemetry.SetBuildInfo(version, gitSHA)

	if err := run(cfg, logger); err != nil {
		logger.Error("agent failed", zap.Error(err))
		return err
	}
	return nil
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	port := strconv.Itoa(cfg.GossipPort)

	// 2. Bind the gossip socket; not being able to is fatal
	tr, err := gossip.ListenUDP(cfg.ListenAddr())
	if err != nil {
		return err
	}

	// 3. Collect seeds: static list plus whatever is registered in etcd
	seeds := cfg.Seeds
	var cli *clientv3.Client
	if len(cfg.EtcdEndpoints) > 0 {
		logger.Info("creating etcd client", zap.Strings("endpoints", cfg.EtcdEndpoints))
		cli, err = registry.NewClient(cfg.EtcdEndpoints)
		if err != nil {
			tr.Close()
			return err
		}
		defer cli.Close()

		lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		found, err := registry.Seeds(lctx, cli, registry.DefaultPrefix, cfg.AgentID)
		cancel()
		if err != nil {
			logger.Warn("listing seeds from etcd", zap.Error(err))
		}
		seeds = append(seeds, found...)
	}
	seeds = node.NormalizeSeeds(seeds, port)

	// 4. Start gossiping
	g, err := gossip.New(gossip.Config{
		Self: gossip.AgentRecord{
			AgentID:          cfg.AgentID,
			Name:             cfg.Name,
			Role:             cfg.Role,
			Skills:           cfg.Skills,
			Address:          cfg.AdvertiseAddr,
			ServicePort:      cfg.ServicePort,
			CredentialDigest: cfg.CredentialDigest(),
			Status:           gossip.StatusOnline,
			ProtocolVersion:  gossip.DefaultProtocolVersion,
		},
		Seeds:             seeds,
		HeartbeatInterval: cfg.HeartbeatInterval,
		CleanupInterval:   cfg.CleanupInterval,
		TimeoutMultiplier: cfg.TimeoutMultiplier,
		Fanout:            cfg.Fanout,
		Logger:            logger,
	}, tr)
	if err != nil {
		tr.Close()
		return err
	}
	// the gossiper outlives the signal context so Leave can still broadcast
	if err := g.Start(context.Background()); err != nil {
		return err
	}
	logger.Info("agent started",
		zap.String("agent_id", cfg.AgentID),
		zap.String("role", cfg.Role),
		zap.Strings("skills", cfg.Skills),
		zap.Strings("seeds", seeds))

	// 5. Register with etcd and greet agents that register later
	if cli != nil {
		ttl := int64((cfg.HeartbeatInterval * time.Duration(cfg.TimeoutMultiplier)).Seconds())
		if ttl < 5 {
			ttl = 5
		}
		leaseID, cancel, err := registry.RegisterAgent(ctx, cli, registry.DefaultPrefix, cfg.AgentID, cfg.AdvertiseAddr, ttl)
		if err != nil {
			logger.Warn("etcd registration failed", zap.Error(err))
		} else {
			defer func() {
				cancel()
				rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer rcancel()
				_, _ = cli.Revoke(rctx, leaseID)
			}()
		}
		registry.WatchSeeds(ctx, cli, registry.DefaultPrefix, cfg.AgentID, func(id, addr string) {
			logger.Debug("agent registered in etcd", zap.String("peer_id", id), zap.String("addr", addr))
			g.Join(node.NormalizeHostPort(addr, port))
		})
	}

	// 6. Wire up HTTP query endpoints
	var srv *http.Server
	if cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		node.NewNode(g).Register(mux)
		srv = &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server", zap.Error(err))
				stop()
			}
		}()
	}

	go reportPeers(ctx, g, logger, cfg.HeartbeatInterval)

	<-ctx.Done()
	logger.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(sctx)
	}
	return g.Leave(sctx)
}

// reportPeers periodically logs the local view of the network.
func reportPeers(ctx context.Context, g *gossip.Gossiper, logger *zap.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := g.Stats()
			logger.Info("known peers",
				zap.Int("count", st.OtherPeers),
				zap.Strings("addresses", st.KnownAddresses))
		}
	}
}
