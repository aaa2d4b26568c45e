// leachd -- per-node LEACH routing agent for a simulated wireless
// sensor network. One process hosts every simulated node: each node
// gets its own UDP/501 socket (distinguished by IP) and its own
// leach.Agent goroutine, registered into a shared leach.Manager that
// demultiplexes inbound control packets by destination address.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/geo/r2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/wsnsim/leach/internal/config"
	"github.com/wsnsim/leach/internal/leach"
	leachmetrics "github.com/wsnsim/leach/internal/metrics"
	"github.com/wsnsim/leach/internal/netio"
	appversion "github.com/wsnsim/leach/internal/version"
)

// shutdownTimeout bounds how long the metrics HTTP server is given to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("leachd starting",
		slog.String("version", appversion.Version),
		slog.Int("nodes", len(cfg.Nodes)),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := leachmetrics.NewCollector(reg)

	fleet, err := newFleet(cfg, collector, logger)
	if err != nil {
		logger.Error("failed to build node fleet", slog.String("error", err.Error()))
		return 1
	}
	defer fleet.close(logger)

	if err := runDaemon(cfg, fleet, reg, logger); err != nil {
		logger.Error("leachd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("leachd stopped")
	return 0
}

// -------------------------------------------------------------------------
// Fleet — one Agent + sender + listener per simulated node
// -------------------------------------------------------------------------

// fleet holds every simulated node's runtime state: its agent (running
// in the shared manager), its outbound sender, and its inbound
// listener.
type fleet struct {
	mgr       *leach.Manager
	senders   []*netio.UDPSender
	listeners []*netio.Listener
	portAlloc *netio.SourcePortAllocator
}

// newFleet builds one leach.Agent per configured node, wires it to a
// real UDP sender and listener, and registers it with a shared
// manager for inbound demultiplexing.
func newFleet(cfg *config.Config, collector *leachmetrics.Collector, logger *slog.Logger) (*fleet, error) {
	sinkAddr, err := cfg.Network.SinkIPAddr()
	if err != nil {
		return nil, err
	}

	broadcastAddr, err := cfg.Network.BroadcastIPAddr()
	if err != nil {
		return nil, err
	}

	positions, err := buildMobility(cfg.Nodes)
	if err != nil {
		return nil, err
	}

	f := &fleet{
		mgr:       leach.NewManager(),
		portAlloc: netio.NewSourcePortAllocator(),
	}

	for _, nc := range cfg.Nodes {
		addr, err := nc.IPAddr()
		if err != nil {
			f.close(logger)
			return nil, fmt.Errorf("node %q: %w", nc.Addr, err)
		}

		agent, sender, ln, err := f.buildNode(addr, sinkAddr, broadcastAddr, positions, cfg, collector, logger)
		if err != nil {
			f.close(logger)
			return nil, fmt.Errorf("build node %s: %w", addr, err)
		}

		f.mgr.Register(agent)
		f.senders = append(f.senders, sender)
		f.listeners = append(f.listeners, ln)
	}

	return f, nil
}

// buildMobility resolves every configured node's fixed coordinates
// into one shared leach.StaticMobilityProvider. Every agent shares
// the same provider so it can resolve distances to peers, not just
// its own position.
func buildMobility(nodes []config.NodeConfig) (leach.StaticMobilityProvider, error) {
	positions := make(leach.StaticMobilityProvider, len(nodes))
	for _, nc := range nodes {
		addr, err := nc.IPAddr()
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", nc.Addr, err)
		}
		positions[addr] = r2.Point{X: nc.PositionX, Y: nc.PositionY}
	}
	return positions, nil
}

// buildNode allocates a source port, opens a sender and a listener
// bound to addr, and constructs the leach.Agent for that node.
func (f *fleet) buildNode(
	addr, sinkAddr, broadcastAddr netip.Addr,
	positions leach.StaticMobilityProvider,
	cfg *config.Config,
	collector *leachmetrics.Collector,
	logger *slog.Logger,
) (*leach.Agent, *netio.UDPSender, *netio.Listener, error) {
	srcPort, err := f.portAlloc.Allocate()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("allocate source port: %w", err)
	}

	sender, err := netio.NewUDPSender(addr, srcPort, broadcastAddr, logger, netio.WithBindDevice(cfg.Network.IfName))
	if err != nil {
		f.portAlloc.Release(srcPort)
		return nil, nil, nil, fmt.Errorf("create sender: %w", err)
	}

	ln, err := netio.NewListener(netio.ListenerConfig{
		Addr:          addr,
		BroadcastAddr: broadcastAddr,
		IfName:        cfg.Network.IfName,
	})
	if err != nil {
		_ = sender.Close()
		f.portAlloc.Release(srcPort)
		return nil, nil, nil, fmt.Errorf("create listener: %w", err)
	}

	agent, err := leach.NewAgent(leach.AgentConfig{
		Addr:              addr,
		SinkAddr:          sinkAddr,
		RoundInterval:     cfg.Network.RoundInterval,
		AdvertiseInterval: cfg.Network.AdvertiseInterval,
		ReplyInterval:     cfg.Network.ReplyInterval,
		ElectionProb:      cfg.Network.ElectionProb,
		MaxQueueLen:       cfg.Network.MaxQueueLen,
		MaxQueueTime:      cfg.Network.MaxQueueTime,
	}, sender,
		leach.WithLogger(logger),
		leach.WithMetrics(collector.ForNode(addr)),
		leach.WithMobilityProvider(positions),
	)
	if err != nil {
		_ = ln.Close()
		_ = sender.Close()
		f.portAlloc.Release(srcPort)
		return nil, nil, nil, fmt.Errorf("create agent: %w", err)
	}

	return agent, sender, ln, nil
}

// close releases every sender and listener owned by the fleet.
func (f *fleet) close(logger *slog.Logger) {
	for _, ln := range f.listeners {
		if err := ln.Close(); err != nil {
			logger.Warn("failed to close listener", slog.String("error", err.Error()))
		}
	}
	for _, s := range f.senders {
		if err := s.Close(); err != nil {
			logger.Warn("failed to close sender", slog.String("error", err.Error()))
		}
	}
}

// -------------------------------------------------------------------------
// Daemon Run Loop
// -------------------------------------------------------------------------

// runDaemon starts the receiver, every agent goroutine, and the
// metrics HTTP server under a signal-aware errgroup, and blocks until
// shutdown.
func runDaemon(cfg *config.Config, f *fleet, reg *prometheus.Registry, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	if len(f.listeners) > 0 {
		recv := netio.NewReceiver(f.mgr, logger)
		g.Go(func() error {
			return recv.Run(gCtx, f.listeners...)
		})
	}

	for _, agent := range f.mgr.Agents() {
		agent := agent
		g.Go(func() error {
			return agent.Run(gCtx)
		})
	}

	metricsSrv := newAdminServer(cfg, reg, f.mgr)
	g.Go(func() error {
		logger.Info("metrics/admin server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// gracefulShutdown drains the metrics HTTP server. Agent goroutines
// and the receiver exit on their own once gCtx is cancelled.
func gracefulShutdown(ctx context.Context, servers ...*http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// HTTP + Config helpers
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newAdminServer wires the Prometheus metrics endpoint alongside two
// plain-text/JSON debug endpoints leachctl polls: the effective
// network schedule and a per-node routing table dump. No RPC
// framework is involved -- this is a single-process simulator, not a
// distributed daemon fleet, so a small net/http mux is all the
// control surface needs.
func newAdminServer(cfg *config.Config, reg *prometheus.Registry, mgr *leach.Manager) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/config", debugConfigHandler(cfg))
	mux.HandleFunc("/debug/routes", debugRoutesHandler(mgr))

	return &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// debugConfigHandler reports the effective network schedule as JSON.
func debugConfigHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(cfg.Network); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// debugRoutesHandler dumps one node's routing table as plain text.
// The node is selected via the "node" query parameter; omitting it
// lists every registered node address.
func debugRoutesHandler(mgr *leach.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		nodeParam := r.URL.Query().Get("node")
		if nodeParam == "" {
			for _, agent := range mgr.Agents() {
				fmt.Fprintln(w, agent.Addr())
			}
			return
		}

		addr, err := netip.ParseAddr(nodeParam)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid node address %q: %v", nodeParam, err), http.StatusBadRequest)
			return
		}

		agent, ok := mgr.Lookup(addr)
		if !ok {
			http.Error(w, fmt.Sprintf("no such node %q", nodeParam), http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "text/plain")
		agent.PrintRoutingTable(w)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
