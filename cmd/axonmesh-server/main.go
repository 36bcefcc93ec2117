// Command axonmesh-server runs one node of a hierarchical cognitive
// orchestrator: a registry of managed neurons, the local/distributed
// signal routers, the peer transport and discovery listeners, the
// direct-connection topology network with its self-reorganization
// controller, and the resource manager.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/axonmesh/axonmesh/pkg/cache"
	"github.com/axonmesh/axonmesh/pkg/config"
	"github.com/axonmesh/axonmesh/pkg/eventbus"
	"github.com/axonmesh/axonmesh/pkg/lm"
	"github.com/axonmesh/axonmesh/pkg/memory"
	"github.com/axonmesh/axonmesh/pkg/neuron"
	"github.com/axonmesh/axonmesh/pkg/registry"
	"github.com/axonmesh/axonmesh/pkg/resource"
	"github.com/axonmesh/axonmesh/pkg/router"
	"github.com/axonmesh/axonmesh/pkg/routing"
	"github.com/axonmesh/axonmesh/pkg/signal"
	"github.com/axonmesh/axonmesh/pkg/tools"
	"github.com/axonmesh/axonmesh/pkg/topology"
	"github.com/axonmesh/axonmesh/pkg/transport"
)

// cliOverrides mirrors the subset of config.ServerConfig the command
// line can override; only flags the user actually set on invocation are
// applied, so unset flags never clobber a YAML- or env-resolved value.
type cliOverrides struct {
	configPath *string
	serverID   *string
	listenAddr *string
	listenPort *int
	memoryPath *string
	compress   *bool
	cpuCores   *float64
	memoryMiB  *float64
}

func main() {
	var o cliOverrides

	rootCmd := &cobra.Command{
		Use:   "axonmesh-server",
		Short: "Run one node of a hierarchical cognitive orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Flags(), &o)
		},
		SilenceUsage: true,
	}

	f := rootCmd.Flags()
	o.configPath = f.StringP("config", "f", "", "path to YAML config file")
	o.serverID = f.String("server-id", "", "override configured server id")
	o.listenAddr = f.String("listen-addr", "", "override configured listen address")
	o.listenPort = f.Int("listen-port", 0, "override configured listen port")
	o.memoryPath = f.String("memory-path", "", "append-only memory store log path (disabled if empty)")
	o.compress = f.Bool("compress", false, "gzip-compress memory store frames")
	o.cpuCores = f.Float64("cpu-cores", 0, "override declared CPU capacity for the local resource manager")
	o.memoryMiB = f.Float64("memory-mib", 0, "override declared memory capacity in MiB for the local resource manager")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(flags *pflag.FlagSet, o *cliOverrides) error {
	configPath := *o.configPath
	if configPath == "" {
		configPath = os.Getenv("AXONMESH_CONFIG")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyExplicitFlags(flags, cfg, o)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log.Printf("axonmesh: server_id=%s listen=%s:%d neurons=%d", cfg.ServerID, cfg.ListenAddr, cfg.ListenPort, len(cfg.Neurons))

	var memStore *memory.Store
	if *o.memoryPath != "" {
		memStore, err = memory.Open(*o.memoryPath, *o.compress)
		if err != nil {
			return fmt.Errorf("open memory store: %w", err)
		}
		defer memStore.Close()
		log.Printf("axonmesh: memory store opened at %s", *o.memoryPath)
	}

	reg := registry.New()
	table := routing.BuildFromConfigs(cfg.Neurons, nil)
	events := eventbus.New()

	net := topology.New(events, nil)
	for _, nc := range cfg.Neurons {
		net.RegisterUnit(topology.Unit{ID: nc.ID, Layer: nc.Layer})
	}

	capacityCPU := *o.cpuCores
	if capacityCPU == 0 {
		capacityCPU = cfg.Resource.TotalCPUCores
	}
	capacityMem := *o.memoryMiB
	if capacityMem == 0 {
		capacityMem = float64(cfg.Resource.TotalMemoryMiB)
	}
	res := resource.NewLocal(capacityCPU, capacityMem)
	defer res.Shutdown()

	for _, nc := range cfg.Neurons {
		if err := buildAndRegisterNeuron(reg, nc, cfg, memStore, res); err != nil {
			return fmt.Errorf("build neuron %q: %w", nc.ID, err)
		}
	}
	log.Printf("axonmesh: registered %d neurons", reg.Count())

	table.OnConflict = func(neuronID string, old, newLoc routing.Location) {
		log.Printf("axonmesh: routing conflict on %s: %+v -> %+v", neuronID, old, newLoc)
	}

	local := router.NewLocal(reg, table, cfg.MaxHops)
	local.OnMaxHopsExceeded = func(sig signal.Signal) {
		log.Printf("axonmesh: signal %s dropped: exceeded max hops", sig.ID)
	}

	hub := transport.NewHub(cfg.ServerID, fmt.Sprintf("%s:%d", cfg.ListenAddr, cfg.ListenPort), table)
	dist := router.NewDistributed(local, table, hub, cfg.RemoteTimeout)
	hub.OnSignal = func(ctx context.Context, sig signal.Signal) {
		if err := local.SendSignal(ctx, sig); err != nil {
			log.Printf("axonmesh: failed to admit peer signal %s: %v", sig.ID, err)
		}
	}

	controller := topology.NewController(net, newRegistryStatsAdapter(reg), events, topology.ReorgConfig{
		EverySignals:             cfg.Reorg.EverySignals,
		LoadImbalanceMax:         cfg.Reorg.LoadImbalanceMax,
		InactiveEdgeAge:          cfg.Reorg.InactiveEdgeAge,
		InactiveEdgeUsage:        cfg.Reorg.InactiveEdgeUsage,
		SpecialistMinActivations: cfg.Reorg.SpecialistMinActivations,
		SpecialistMinScore:       cfg.Reorg.SpecialistMinScore,
	})
	local.OnSignalProcessed = func(signal.Signal) { controller.OnSignalProcessed() }

	if cfg.Discovery.Enabled {
		announced := make([]transport.AnnouncedNeuron, 0, len(cfg.Neurons))
		for _, nc := range cfg.Neurons {
			announced = append(announced, transport.AnnouncedNeuron{ID: nc.ID, Layer: nc.Layer})
		}
		disc := transport.NewDiscovery(cfg.ServerID, cfg.ListenAddr, cfg.Discovery.MulticastGroup, cfg.Discovery.MulticastPort, cfg.Discovery.AnnounceInterval, cfg.Discovery.MissedIntervalsDead)
		disc.SetLocalNeurons(announced)
		if err := disc.Start(table); err != nil {
			log.Printf("axonmesh: discovery disabled: %v", err)
		} else {
			defer disc.Shutdown()
		}
	}

	dist.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dist.Shutdown(shutdownCtx); err != nil {
			log.Printf("axonmesh: router shutdown: %v", err)
		}
	}()

	if err := hub.Start(); err != nil {
		return fmt.Errorf("start transport hub: %w", err)
	}
	defer hub.Shutdown()

	for _, rs := range cfg.RemoteServers {
		hub.Connect(rs.ID, fmt.Sprintf("%s:%d", rs.Addr, rs.Port))
	}

	stopReorg := make(chan struct{})
	go periodicReorganize(net, controller, stopReorg)
	defer close(stopReorg)

	log.Println("axonmesh: ready")
	waitForShutdown()
	log.Println("axonmesh: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := reg.ShutdownAll(shutdownCtx); err != nil {
		log.Printf("axonmesh: registry shutdown: %v", err)
	}
	return nil
}

// buildAndRegisterNeuron wires one neuron's collaborators (breaker,
// cache, tools, memory handle, resource manager) and registers the
// constructed runtime.
func buildAndRegisterNeuron(reg *registry.Registry, nc config.NeuronConfig, cfg *config.ServerConfig, memStore *memory.Store, res resource.Manager) error {
	var respCache *cache.Cache
	if cc, ok := cfg.CacheByLayer[nc.Layer]; ok {
		respCache = cache.New(cc.Capacity, cc.TTL)
	}

	n := neuron.New(neuron.Config{
		ID:                  nc.ID,
		Layer:               nc.Layer,
		ForwardConnections:  nc.ForwardConnections,
		BackwardConnections: nc.BackwardConnections,
		SystemPrompt:        nc.SystemPrompt,
		LM:                  lm.Echo(),
		Tools:               tools.BuildForLayer(nc.Layer, nc.ToolOverrides),
		Cache:               respCache,
		Memory:              memStore,
		Resources:           res,
		BreakerThreshold:    cfg.Breaker.Threshold,
		BreakerBackoff:      cfg.Breaker.Backoff,
		LMTimeout:           cfg.LMTimeout,
		MaxToolIterations:   cfg.MaxToolIterations,
		LearningEnabled:     true,
	})
	n.Start()
	return reg.Register(n)
}

// periodicReorganize runs the network's Hebbian self-organization pass
// and the reorganization controller's evaluation on a fixed cadence,
// independent of the per-signal counter in Controller.OnSignalProcessed
// — this is the time-based half of the §4.9 reorganization cadence,
// covering servers that see bursty or sparse traffic.
func periodicReorganize(net *topology.Network, controller *topology.Controller, stop <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			score := net.SelfOrganize()
			log.Printf("axonmesh: self-organize pass complete, emergence_score=%.3f", score)
			controller.Evaluate()
		}
	}
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

func applyExplicitFlags(flags *pflag.FlagSet, cfg *config.ServerConfig, o *cliOverrides) {
	if flags.Changed("server-id") {
		cfg.ServerID = *o.serverID
	}
	if flags.Changed("listen-addr") {
		cfg.ListenAddr = *o.listenAddr
	}
	if flags.Changed("listen-port") {
		cfg.ListenPort = *o.listenPort
	}
}
