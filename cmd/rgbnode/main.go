// Command rgbnode runs a Mound as a long-lived service: it holds
// whatever contracts are discovered on disk, exposes consign/consume
// over its data directory, and serves health and metrics endpoints.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RGB-WG/rgb-std-sub001/internal/config"
	"github.com/RGB-WG/rgb-std-sub001/pkg/codec"
	"github.com/RGB-WG/rgb-std-sub001/pkg/metrics"
	"github.com/RGB-WG/rgb-std-sub001/pkg/mound"
	"github.com/RGB-WG/rgb-std-sub001/pkg/pile/pgindex"
	"github.com/RGB-WG/rgb-std-sub001/pkg/witness"
)

// nodeObserver bundles the Prometheus metrics bundle (satisfying
// mound.Observer/pile.Observer/contract.Observer) with an optional
// Postgres secondary index. pkg/mound.WithObserver and
// pkg/contract.WithObserver both detect optional interfaces by
// type-asserting a single value, so this composite is what lets one
// WithObserver call wire all of them, including contract.WitnessObserver
// when pgindex is configured.
type nodeObserver struct {
	*metrics.Metrics
	adapter pgindex.WitnessObserverAdapter
}

// RecordWitnessStatus implements pkg/contract.WitnessObserver.
func (o nodeObserver) RecordWitnessStatus(contractId codec.ContractId, wid codec.WitnessId, status witness.Status) {
	o.adapter.RecordWitnessStatus(contractId, wid, status)
}

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("starting rgbnode")

	var (
		configPath = flag.String("config", "", "path to an optional YAML config overlay")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration:", err)
	}
	log.Printf("configured for consensus=%s testnet=%v data_dir=%s", cfg.ConsensusTag, cfg.Testnet, cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal("failed to create data directory:", err)
	}

	health := metrics.NewHealthStatus()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var observer mound.Observer = m
	var pgIndex *pgindex.Index
	if cfg.PostgresDSN != "" {
		idx, err := pgindex.Open(cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to open pgindex:", err)
		}
		if err := idx.Migrate(context.Background()); err != nil {
			log.Fatal("failed to migrate pgindex:", err)
		}
		pgIndex = idx
		observer = nodeObserver{
			Metrics: m,
			adapter: pgindex.WitnessObserverAdapter{
				Index:   idx,
				OnError: func(err error) { log.Printf("pgindex: mirror witness status: %v", err) },
			},
		}
		log.Printf("pgindex secondary index enabled")
	}

	opener := mound.DirPileOpener{Root: cfg.DataDir}
	node := mound.New(cfg.ConsensusTag, cfg.Testnet, opener, mound.WithObserver(observer))
	health.SetMound("ready")
	health.SetPile("connected")
	m.SetContractsHeld(len(node.Contracts()))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := health.ToJSON()
		if health.OverallStatus() == "error" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		w.Write(body)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:    cfg.HealthAddr,
		Handler: mux,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go pollChainOracle(ctx, node, health, time.Duration(cfg.ChainOraclePollIntervalSeconds)*time.Second)

	go func() {
		log.Printf("rgbnode health/metrics listening on %s", cfg.HealthAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start HTTP server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down rgbnode")
	cancel()
	if pgIndex != nil {
		if err := pgIndex.Close(); err != nil {
			log.Printf("pgindex close error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
}

// pollChainOracle periodically asks every held contract's pile which
// witnesses changed status since the last generation it saw, the way a
// real chain oracle would drive Contract.UpdateWitnessStatus/
// CommitTransaction from block/mempool observations (spec.md §4.D).
// This loop only reports what changed; wiring a real oracle means
// calling node.Contract(id).UpdateWitnessStatus for each observed
// witness before advancing the generation pointer.
func pollChainOracle(ctx context.Context, node *mound.Mound, health *metrics.HealthStatus, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastGeneration uint64
	health.SetChainOracle("connected")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := node.WitnessesSince(lastGeneration)
			if err != nil {
				log.Printf("chain oracle poll error: %v", err)
				health.SetChainOracle("disconnected")
				continue
			}
			health.SetChainOracle("connected")
			if len(changed) > 0 {
				log.Printf("chain oracle observed status changes in %d contract(s)", len(changed))
			}
			if gen, err := node.MaxGeneration(); err == nil {
				lastGeneration = gen
			}
		}
	}
}
