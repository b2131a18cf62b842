// hnswgo Server - a minimal gob-over-TCP demo wrapping one in-memory
// index, used to exercise the engine end to end without a real wire
// protocol in the retrieval pack to ground one on (see SPEC_FULL.md's
// DOMAIN STACK section).
package main

import (
	"context"
	"encoding/gob"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/gibram-io/hnswgo/pkg/hnsw"
	"github.com/gibram-io/hnswgo/pkg/logging"
	"github.com/gibram-io/hnswgo/pkg/memory"
	"github.com/gibram-io/hnswgo/pkg/metrics"
	"github.com/gibram-io/hnswgo/pkg/shutdown"
	"github.com/gibram-io/hnswgo/pkg/simd"
	"github.com/gibram-io/hnswgo/pkg/version"
	"golang.org/x/time/rate"
)

// Request is one gob-encoded line of the demo protocol: a command name
// plus whichever fields that command needs.
type Request struct {
	Cmd    string
	Label  uint64
	Vector []byte
	K      int
	Radius float32
}

// Response carries either a result set or an error back to the client.
type Response struct {
	OK      bool
	Error   string
	Results []hnsw.SearchResult
	Size    uint32
}

func main() {
	addr := flag.String("addr", ":6161", "TCP listen address")
	dim := flag.Int("dim", 128, "Vector dimension")
	metricFlag := flag.String("metric", "l2", "Distance metric: l2, ip, cosine")
	elementFlag := flag.String("element", "f32", "Element type: f32, u8, i8")
	maxElements := flag.Uint("max-elements", 1_000_000, "Max elements")
	snapshotPath := flag.String("snapshot", "", "Path to load/save a whole-index snapshot")
	searchQPS := flag.Float64("search-qps", 0, "Search rate limit in queries/sec (0 disables)")
	logLevel := flag.String("log-level", "info", "Log level")
	memCheckInterval := flag.Duration("mem-check-interval", 30*time.Second, "Memory pressure sample interval")
	shutdownTimeout := flag.Duration("shutdown-timeout", 15*time.Second, "Graceful shutdown timeout")
	flag.Parse()

	log, err := logging.New(logging.Config{Level: *logLevel, Format: "text", Output: "stdout"})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log = log.WithPrefix("main")

	log.Info("%s starting...", version.Banner("hnswgo server"))
	log.Info("  Address:     %s", *addr)
	log.Info("  Dimension:   %d", *dim)
	log.Info("  Metric:      %s", *metricFlag)

	cfg := hnsw.DefaultConfig()
	cfg.Dimension = *dim
	cfg.Metric = simd.ParseMetric(*metricFlag)
	cfg.Element = simd.ParseElementType(*elementFlag)
	cfg.MaxElements = uint32(*maxElements)
	cfg.Logger = log
	metricsCollector := metrics.NewCollector()
	cfg.Metrics = metricsCollector
	cfg.CollectMetrics = true
	if *searchQPS > 0 {
		cfg.SearchLimiter = rate.NewLimiter(rate.Limit(*searchQPS), int(*searchQPS)+1)
		log.Info("  Rate limit:  %.1f searches/sec", *searchQPS)
	}

	var idx *hnsw.Index
	if *snapshotPath != "" {
		if f, ferr := os.Open(*snapshotPath); ferr == nil {
			idx, err = hnsw.LoadIndex(cfg, f)
			f.Close()
			if err != nil {
				log.Error("Failed to load snapshot %s: %v", *snapshotPath, err)
				os.Exit(1)
			}
			log.Info("  Snapshot:    loaded %s (%d elements)", *snapshotPath, idx.Size())
		}
	}
	if idx == nil {
		idx, err = hnsw.New(cfg)
		if err != nil {
			log.Error("Failed to create index: %v", err)
			os.Exit(1)
		}
	}

	memManager := memory.NewManager(memory.Config{
		MaxMemoryBytes: 1 * 1024 * 1024 * 1024,
		CheckInterval:  *memCheckInterval,
	}, log.WithPrefix("memory"), idx.Footprint)
	memManager.Start()
	log.Info("  Memory:      monitoring enabled")

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Error("Failed to listen: %v", err)
		os.Exit(1)
	}

	var connWG sync.WaitGroup
	go acceptLoop(ln, idx, log, &connWG)
	log.Info("Server ready, listening on %s", *addr)

	shutdownHandler := shutdown.NewHandler()
	shutdownHandler.SetTimeout(*shutdownTimeout)

	shutdownHandler.Register("listener", 10, func(ctx context.Context) error {
		return ln.Close()
	})

	shutdownHandler.Register("connections", 20, func(ctx context.Context) error {
		done := make(chan struct{})
		go func() {
			connWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return nil
	})

	shutdownHandler.Register("memory-manager", 30, func(ctx context.Context) error {
		memManager.Stop()
		return nil
	})

	shutdownHandler.Register("snapshot", 40, func(ctx context.Context) error {
		if *snapshotPath == "" {
			return nil
		}
		f, err := os.Create(*snapshotPath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := idx.Save(f); err != nil {
			return err
		}
		log.Info("Snapshot saved: %s", *snapshotPath)
		return nil
	})

	shutdownHandler.Register("metrics-snapshot", 50, func(ctx context.Context) error {
		snap := metricsCollector.Snapshot()
		log.Info("Final metrics: %d counters, %d gauges, uptime %v", len(snap.Counters), len(snap.Gauges), snap.Uptime)
		return nil
	})

	shutdownHandler.Start()
	shutdownHandler.Wait()
	log.Info("Server stopped")
}

func acceptLoop(ln net.Listener, idx *hnsw.Index, log *logging.Logger, connWG *sync.WaitGroup) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		connWG.Add(1)
		go func() {
			defer connWG.Done()
			handleConn(conn, idx, log)
		}()
	}
}

func handleConn(conn net.Conn, idx *hnsw.Index, log *logging.Logger) {
	defer conn.Close()
	dec := gob.NewDecoder(conn)
	enc := gob.NewEncoder(conn)

	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn("decode error from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}

		resp := handleRequest(idx, req)
		if err := enc.Encode(&resp); err != nil {
			log.Warn("encode error to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

func handleRequest(idx *hnsw.Index, req Request) Response {
	switch req.Cmd {
	case "INSERT":
		if err := idx.Insert(req.Label, req.Vector); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case "UPDATE":
		if err := idx.Update(req.Label, req.Vector); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case "DELETE":
		if err := idx.Delete(req.Label); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case "UNMARK":
		if err := idx.Unmark(req.Label); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case "SEARCH":
		results, err := idx.Search(hnsw.QueryContext{Query: req.Vector, K: req.K})
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Results: results}

	case "RANGESEARCH":
		results, err := idx.RangeSearch(req.Vector, req.Radius, nil)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Results: results}

	case "INFO":
		return Response{OK: true, Size: idx.Size()}

	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func errResponse(err error) Response {
	return Response{OK: false, Error: err.Error()}
}
