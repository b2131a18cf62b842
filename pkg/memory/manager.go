// Package memory monitors the process's memory footprint against the
// byte budget an hnsw.Index actually occupies (vector store batches
// plus layered-graph neighbor arrays), logging at increasing severity
// as usage approaches a configured ceiling.
//
// Grounded on the teacher's pkg/memory/manager.go ticker-driven
// monitorLoop and runtime.MemStats sampling, generalized from its
// four-cache eviction design — there is no cache to evict in an ANN
// index, only a graph and a vector store that must stay resident for
// recall to hold — to a pressure-reporting design: the only useful
// action when over budget is to log loudly, since evicting a vector or
// a neighbor edge would silently corrupt query results.
package memory

import (
	"runtime"
	"sync"
	"time"

	"github.com/gibram-io/hnswgo/pkg/logging"
)

// Config configures the pressure monitor.
type Config struct {
	// MaxMemoryBytes is the soft ceiling pressure ratios are computed
	// against. Zero disables pressure checks entirely.
	MaxMemoryBytes int64
	// CheckInterval is how often the monitor samples runtime.MemStats.
	CheckInterval time.Duration
}

// DefaultConfig returns a monitor that checks every 30s with no
// configured ceiling (pressure checks disabled until MaxMemoryBytes is
// set).
func DefaultConfig() Config {
	return Config{CheckInterval: 30 * time.Second}
}

// IndexFootprint is a byte-accounting snapshot an *hnsw.Index reports
// for the pressure monitor, avoiding an import cycle back into the
// hnsw package.
type IndexFootprint struct {
	VectorBytes int64
	GraphBytes  int64
	ElementsLen uint32
}

// Manager samples process and index memory usage on an interval and
// logs pressure warnings; it takes no eviction action since an ANN
// index has nothing it can silently drop.
type Manager struct {
	cfg    Config
	log    *logging.Logger
	source func() IndexFootprint

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu   sync.RWMutex
	last MemoryStats
}

// MemoryStats is the most recent sample the monitor took.
type MemoryStats struct {
	AllocatedBytes  int64
	SystemBytes     int64
	NumGC           uint32
	IndexBytes      int64
	ElementsLen     uint32
	PressureRatio   float64
	PressureWarning bool
}

// NewManager creates a monitor that reports IndexFootprint from
// source on each tick. source may be nil until SetSource is called.
func NewManager(cfg Config, log *logging.Logger, source func() IndexFootprint) *Manager {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if log == nil {
		log = logging.Global()
	}
	return &Manager{cfg: cfg, log: log, source: source, stopCh: make(chan struct{})}
}

// SetSource wires (or rewires) the index footprint callback after
// construction, for callers that build the Manager before the Index
// it watches exists.
func (m *Manager) SetSource(source func() IndexFootprint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.source = source
}

// Start begins the background sampling loop.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.monitorLoop()
}

// Stop halts the sampling loop and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *Manager) monitorLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *Manager) sample() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	source := m.source
	m.mu.RUnlock()

	var fp IndexFootprint
	if source != nil {
		fp = source()
	}
	indexBytes := fp.VectorBytes + fp.GraphBytes

	stats := MemoryStats{
		AllocatedBytes: int64(memStats.Alloc),
		SystemBytes:    int64(memStats.Sys),
		NumGC:          memStats.NumGC,
		IndexBytes:     indexBytes,
		ElementsLen:    fp.ElementsLen,
	}

	if m.cfg.MaxMemoryBytes > 0 {
		stats.PressureRatio = float64(memStats.Alloc) / float64(m.cfg.MaxMemoryBytes)
		switch {
		case stats.PressureRatio >= 0.95:
			stats.PressureWarning = true
			m.log.Error("memory pressure critical ratio=%.2f index_bytes=%d elements=%d", stats.PressureRatio, indexBytes, fp.ElementsLen)
		case stats.PressureRatio >= 0.85:
			stats.PressureWarning = true
			m.log.Warn("memory pressure high ratio=%.2f index_bytes=%d elements=%d", stats.PressureRatio, indexBytes, fp.ElementsLen)
		case stats.PressureRatio >= 0.75:
			m.log.Info("memory pressure elevated ratio=%.2f index_bytes=%d elements=%d", stats.PressureRatio, indexBytes, fp.ElementsLen)
		}
	}

	m.mu.Lock()
	m.last = stats
	m.mu.Unlock()
}

// Stats returns the most recent sample taken by the monitor loop.
func (m *Manager) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}
