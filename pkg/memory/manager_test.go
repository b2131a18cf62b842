package memory

import (
	"testing"
	"time"
)

func TestManagerSamplesFootprint(t *testing.T) {
	m := NewManager(Config{CheckInterval: 10 * time.Millisecond}, nil, func() IndexFootprint {
		return IndexFootprint{VectorBytes: 1024, GraphBytes: 256, ElementsLen: 4}
	})
	m.Start()
	time.Sleep(35 * time.Millisecond)
	m.Stop()

	stats := m.Stats()
	if stats.IndexBytes != 1280 {
		t.Fatalf("want index_bytes=1280, got %d", stats.IndexBytes)
	}
	if stats.ElementsLen != 4 {
		t.Fatalf("want elements_len=4, got %d", stats.ElementsLen)
	}
}

func TestManagerPressureWarning(t *testing.T) {
	m := NewManager(Config{CheckInterval: 10 * time.Millisecond, MaxMemoryBytes: 1}, nil, nil)
	m.Start()
	time.Sleep(15 * time.Millisecond)
	m.Stop()

	stats := m.Stats()
	if !stats.PressureWarning {
		t.Fatalf("expected pressure warning with a 1-byte ceiling")
	}
}

func TestManagerSetSourceAfterConstruction(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, nil)
	m.SetSource(func() IndexFootprint { return IndexFootprint{VectorBytes: 10} })
	m.sample()
	if m.Stats().IndexBytes != 10 {
		t.Fatalf("want index_bytes=10, got %d", m.Stats().IndexBytes)
	}
}
