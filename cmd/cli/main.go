// hnswgo CLI - Interactive command-line client over an in-process index
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/gibram-io/hnswgo/pkg/hnsw"
	"github.com/gibram-io/hnswgo/pkg/hnswerr"
	"github.com/gibram-io/hnswgo/pkg/hnswio"
	"github.com/gibram-io/hnswgo/pkg/logging"
	"github.com/gibram-io/hnswgo/pkg/simd"
	"github.com/gibram-io/hnswgo/pkg/version"
)

func main() {
	dim := flag.Int("dim", 128, "Vector dimension")
	metric := flag.String("metric", "l2", "Distance metric: l2, ip, cosine")
	element := flag.String("element", "f32", "Element type: f32, u8, i8")
	m := flag.Uint("m", 16, "Max neighbors per node (M)")
	efc := flag.Int("efc", 200, "ef_construction")
	ef := flag.Int("ef", 50, "Default search ef")
	maxElements := flag.Uint("max-elements", 1_000_000, "Max elements")
	indexFile := flag.String("load", "", "Load a saved index file on startup")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	log, err := logging.New(logging.Config{Level: *logLevel, Format: "text", Output: "stderr"})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	cfg := hnsw.DefaultConfig()
	cfg.Dimension = *dim
	cfg.Metric = simd.ParseMetric(*metric)
	cfg.Element = simd.ParseElementType(*element)
	cfg.M = uint32(*m)
	cfg.EfConstruction = *efc
	cfg.Ef = *ef
	cfg.MaxElements = uint32(*maxElements)
	cfg.Logger = log

	var idx *hnsw.Index
	if *indexFile != "" {
		f, ferr := os.Open(*indexFile)
		if ferr != nil {
			fmt.Printf("Error: %v\n", ferr)
			os.Exit(1)
		}
		idx, err = hnsw.LoadIndex(cfg, f)
		f.Close()
		if err != nil {
			fmt.Printf("Error loading %s: %v\n", *indexFile, err)
			os.Exit(1)
		}
		fmt.Printf("Loaded %s (%d elements)\n", *indexFile, idx.Size())
	} else {
		idx, err = hnsw.New(cfg)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Printf("║         hnswgo CLI v%-7s        ║\n", version.Version)
	fmt.Println("║     Type 'help' for commands          ║")
	fmt.Println("╚═══════════════════════════════════════╝")
	fmt.Printf("dim=%d metric=%s element=%s m=%d efc=%d ef=%d\n\n",
		cfg.Dimension, cfg.Metric, cfg.Element, cfg.M, cfg.EfConstruction, cfg.Ef)

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("hnswgo> ")
		line, rerr := reader.ReadString('\n')
		if rerr != nil {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToUpper(parts[0])
		args := parts[1:]

		switch cmd {
		case "QUIT", "EXIT":
			fmt.Println("Bye!")
			return

		case "HELP":
			printHelp()

		case "INFO":
			fp := idx.Footprint()
			fmt.Printf("elements=%d vector_bytes=%d graph_bytes=%d\n", fp.ElementsLen, fp.VectorBytes, fp.GraphBytes)

		case "INSERT":
			// INSERT <label> <v1> <v2> ... <vN>
			if len(args) < 2 {
				fmt.Println("Usage: INSERT <label> <v1> <v2> ... <vN>")
				continue
			}
			label, perr := strconv.ParseUint(args[0], 10, 64)
			if perr != nil {
				fmt.Printf("Error: bad label: %v\n", perr)
				continue
			}
			vec, verr := parseVector(args[1:], cfg.Element)
			if verr != nil {
				fmt.Printf("Error: %v\n", verr)
				continue
			}
			if err := idx.Insert(label, vec); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		case "UPDATE":
			// UPDATE <label> <v1> <v2> ... <vN>
			if len(args) < 2 {
				fmt.Println("Usage: UPDATE <label> <v1> <v2> ... <vN>")
				continue
			}
			label, perr := strconv.ParseUint(args[0], 10, 64)
			if perr != nil {
				fmt.Printf("Error: bad label: %v\n", perr)
				continue
			}
			vec, verr := parseVector(args[1:], cfg.Element)
			if verr != nil {
				fmt.Printf("Error: %v\n", verr)
				continue
			}
			if err := idx.Update(label, vec); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		case "DELETE":
			// DELETE <label>
			if len(args) < 1 {
				fmt.Println("Usage: DELETE <label>")
				continue
			}
			label, perr := strconv.ParseUint(args[0], 10, 64)
			if perr != nil {
				fmt.Printf("Error: bad label: %v\n", perr)
				continue
			}
			if err := idx.Delete(label); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		case "UNMARK":
			// UNMARK <label>
			if len(args) < 1 {
				fmt.Println("Usage: UNMARK <label>")
				continue
			}
			label, perr := strconv.ParseUint(args[0], 10, 64)
			if perr != nil {
				fmt.Printf("Error: bad label: %v\n", perr)
				continue
			}
			if err := idx.Unmark(label); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		case "SEARCH":
			// SEARCH <k> <v1> <v2> ... <vN>
			if len(args) < 2 {
				fmt.Println("Usage: SEARCH <k> <v1> <v2> ... <vN>")
				continue
			}
			k, perr := strconv.Atoi(args[0])
			if perr != nil {
				fmt.Printf("Error: bad k: %v\n", perr)
				continue
			}
			vec, verr := parseVector(args[1:], cfg.Element)
			if verr != nil {
				fmt.Printf("Error: %v\n", verr)
				continue
			}
			results, serr := idx.Search(hnsw.QueryContext{Query: vec, K: k})
			if serr != nil {
				fmt.Printf("Error: %v\n", serr)
				continue
			}
			for i, r := range results {
				fmt.Printf("  %d. label=%d dist=%.6f\n", i+1, r.Label, r.Distance)
			}

		case "RANGESEARCH":
			// RANGESEARCH <radius> <v1> <v2> ... <vN>
			if len(args) < 2 {
				fmt.Println("Usage: RANGESEARCH <radius> <v1> <v2> ... <vN>")
				continue
			}
			radius, perr := strconv.ParseFloat(args[0], 32)
			if perr != nil {
				fmt.Printf("Error: bad radius: %v\n", perr)
				continue
			}
			vec, verr := parseVector(args[1:], cfg.Element)
			if verr != nil {
				fmt.Printf("Error: %v\n", verr)
				continue
			}
			results, serr := idx.RangeSearch(vec, float32(radius), nil)
			if serr != nil {
				fmt.Printf("Error: %v\n", serr)
				continue
			}
			for i, r := range results {
				fmt.Printf("  %d. label=%d dist=%.6f\n", i+1, r.Label, r.Distance)
			}

		case "LOADVECFILE":
			// LOADVECFILE <path> [start_label]
			if len(args) < 1 {
				fmt.Println("Usage: LOADVECFILE <path> [start_label]")
				continue
			}
			startLabel := uint64(0)
			if len(args) > 1 {
				startLabel, _ = strconv.ParseUint(args[1], 10, 64)
			}
			n, lerr := loadVectorFile(idx, args[0], startLabel, cfg.Element)
			if lerr != nil {
				fmt.Printf("Error: %v\n", lerr)
			} else {
				fmt.Printf("OK - inserted %d vectors\n", n)
			}

		case "SAVE":
			// SAVE <path>
			if len(args) < 1 {
				fmt.Println("Usage: SAVE <path>")
				continue
			}
			if err := saveIndex(idx, args[0]); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK - saved")
			}

		default:
			fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func printHelp() {
	fmt.Println(`Commands:
  INFO                                    Index statistics
  INSERT <label> <v...>                   Insert a vector under label
  UPDATE <label> <v...>                   Replace a live label's vector
  DELETE <label>                          Soft-delete a label
  UNMARK <label>                          Undo a soft delete
  SEARCH <k> <v...>                       Top-k nearest neighbors
  RANGESEARCH <radius> <v...>             All neighbors within radius
  LOADVECFILE <path> [start_label]        Bulk insert from a vector-data file
  SAVE <path>                             Save the whole index to disk
  HELP                                    Show this help
  QUIT                                    Exit`)
}

func parseVector(fields []string, element simd.ElementType) ([]byte, error) {
	switch element {
	case simd.Float32:
		buf := make([]byte, 4*len(fields))
		for i, f := range fields {
			v, err := strconv.ParseFloat(f, 32)
			if err != nil {
				return nil, fmt.Errorf("component %d: %w", i, err)
			}
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
		}
		return buf, nil
	case simd.Uint8, simd.Int8:
		buf := make([]byte, len(fields))
		for i, f := range fields {
			v, err := strconv.ParseInt(f, 10, 16)
			if err != nil {
				return nil, fmt.Errorf("component %d: %w", i, err)
			}
			buf[i] = byte(v)
		}
		return buf, nil
	default:
		return nil, hnswerr.New(hnswerr.CodeInvalidArgument, "cli.parseVector", "unknown element type")
	}
}

func loadVectorFile(idx *hnsw.Index, path string, startLabel uint64, element simd.ElementType) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	vr, err := hnswio.OpenVectorFileReader(f, element)
	if err != nil {
		return 0, err
	}

	label := startLabel
	n := 0
	for {
		vec, verr := vr.Next()
		if verr != nil {
			break
		}
		if err := idx.Insert(label, vec); err != nil {
			return n, err
		}
		label++
		n++
	}
	return n, nil
}

func saveIndex(idx *hnsw.Index, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return idx.Save(f)
}
