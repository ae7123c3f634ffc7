package main

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	oram "github.com/etclab/oram"
)

const (
	success = 0
	failure = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		flagLevel                string
		flagNumBlocks            int
		flagBlockSize            int
		flagBucketSize           int
		flagStashCapacity        int
		flagIterations           int
		flagTwoPath              bool
		flagMetricsAddr          string
		flagCompareLinearScan    bool
		flagLinearScanIterations int
	)

	pflag.StringVarP(&flagLevel, "level", "l", "info", "log output level")
	pflag.IntVar(&flagNumBlocks, "num-blocks", 1<<16, "number of logical addresses")
	pflag.IntVar(&flagBlockSize, "block-size", 256, "block payload size in bytes")
	pflag.IntVar(&flagBucketSize, "bucket-size", 4, "blocks per bucket (Z)")
	pflag.IntVar(&flagStashCapacity, "stash-capacity", 20, "stash capacity (S)")
	pflag.IntVar(&flagIterations, "iterations", 100_000, "number of accesses to drive")
	pflag.BoolVar(&flagTwoPath, "two-path", false, "use two-path eviction")
	pflag.StringVar(&flagMetricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address instead of exiting")
	pflag.BoolVar(&flagCompareLinearScan, "compare-linear-scan", false,
		"also drive a LinearScanORAM of the same size and report its physical access counts alongside the tree engine's")
	pflag.IntVar(&flagLinearScanIterations, "linear-scan-iterations", 1_000,
		"number of accesses to drive against the comparison LinearScanORAM (kept small: each one touches every block)")

	pflag.Parse()

	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	level, err := zerolog.ParseLevel(flagLevel)
	if err != nil {
		log.Error().Str("level", flagLevel).Err(err).Msg("could not parse log level")
		return failure
	}
	log = log.Level(level)

	m := newMetrics()

	cfg := oram.Config{
		NumBlocks:       flagNumBlocks,
		BlockSize:       flagBlockSize,
		BucketSize:      flagBucketSize,
		StashCapacity:   flagStashCapacity,
		TwoPathEviction: flagTwoPath,
		CountAccesses:   true,
		Logger:          log,
	}

	engine, err := oram.NewInMemory(cfg, rand.Reader)
	if err != nil {
		log.Error().Err(err).Msg("could not construct engine")
		return failure
	}

	value := make([]byte, flagBlockSize)
	start := time.Now()
	for i := 0; i < flagIterations; i++ {
		address := i % flagNumBlocks
		if i%2 == 0 {
			_, err = engine.Read(address)
		} else {
			_, err = engine.Write(address, value)
		}
		if err != nil {
			log.Error().Err(err).Int("iteration", i).Msg("access failed")
			return failure
		}
		m.accesses.Inc()
	}
	elapsed := time.Since(start)

	reads, writes := engine.Counters()
	m.physicalReads.Add(float64(reads))
	m.physicalWrites.Add(float64(writes))

	log.Info().
		Int("iterations", flagIterations).
		Dur("elapsed", elapsed).
		Int64("physical_reads", reads).
		Int64("physical_writes", writes).
		Float64("accesses_per_sec", float64(flagIterations)/elapsed.Seconds()).
		Msg("benchmark complete")

	fmt.Fprintf(os.Stdout, "accesses=%d elapsed=%s physical_reads=%d physical_writes=%d\n",
		flagIterations, elapsed, reads, writes)

	if flagCompareLinearScan {
		if err := runLinearScanComparison(log, m, flagNumBlocks, flagBlockSize, flagLinearScanIterations); err != nil {
			log.Error().Err(err).Msg("linear scan comparison failed")
			return failure
		}
	}

	if flagMetricsAddr == "" {
		return success
	}

	http.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", flagMetricsAddr).Msg("serving metrics")
	if err := http.ListenAndServe(flagMetricsAddr, nil); err != nil {
		log.Error().Err(err).Msg("metrics server failed")
		return failure
	}
	return success
}

// runLinearScanComparison drives a LinearScanORAM of the given size
// through the same read/write access pattern the tree engine above saw,
// so its physical access counts — always exactly numBlocks reads and
// numBlocks writes per access, independent of address — can be read
// alongside the tree engine's logarithmic ones.
func runLinearScanComparison(log zerolog.Logger, m *metrics, numBlocks, blockSize, iterations int) error {
	linear := oram.NewLinearScanORAM(numBlocks, blockSize)
	value := make([]byte, blockSize)

	start := time.Now()
	for i := 0; i < iterations; i++ {
		address := i % numBlocks
		var err error
		if i%2 == 0 {
			_, err = linear.Read(address)
		} else {
			_, err = linear.Write(address, value)
		}
		if err != nil {
			return fmt.Errorf("linear scan access %d: %w", i, err)
		}
		m.linearScanAccesses.Inc()
	}
	elapsed := time.Since(start)

	reads, writes := linear.Counters()
	m.linearScanPhysicalReads.Add(float64(reads))
	m.linearScanPhysicalWrites.Add(float64(writes))

	log.Info().
		Int("iterations", iterations).
		Dur("elapsed", elapsed).
		Int64("physical_reads", reads).
		Int64("physical_writes", writes).
		Float64("accesses_per_sec", float64(iterations)/elapsed.Seconds()).
		Msg("linear scan comparison complete")

	fmt.Fprintf(os.Stdout, "linear_scan: accesses=%d elapsed=%s physical_reads=%d physical_writes=%d\n",
		iterations, elapsed, reads, writes)
	return nil
}

type metrics struct {
	accesses       prometheus.Counter
	physicalReads  prometheus.Counter
	physicalWrites prometheus.Counter

	linearScanAccesses       prometheus.Counter
	linearScanPhysicalReads  prometheus.Counter
	linearScanPhysicalWrites prometheus.Counter
}

func newMetrics() *metrics {
	return &metrics{
		accesses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "oram_bench",
			Name:      "accesses_total",
			Help:      "Number of logical ORAM accesses driven.",
		}),
		physicalReads: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "oram_bench",
			Name:      "physical_bucket_reads_total",
			Help:      "Number of physical bucket reads against storage.",
		}),
		physicalWrites: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "oram_bench",
			Name:      "physical_bucket_writes_total",
			Help:      "Number of physical bucket writes against storage.",
		}),
		linearScanAccesses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "oram_bench",
			Name:      "linear_scan_accesses_total",
			Help:      "Number of logical accesses driven against the comparison LinearScanORAM.",
		}),
		linearScanPhysicalReads: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "oram_bench",
			Name:      "linear_scan_physical_block_reads_total",
			Help:      "Number of physical block reads against the comparison LinearScanORAM.",
		}),
		linearScanPhysicalWrites: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "oram_bench",
			Name:      "linear_scan_physical_block_writes_total",
			Help:      "Number of physical block writes against the comparison LinearScanORAM.",
		}),
	}
}
