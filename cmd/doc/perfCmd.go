package doc

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dDoc/cmd/util"
	"github.com/ValentinKolb/dDoc/lib/logging"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/oklog/ulid/v2"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/bson"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dDoc servers",
		Long:    "Runs every operation concurrently against the configured shard and reports latency percentiles and throughput. All documents written by the test are deleted afterwards.",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfOps       = 1000
	perfThreads   = 10
	perfValueSize = 140
	perfSkip      = make([]string, 0)

	perfLogger = logging.GetLogger("perf")
)

func init() {
	key := "skip-tests"
	perfTestCmd.Flags().String(key, "", util.WrapString("Tests to skip (comma separated - e.g. insert,mixed)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of concurrent clients"))
	key = "ops"
	perfTestCmd.Flags().Int(key, 1000, util.WrapString("Number of operations per test"))
	key = "value-size"
	perfTestCmd.Flags().Int(key, 140, util.WrapString("Size of the text field of the test documents (in bytes)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfOps = max(viper.GetInt("ops"), 1)
	perfThreads = max(viper.GetInt("threads"), 1)
	perfValueSize = max(viper.GetInt("value-size"), 0)
	perfSkip = strings.Split(viper.GetString("skip-tests"), ",")
	return nil
}

// perfResult is the outcome of a single test
type perfResult struct {
	Name    string
	Skipped bool
	Count   int64
	Errors  int64
	Elapsed time.Duration
	Mean    time.Duration
	P50     time.Duration
	P99     time.Duration
	Max     time.Duration
}

// OpsPerSec is the throughput of the test
func (r perfResult) OpsPerSec() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Count) / r.Elapsed.Seconds()
}

// perfTest is a named operation. setup runs once before the clock starts.
type perfTest struct {
	name  string
	setup func(ctx context.Context) error
	op    func(ctx context.Context, i int) error
}

func runPerf(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	runID := ulid.Make().String()
	text := strings.Repeat("x", perfValueSize)
	mine := store.Filter{"__perf": runID}
	live := store.WithTTL(0)

	fmt.Println("Performance testing tool for dDoc servers")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Shard: %d, Threads: %d, Ops per test: %d, Run: %s\n", util.GetShardID(), perfThreads, perfOps, runID)
	fmt.Println()

	// always remove the documents of this run
	defer func() {
		if _, err := rpcStore.Delete(context.Background(), mine); err != nil {
			perfLogger.Warnf("failed to delete test documents: %v", err)
		}
	}()

	document := func(i int) bson.M {
		return bson.M{"__perf": runID, "n": i, "user": fmt.Sprintf("user-%d", i%20), "post": text, "timestamp": time.Now()}
	}
	seed := func(ctx context.Context) error {
		if n, err := rpcStore.Count(ctx, mine, live); err != nil || n > 0 {
			return err
		}
		docs := make([]bson.M, 100)
		for i := range docs {
			docs[i] = document(i)
		}
		_, err := rpcStore.Insert(ctx, docs)
		return err
	}
	filter := func(i int) store.Filter {
		return store.Filter{"__perf": runID, "n": i % 100}
	}

	tests := []perfTest{
		{name: "insert", op: func(ctx context.Context, i int) error {
			_, err := rpcStore.Insert(ctx, document(100+i))
			return err
		}},
		{name: "find-one", setup: seed, op: func(ctx context.Context, i int) error {
			_, err := rpcStore.FindOne(ctx, filter(i), live)
			return err
		}},
		{name: "find-cached", setup: seed, op: func(ctx context.Context, i int) error {
			_, err := rpcStore.Find(ctx, mine, store.WithSort(bson.D{{Key: "n", Value: -1}}), store.WithLimit(50))
			return err
		}},
		{name: "find-live", setup: seed, op: func(ctx context.Context, i int) error {
			_, err := rpcStore.Find(ctx, mine, store.WithSort(bson.D{{Key: "n", Value: -1}}), store.WithLimit(50), live)
			return err
		}},
		{name: "count", setup: seed, op: func(ctx context.Context, i int) error {
			_, err := rpcStore.Count(ctx, mine, live)
			return err
		}},
		{name: "update-one", setup: seed, op: func(ctx context.Context, i int) error {
			_, err := rpcStore.UpdateOne(ctx, filter(i), bson.M{"$inc": bson.M{"likes": 1}})
			return err
		}},
		{name: "aggregate", setup: seed, op: func(ctx context.Context, i int) error {
			_, err := rpcStore.Aggregate(ctx, store.Pipeline{
				{"$match": bson.M{"__perf": runID}},
				{"$addFields": bson.M{"length": bson.M{"$strLenCP": "$post"}}},
				{"$group": bson.M{"_id": "$user", "total": bson.M{"$sum": "$length"}}},
			}, live)
			return err
		}},
		{name: "mixed", setup: seed, op: func(ctx context.Context, i int) error {
			var err error
			switch i % 4 {
			case 0:
				_, err = rpcStore.Insert(ctx, document(100+i))
			case 1:
				_, err = rpcStore.Find(ctx, filter(i), live)
			case 2:
				_, err = rpcStore.UpdateOne(ctx, filter(i), bson.M{"$set": bson.M{"seen": true}})
			case 3:
				_, err = rpcStore.Distinct(ctx, "user", mine, live)
			}
			return err
		}},
	}

	registry := metrics.NewRegistry()
	results := make([]perfResult, 0, len(tests))
	for _, test := range tests {
		result, err := runPerfTest(ctx, registry, test)
		if err != nil {
			return fmt.Errorf("(%s) setup failed: %w", test.name, err)
		}
		results = append(results, result)
		printPerfResult(result)
	}

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// runPerfTest runs perfOps calls of test.op on perfThreads goroutines
func runPerfTest(ctx context.Context, registry metrics.Registry, test perfTest) (perfResult, error) {
	if shouldSkip(test.name) {
		return perfResult{Name: test.name, Skipped: true}, nil
	}
	if test.setup != nil {
		if err := test.setup(ctx); err != nil {
			return perfResult{}, err
		}
	}

	timer := metrics.GetOrRegisterTimer(test.name+".latency", registry)
	errs := metrics.GetOrRegisterCounter(test.name+".errors", registry)

	var next atomic.Int64
	var wg sync.WaitGroup
	start := time.Now()
	for w := 0; w < perfThreads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(next.Add(1) - 1)
				if i >= perfOps || ctx.Err() != nil {
					return
				}
				began := time.Now()
				if err := test.op(ctx, i); err != nil {
					errs.Inc(1)
					perfLogger.Debugf("(%s) - error: %v", test.name, err)
				}
				timer.UpdateSince(began)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	snapshot := timer.Snapshot()
	ps := snapshot.Percentiles([]float64{0.5, 0.99})
	return perfResult{
		Name:    test.name,
		Count:   snapshot.Count(),
		Errors:  errs.Count(),
		Elapsed: elapsed,
		Mean:    time.Duration(snapshot.Mean()),
		P50:     time.Duration(ps[0]),
		P99:     time.Duration(ps[1]),
		Max:     time.Duration(snapshot.Max()),
	}, nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// printPerfResult prints the result of a test in a formatted way
func printPerfResult(r perfResult) {
	if r.Skipped {
		fmt.Printf("%-14sskipped\n", r.Name)
		return
	}
	fmt.Printf("%-14smean %-12s p50 %-12s p99 %-12s max %-12s %8.0f ops/sec  (%d errors)\n",
		r.Name, r.Mean, r.P50, r.P99, r.Max, r.OpsPerSec(), r.Errors)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results []perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "Skipped", "Count", "Errors", "MeanNs", "P50Ns", "P99Ns", "MaxNs", "OpsPerSec",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"ShardID", "Serializer", "Threads", "ValueSize",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, r := range results {
		row := []string{
			r.Name,
			strconv.FormatBool(r.Skipped),
			strconv.FormatInt(r.Count, 10),
			strconv.FormatInt(r.Errors, 10),
			strconv.FormatInt(r.Mean.Nanoseconds(), 10),
			strconv.FormatInt(r.P50.Nanoseconds(), 10),
			strconv.FormatInt(r.P99.Nanoseconds(), 10),
			strconv.FormatInt(r.Max.Nanoseconds(), 10),
			fmt.Sprintf("%.0f", r.OpsPerSec()),
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.ConnectionsPerEndpoint),
			strconv.FormatUint(util.GetShardID(), 10),
			viper.GetString("serializer"),
			strconv.Itoa(perfThreads),
			strconv.Itoa(perfValueSize),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", r.Name, err)
		}
	}

	return nil
}
