// Command slimlockbench drives a configurable number of goroutines
// against a pool of slimlock.Lock values and reports how often they
// promoted, pegged, and collapsed along the way. It exists to give the
// inflation protocol a workload to run under outside of the test
// suite, in the same spirit as the teacher's own benchmarkLocking
// harness, generalized from the teacher's hard-coded workloads table
// into a configurable external driver, and to exercise the domain-
// stack dependencies this repository carries for that purpose.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/dijkstracula/slimlock"
)

var (
	numLocks      = flag.Int("locks", 1, "number of independent Lock values to shard the workload across")
	goroutines    = flag.Int("goroutines", 16, "number of goroutines contending for the lock pool")
	writeFraction = flag.Float64("write-fraction", 0.1, "fraction of acquisitions that additionally wait on a condition variable before releasing")
	runDuration   = flag.Duration("duration", 5*time.Second, "how long to run the workload before reporting results")
	timedWait     = flag.Duration("timed-wait", 50*time.Millisecond, "timeout passed to WaitTimeout for the condition-wait fraction of operations")
	metricsAddr   = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address until the run completes")
)

// promStats adapts slimlock.Stats onto Prometheus counters and a
// gauge, registered against the default registry so -metrics-addr can
// serve them over promhttp alongside any other process metrics.
type promStats struct {
	promoted  prometheus.Counter
	pegged    prometheus.Counter
	collapsed prometheus.Counter
	live      prometheus.Gauge

	// Local mirrors of the Prometheus counters so the final summary
	// line can be printed without having to scrape the registry back.
	promotedCount  int64
	peggedCount    int64
	collapsedCount int64
}

func newPromStats() *promStats {
	return &promStats{
		promoted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "slimlockbench_promotions_total",
			Help: "Times a lock inflated from a bare head word into a fat record.",
		}),
		pegged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "slimlockbench_pegs_total",
			Help: "Times a goroutine installed a peg record to safely reach a fat record.",
		}),
		collapsed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "slimlockbench_collapses_total",
			Help: "Times a fat record was reclaimed back to a bare head word.",
		}),
		live: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "slimlockbench_live_fat_records",
			Help: "Current number of inflated (not yet collapsed) fat records across the pool.",
		}),
	}
}

func (p *promStats) Promoted() {
	p.promoted.Inc()
	p.live.Inc()
	atomic.AddInt64(&p.promotedCount, 1)
}

func (p *promStats) Pegged() {
	p.pegged.Inc()
	atomic.AddInt64(&p.peggedCount, 1)
}

func (p *promStats) Collapsed() {
	p.collapsed.Inc()
	p.live.Dec()
	atomic.AddInt64(&p.collapsedCount, 1)
}

func main() {
	flag.Parse()

	locks := make([]slimlock.Lock, *numLocks)
	conds := make([]*slimlock.Cond, *numLocks)
	stats := newPromStats()
	for i := range locks {
		locks[i].WithStats(stats)
		conds[i] = slimlock.NewCond()
	}

	var server *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
	}

	var ops, timeouts int64
	var wg sync.WaitGroup
	stop := make(chan struct{})
	barrier := make(chan struct{})

	for g := 0; g < *goroutines; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			<-barrier
			for {
				select {
				case <-stop:
					return
				default:
				}

				idx := rng.Intn(*numLocks)
				l := &locks[idx]
				if err := l.Lock(); err != nil {
					log.Fatalf("lock: %v", err)
				}
				if rng.Float64() < *writeFraction {
					if err := l.WaitTimeout(conds[idx], *timedWait); err == slimlock.ErrTimeout {
						atomic.AddInt64(&timeouts, 1)
					}
				}
				if err := l.Unlock(); err != nil {
					log.Fatalf("unlock: %v", err)
				}
				atomic.AddInt64(&ops, 1)
			}
		}(int64(g) + 1)
	}

	close(barrier)
	start := time.Now()
	time.Sleep(*runDuration)
	close(stop)
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("locks=%d goroutines=%d elapsed=%s ops=%d timeouts=%d promotions=%d pegs=%d collapses=%d\n",
		*numLocks, *goroutines, elapsed, atomic.LoadInt64(&ops), atomic.LoadInt64(&timeouts),
		atomic.LoadInt64(&stats.promotedCount), atomic.LoadInt64(&stats.peggedCount), atomic.LoadInt64(&stats.collapsedCount))

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("metrics server shutdown: %v", err)
		}
	}

	for i := range locks {
		if err := locks[i].Destroy(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: lock %d not idle at exit: %v\n", i, err)
		}
	}
}
