// Command bench runs a synthetic workload against the caches and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/objcache/cache"
	pmet "github.com/IvanBrykalov/objcache/metrics/prom"
)

func main() {
	// ---- Flags ----
	var (
		mode = flag.String("mode", "ttl", "workload: ttl | ref")
		ttl  = flag.Duration("ttl", 100*time.Millisecond, "value TTL (ttl mode)")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		delPct   = flag.Int("deletes", 2, "delete percentage [0..100]")

		keys  = flag.Int("keys", 100_000, "keyspace size")
		zipfS = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed  = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "objcache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Snapshot flags for goroutines ----
	delPctVal := *delPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	var creations, gets, deletes, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	factory := func(k string) (string, error) {
		atomic.AddUint64(&creations, 1)
		return "v:" + k, nil
	}

	var runWorker func(r *rand.Rand, key func() string)
	switch *mode {
	case "ttl":
		c := cache.New[string, string](cache.Options[string, string]{
			TTL:       *ttl,
			Factory:   factory,
			AutoFlush: true,
			Metrics:   metrics,
		})
		defer func() { _ = c.Close() }()

		runWorker = func(r *rand.Rand, key func() string) {
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				atomic.AddUint64(&total, 1)
				k := key()
				if int(r.Int31n(100)) < delPctVal {
					atomic.AddUint64(&deletes, 1)
					c.Delete(k)
					continue
				}
				atomic.AddUint64(&gets, 1)
				if _, err := c.Get(k); err != nil {
					log.Fatalf("Get: %v", err)
				}
			}
		}

	case "ref":
		c := cache.NewRef[string, string](cache.RefOptions[string, string]{
			Factory: factory,
			Metrics: metrics,
		})
		defer func() { _ = c.Close() }()

		runWorker = func(r *rand.Rand, key func() string) {
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				atomic.AddUint64(&total, 1)
				atomic.AddUint64(&gets, 1)
				h, err := c.Acquire(key())
				if err != nil {
					log.Fatalf("Acquire: %v", err)
				}
				if _, err := h.Value(); err != nil {
					log.Fatalf("Value: %v", err)
				}
				if r.Intn(4) == 0 {
					if h2 := h.Clone(); h2 != nil {
						h2.Dispose()
					}
				}
				h.Dispose()
			}
		}

	default:
		log.Fatalf("unknown mode: %q (use ttl or ref)", *mode)
	}

	// ---- Load generation ----
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			runWorker(localR, func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			})
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	getsN := atomic.LoadUint64(&gets)
	deletesN := atomic.LoadUint64(&deletes)
	createdN := atomic.LoadUint64(&creations)

	hitRate := 0.0
	if getsN > 0 {
		hitRate = float64(getsN-createdN) / float64(getsN) * 100
	}

	fmt.Printf("mode=%s ttl=%v workers=%d keys=%d dur=%v seed=%d\n",
		*mode, *ttl, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  gets=%d  deletes=%d  creations=%d\n",
		ops, float64(ops)/elapsed.Seconds(), getsN, deletesN, createdN)
	fmt.Printf("hit-rate=%.2f%%\n", hitRate)
}
