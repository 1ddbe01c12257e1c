// Closed-loop load generator for the transact endpoint. Exercises the two
// contention paths separately: duplicated idempotency keys (replays) and
// disjoint keys against a hot account (balance CAS conflicts).
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	totalUsers  int
	dupRate     float64
)

// Metrics
var (
	totalRequests uint64
	applied       uint64
	replayed      uint64
	rejected400   uint64
	conflict409   uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&totalUsers, "users", 1000, "Number of seeded accounts (u_1 .. u_N)")
	flag.Float64Var(&dupRate, "dup-rate", 0.1, "Fraction of requests reusing a recent idempotency key")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | DupRate: %.2f", workload, concurrency, duration, dupRate)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	// A small ring of recent keys lets the duplicate fraction hit the
	// idempotency gate instead of always committing fresh.
	var recentKeys []string

	for time.Since(start) < duration {
		key := uuid.NewString()
		if len(recentKeys) > 0 && rand.Float64() < dupRate {
			key = recentKeys[rand.Intn(len(recentKeys))]
		} else {
			recentKeys = append(recentKeys, key)
			if len(recentKeys) > 64 {
				recentKeys = recentKeys[1:]
			}
		}

		txnType := "credit"
		if rand.Float32() < 0.3 {
			txnType = "debit"
		}

		payload := map[string]interface{}{
			"idempotencyKey": key,
			"userId":         pickUser(),
			"amount":         int64(rand.Intn(500) + 1),
			"type":           txnType,
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/transactions/transact", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			if isReplay(resp.Body) {
				atomic.AddUint64(&replayed, 1)
			} else {
				atomic.AddUint64(&applied, 1)
			}
		case 400:
			atomic.AddUint64(&rejected400, 1)
		case 409:
			atomic.AddUint64(&conflict409, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickUser() string {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic hammers one account's balance CAS
		if rand.Float32() < 0.90 {
			return "u_1"
		}
	}
	return fmt.Sprintf("u_%d", rand.Intn(totalUsers)+1)
}

func isReplay(body io.Reader) bool {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return false
	}
	return strings.Contains(parsed.Message, "already processed")
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&applied)
	rep := atomic.LoadUint64(&replayed)
	rej := atomic.LoadUint64(&rejected400)
	conf := atomic.LoadUint64(&conflict409)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var conflictRate float64
	if total > 0 {
		conflictRate = float64(conf) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"applied":           ok,
		"idempotent_replay": rep,
		"rejected":          rej,
		"conflicts":         conf,
		"conflict_rate_pct": conflictRate,
		"errors":            fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)
}
