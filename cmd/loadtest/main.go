// Loadtest drives concurrent GETs through a running balancer and reports how
// traffic spread over the backends, using the X-Backend-Server header set by
// cmd/testbackend.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080/items -concurrency 20 -requests 2000
//	go run ./cmd/loadtest -url http://localhost:8080 -out summary.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gogama/httpx"
	"github.com/gogama/httpx/request"
	"github.com/gogama/httpx/retry"
	"github.com/gogama/httpx/timeout"
	"golang.org/x/sync/errgroup"
)

const (
	backendHeader = "X-Backend-Server"
	unknown       = "(unknown)"
)

type options struct {
	URL         string
	Concurrency int
	Requests    int
	Timeout     time.Duration
}

// BackendSummary is the per-backend slice of a report.
type BackendSummary struct {
	Total   int     `json:"total"`
	Success int     `json:"success"`
	Failure int     `json:"failure"`
	Share   float64 `json:"share"`
	P50     float64 `json:"p50_ms"`
	P99     float64 `json:"p99_ms"`

	latencies []time.Duration
}

type Report struct {
	Target      string                     `json:"target"`
	Requests    int                        `json:"requests"`
	Concurrency int                        `json:"concurrency"`
	Success     int                        `json:"success"`
	Failure     int                        `json:"failure"`
	Errors      int                        `json:"errors"`
	Duration    time.Duration              `json:"duration_ns"`
	Throughput  float64                    `json:"throughput_rps"`
	StatusCodes map[int]int                `json:"status_codes"`
	Backends    map[string]*BackendSummary `json:"backends"`
}

func run(ctx context.Context, opts options) (*Report, error) {
	client := &httpx.Client{
		TimeoutPolicy: timeout.Fixed(opts.Timeout),
		RetryPolicy:   retry.Never,
	}

	report := &Report{
		Target:      opts.URL,
		Requests:    opts.Requests,
		Concurrency: opts.Concurrency,
		StatusCodes: make(map[int]int),
		Backends:    make(map[string]*BackendSummary),
	}
	var mutex sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	start := time.Now()
	for i := 0; i < opts.Requests; i++ {
		g.Go(func() error {
			plan, err := request.NewPlanWithContext(gctx, http.MethodGet, opts.URL, nil)
			if err != nil {
				return err
			}

			began := time.Now()
			e, err := client.Do(plan)
			dur := time.Since(began)

			mutex.Lock()
			defer mutex.Unlock()

			if err != nil {
				report.Errors++
				return nil
			}
			report.record(e.StatusCode(), backendOf(e), dur)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Duration = time.Since(start)
	if secs := report.Duration.Seconds(); secs > 0 {
		report.Throughput = float64(opts.Requests) / secs
	}
	report.summarize()

	return report, nil
}

func backendOf(e *request.Execution) string {
	if e.Response == nil {
		return unknown
	}
	if name := e.Response.Header.Get(backendHeader); name != "" {
		return name
	}
	return unknown
}

func (r *Report) record(status int, backend string, dur time.Duration) {
	r.StatusCodes[status]++

	bs, ok := r.Backends[backend]
	if !ok {
		bs = &BackendSummary{}
		r.Backends[backend] = bs
	}
	bs.Total++
	bs.latencies = append(bs.latencies, dur)

	if status >= 200 && status < 300 {
		r.Success++
		bs.Success++
	} else {
		r.Failure++
		bs.Failure++
	}
}

func (r *Report) summarize() {
	answered := r.Success + r.Failure
	for _, bs := range r.Backends {
		if answered > 0 {
			bs.Share = float64(bs.Total) / float64(answered)
		}
		sort.Slice(bs.latencies, func(i, j int) bool { return bs.latencies[i] < bs.latencies[j] })
		bs.P50 = pick(bs.latencies, 0.50)
		bs.P99 = pick(bs.latencies, 0.99)
	}
}

func pick(sorted []time.Duration, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return float64(sorted[int(float64(len(sorted)-1)*p)].Microseconds()) / 1000.0
}

func (r *Report) print() {
	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", r.Target)
	fmt.Printf("Requests: %d  Concurrency: %d\n", r.Requests, r.Concurrency)
	fmt.Printf("Success: %d  Failure: %d  Errors: %d\n", r.Success, r.Failure, r.Errors)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", r.Duration, r.Throughput)

	fmt.Println("\nStatus codes:")
	codes := make([]int, 0, len(r.StatusCodes))
	for k := range r.StatusCodes {
		codes = append(codes, k)
	}
	sort.Ints(codes)
	for _, k := range codes {
		fmt.Printf("  %d -> %d\n", k, r.StatusCodes[k])
	}

	fmt.Println("\nBackend distribution:")
	names := make([]string, 0, len(r.Backends))
	for k := range r.Backends {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		bs := r.Backends[k]
		fmt.Printf("  %s -> total=%d (%.1f%%) success=%d failure=%d p50=%.2fms p99=%.2fms\n",
			k, bs.Total, bs.Share*100, bs.Success, bs.Failure, bs.P50, bs.P99)
	}
}

func main() {
	var opts options
	flag.StringVar(&opts.URL, "url", "http://localhost:8080/", "target URL")
	flag.IntVar(&opts.Concurrency, "concurrency", 10, "number of requests in flight")
	flag.IntVar(&opts.Requests, "requests", 100, "total number of requests")
	flag.DurationVar(&opts.Timeout, "timeout", 10*time.Second, "per-request timeout")
	outJSON := flag.String("out", "", "write a JSON summary to this file")
	flag.Parse()

	report, err := run(context.Background(), opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
	report.print()

	if *outJSON != "" {
		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if report.Failure > 0 || report.Errors > 0 {
		os.Exit(2)
	}
}
