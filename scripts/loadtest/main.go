// Loadtest sends concurrent requests through the proxy and reports status
// codes and latency percentiles. Running it while the backend restarts shows
// whether delivery retries hide the restart from clients (no 502s).
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8000/ -concurrency 10 -requests 1000
//	go run ./scripts/loadtest -url http://localhost:8000/ -requests 5000 -csv results.csv -out summary.json
package main

import (
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type sample struct {
	idx      int
	at       time.Time
	status   int
	duration time.Duration
	err      error
}

func main() {
	var (
		url         = flag.String("url", "http://localhost:8000/", "Target URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		method      = flag.String("method", http.MethodGet, "HTTP method")
		body        = flag.String("body", "", "Request body")
		timeout     = flag.Duration("timeout", 60*time.Second, "Per-request timeout")
		outJSON     = flag.String("out", "", "Write JSON summary to this file (optional)")
		outCSV      = flag.String("csv", "", "Write per-request CSV to this file (optional)")
		verbose     = flag.Bool("v", false, "Verbose per-request logging to stdout")
	)
	flag.Parse()

	client := &http.Client{
		Timeout: *timeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	jobs := make(chan int)
	results := make(chan sample, *concurrency)

	var wg sync.WaitGroup
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results <- send(client, *method, *url, *body, idx)
			}
		}()
	}

	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	testStart := time.Now()
	var samples []sample
	for s := range results {
		if *verbose {
			fmt.Printf("idx=%d status=%d dur=%v err=%v\n", s.idx, s.status, s.duration, s.err)
		}
		samples = append(samples, s)
	}
	elapsed := time.Since(testStart)

	if *outCSV != "" {
		if err := writeCSV(*outCSV, samples); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write csv: %v\n", err)
			os.Exit(1)
		}
	}

	summary := summarize(samples, elapsed)
	summary.Target = *url
	summary.Concurrency = *concurrency
	summary.print()

	if *outJSON != "" {
		if err := summary.write(*outJSON); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write json: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	if summary.BadGateway > 0 || summary.Errors > 0 {
		os.Exit(2)
	}
}

func send(client *http.Client, method, url, body string, idx int) sample {
	s := sample{idx: idx, at: time.Now()}

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		s.err = err
		return s
	}

	resp, err := client.Do(req)
	s.duration = time.Since(s.at)
	if err != nil {
		s.err = err
		return s
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, resp.Body)
	s.status = resp.StatusCode
	return s
}

type summary struct {
	Target         string         `json:"target"`
	Concurrency    int            `json:"concurrency"`
	Total          int            `json:"total"`
	Errors         int            `json:"errors"`
	BadGateway     int            `json:"bad_gateway"`
	StatusCodes    map[string]int `json:"status_codes"`
	DurationMillis int64          `json:"duration_ms"`
	Throughput     float64        `json:"throughput_rps"`
	P50            float64        `json:"p50_ms"`
	P90            float64        `json:"p90_ms"`
	P99            float64        `json:"p99_ms"`
	Max            float64        `json:"max_ms"`
}

func summarize(samples []sample, elapsed time.Duration) summary {
	s := summary{
		Total:          len(samples),
		StatusCodes:    map[string]int{},
		DurationMillis: elapsed.Milliseconds(),
		Throughput:     float64(len(samples)) / elapsed.Seconds(),
	}

	var latencies []time.Duration
	for _, sm := range samples {
		if sm.err != nil {
			s.Errors++
			continue
		}
		if sm.status == http.StatusBadGateway {
			s.BadGateway++
		}
		s.StatusCodes[strconv.Itoa(sm.status)]++
		latencies = append(latencies, sm.duration)
	}

	if len(latencies) == 0 {
		return s
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pick := func(p float64) float64 {
		return float64(latencies[int(float64(len(latencies)-1)*p)].Microseconds()) / 1000
	}
	s.P50, s.P90, s.P99, s.Max = pick(0.50), pick(0.90), pick(0.99), pick(1)

	return s
}

func (s summary) print() {
	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s  Concurrency: %d\n", s.Target, s.Concurrency)
	fmt.Printf("Total: %d  Errors: %d  502s: %d\n", s.Total, s.Errors, s.BadGateway)
	fmt.Printf("Duration: %dms  Throughput: %.2f req/s\n", s.DurationMillis, s.Throughput)

	fmt.Println("\nStatus codes:")
	codes := make([]string, 0, len(s.StatusCodes))
	for code := range s.StatusCodes {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		fmt.Printf("  %s -> %d\n", code, s.StatusCodes[code])
	}

	fmt.Printf("\nLatency: p50=%.1fms p90=%.1fms p99=%.1fms max=%.1fms\n", s.P50, s.P90, s.P99, s.Max)
}

func (s summary) write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

func writeCSV(path string, samples []sample) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	w.Write([]string{"idx", "timestamp", "status", "duration_ms", "error"})
	for _, s := range samples {
		errText := ""
		if s.err != nil {
			errText = s.err.Error()
		}
		w.Write([]string{
			strconv.Itoa(s.idx),
			s.at.Format(time.RFC3339Nano),
			strconv.Itoa(s.status),
			fmt.Sprintf("%.3f", float64(s.duration.Microseconds())/1000),
			errText,
		})
	}
	w.Flush()
	return w.Error()
}
