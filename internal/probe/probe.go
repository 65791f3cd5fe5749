// Package probe posts tagged JSON messages to an echo endpoint and verifies
// that every response is the payload it sent.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/0xReLogic/restecho/internal/restclient"
)

// Options controls a probe run
type Options struct {
	Path        string
	Count       int
	Concurrency int
}

// Message is the payload each probe request carries
type Message struct {
	Msg   string `json:"msg"`
	Seq   int    `json:"seq"`
	Nonce string `json:"nonce"`
}

// Result summarises a probe run. Latencies are recorded in microseconds.
type Result struct {
	Sent      int
	Succeeded int
	Failures  []error
	Histogram *hdrhistogram.Histogram
}

// OK reports whether every request was echoed faithfully
func (r *Result) OK() bool {
	return r.Sent > 0 && r.Succeeded == r.Sent
}

// Summary renders the counters and latency percentiles on one line
func (r *Result) Summary() string {
	h := r.Histogram
	return fmt.Sprintf("sent=%d ok=%d failed=%d p50=%s p90=%s p99=%s max=%s",
		r.Sent, r.Succeeded, len(r.Failures),
		micros(h.ValueAtQuantile(50)), micros(h.ValueAtQuantile(90)),
		micros(h.ValueAtQuantile(99)), micros(h.Max()))
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

// Run sends opts.Count messages over opts.Concurrency workers
func Run(ctx context.Context, client *restclient.Client, opts Options) *Result {
	if opts.Count <= 0 {
		opts.Count = 1
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Concurrency > opts.Count {
		opts.Concurrency = opts.Count
	}

	res := &Result{Histogram: hdrhistogram.New(1, int64(time.Minute/time.Microsecond), 3)}
	var mu sync.Mutex

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seq := range jobs {
				start := time.Now()
				err := Check(ctx, client, opts.Path, seq)
				elapsed := time.Since(start)

				mu.Lock()
				res.Sent++
				if err != nil {
					res.Failures = append(res.Failures, err)
				} else {
					res.Succeeded++
					_ = res.Histogram.RecordValue(elapsed.Microseconds())
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for seq := 1; seq <= opts.Count; seq++ {
		select {
		case jobs <- seq:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return res
}

// Check posts a single message and verifies that the echoed value equals it
func Check(ctx context.Context, client *restclient.Client, path string, seq int) error {
	payload, err := json.Marshal(Message{Msg: "hello", Seq: seq, Nonce: uuid.NewString()})
	if err != nil {
		return err
	}

	resp, err := client.Post(ctx, path, payload)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("seq %d: unexpected status %d: %s", seq, resp.StatusCode, resp.Body)
	}

	var sent, got interface{}
	if err := json.Unmarshal(payload, &sent); err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, &got); err != nil {
		return fmt.Errorf("seq %d: response is not JSON: %w", seq, err)
	}
	if !reflect.DeepEqual(sent, got) {
		return fmt.Errorf("seq %d: mismatch: sent %s, got %s", seq, payload, resp.Body)
	}
	return nil
}
