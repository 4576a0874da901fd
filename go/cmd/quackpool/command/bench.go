// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/supabase/quackpool/go/pools/connpool"
	"github.com/supabase/quackpool/go/session"
)

type benchOptions struct {
	workers     int
	iterations  int
	transaction bool
}

type benchReport struct {
	Workers    int              `json:"workers" yaml:"workers"`
	Operations int64            `json:"operations" yaml:"operations"`
	Errors     int64            `json:"errors" yaml:"errors"`
	Elapsed    string           `json:"elapsed" yaml:"elapsed"`
	OpsPerSec  float64          `json:"ops_per_sec" yaml:"ops_per_sec"`
	P50        string           `json:"p50" yaml:"p50"`
	P99        string           `json:"p99" yaml:"p99"`
	Pool       connpool.Stats   `json:"pool" yaml:"pool"`
	Metrics    map[string]int64 `json:"metrics" yaml:"metrics"`
	FirstError string           `json:"first_error,omitempty" yaml:"first_error,omitempty"`
}

// AddBenchCommand adds the bench command to root.
func AddBenchCommand(root *cobra.Command, qc *QuackpoolCommand) {
	var opts benchOptions
	cmd := &cobra.Command{
		Use:   "bench SQL [ARG...]",
		Short: "Drive concurrent workers through one pool",
		Long: `Run the query --iterations times from each of --workers goroutines sharing
one pool, then report throughput, latency percentiles, pool statistics and the
pool's connection metrics.`,
		Example: `  quackpool bench --workers 16 --pool-size 4 "SELECT count(*) FROM events"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.workers < 1 || opts.iterations < 1 {
				return errors.New("--workers and --iterations must be positive")
			}
			return qc.withEnv(cmd.Context(), func(ctx context.Context, e *env) error {
				report := runBench(ctx, e, opts, session.Q(args[0], stringArgs(args[1:])...))
				metrics, err := qc.collectPoolMetrics(ctx)
				if err != nil {
					return err
				}
				report.Metrics = metrics

				enc, err := newEncoder(qc.cfg.Output(), cmd.OutOrStdout())
				if err != nil {
					return err
				}
				if err := enc.Encode(report); err != nil {
					return err
				}
				return enc.Close()
			})
		},
	}
	cmd.Flags().IntVar(&opts.workers, "workers", 8, "Number of concurrent workers")
	cmd.Flags().IntVar(&opts.iterations, "iterations", 100, "Queries per worker")
	cmd.Flags().BoolVar(&opts.transaction, "transaction", false, "Run each query inside its own transaction")
	root.AddCommand(cmd)
}

func runBench(ctx context.Context, e *env, opts benchOptions, q session.Query) benchReport {
	var (
		ops, failures atomic.Int64
		firstErr      atomic.Pointer[error]
		mu            sync.Mutex
		latencies     = make([]time.Duration, 0, opts.workers*opts.iterations)
		wg            sync.WaitGroup
	)

	one := func(ctx context.Context) error {
		if !opts.transaction {
			_, err := e.session.Execute(ctx, q)
			return err
		}
		return e.session.Transaction(ctx, func(ctx context.Context, tx *session.Session) error {
			_, err := tx.Execute(ctx, q)
			return err
		}, nil)
	}

	start := time.Now()
	for range opts.workers {
		wg.Go(func() {
			local := make([]time.Duration, 0, opts.iterations)
			for range opts.iterations {
				if ctx.Err() != nil {
					break
				}
				t0 := time.Now()
				err := one(ctx)
				local = append(local, time.Since(t0))
				ops.Add(1)
				if err != nil {
					failures.Add(1)
					firstErr.CompareAndSwap(nil, &err)
				}
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		})
	}
	wg.Wait()
	elapsed := time.Since(start)

	report := benchReport{
		Workers:    opts.workers,
		Operations: ops.Load(),
		Errors:     failures.Load(),
		Elapsed:    elapsed.Round(time.Microsecond).String(),
		P50:        percentile(latencies, 50).String(),
		P99:        percentile(latencies, 99).String(),
		Pool:       e.pool.Stats(),
	}
	if elapsed > 0 {
		report.OpsPerSec = float64(report.Operations) / elapsed.Seconds()
	}
	if err := firstErr.Load(); err != nil {
		report.FirstError = (*err).Error()
	}
	return report
}

// percentile returns the p-th percentile of d using nearest rank. d is
// sorted in place.
func percentile(d []time.Duration, p int) time.Duration {
	if len(d) == 0 {
		return 0
	}
	slices.Sort(d)
	rank := (p*len(d) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return d[rank-1]
}

// collectPoolMetrics reads the pool instruments from the command's manual
// reader. Counters are summed per state; the wait time histogram reports its
// sample count.
func (qc *QuackpoolCommand) collectPoolMetrics(ctx context.Context) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := qc.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					key := m.Name
					if state, ok := dp.Attributes.Value("db.client.connection.state"); ok {
						key += "." + state.AsString()
					}
					out[key] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out[m.Name+".count"] += int64(dp.Count)
				}
			}
		}
	}
	return out, nil
}
