package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/spf13/cobra"

	"pkt.systems/hsearch/client"
)

type benchConfig struct {
	index       string
	queries     []string
	requests    int
	concurrency int
	hitsPerPage int
	watch       bool
}

type benchSummary struct {
	count int
	avg   time.Duration
	min   time.Duration
	max   time.Duration
	p50   time.Duration
	p90   time.Duration
	p95   time.Duration
	p99   time.Duration
	p999  time.Duration
}

type benchStats struct {
	label     string
	ops       int
	opsPerSec float64
	errs      int64
	benchSummary
}

type benchRun struct {
	runID    string
	elapsed  time.Duration
	stats    benchStats
	firstErr error
	cpu      time.Duration
	rss      uint64
}

func newBenchCommand(app *cli) *cobra.Command {
	var cfg benchConfig
	cmd := &cobra.Command{
		Use:   "bench <index>",
		Short: "Drive concurrent searches through the asynchronous path and report latency",
		Long: `Issue --requests searches with --concurrency in flight, cycling through
the --query values, and print latency percentiles together with the CPU
time and resident memory of this process.

When a config file is in use and --watch is set, edits to its hosts and
timeouts are applied to the running client.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.index = args[0]
			if cfg.requests <= 0 {
				return fmt.Errorf("--requests must be positive")
			}
			if cfg.concurrency <= 0 {
				return fmt.Errorf("--concurrency must be positive")
			}
			if len(cfg.queries) == 0 {
				cfg.queries = []string{""}
			}
			s, err := app.openSession(cmd, client.WithWorkers(cfg.concurrency))
			if err != nil {
				return err
			}
			defer s.Close()
			if cfg.watch {
				app.watchConfig(s)
			}
			run := runBench(cmd.Context(), s, cfg)
			printBench(cmd.OutOrStdout(), run)
			if run.firstErr != nil && run.stats.errs == int64(cfg.requests) {
				return fmt.Errorf("every request failed: %w", run.firstErr)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringArrayVar(&cfg.queries, "query", nil, "query text (repeat to cycle through several)")
	flags.IntVar(&cfg.requests, "requests", 1000, "total searches to issue")
	flags.IntVar(&cfg.concurrency, "concurrency", 8, "searches in flight, also the request worker count")
	flags.IntVar(&cfg.hitsPerPage, "hits-per-page", 20, "hits per page")
	flags.BoolVar(&cfg.watch, "watch", false, "apply config file changes to the running client")
	return cmd
}

func runBench(ctx context.Context, s *session, cfg benchConfig) benchRun {
	run := benchRun{runID: xid.New().String()}
	logger := s.logger.With("run_id", run.runID)
	idx := s.cfg.InitIndex(s.client, cfg.index)

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		logger.Debug("cli.bench.process_stats_unavailable", "error", err)
	}
	cpuBefore := processCPU(ctx, proc)

	var (
		next     atomic.Int64
		errs     atomic.Int64
		mu       sync.Mutex
		samples  = make([]time.Duration, 0, cfg.requests)
		firstErr error
		wg       sync.WaitGroup
	)
	logger.Info("cli.bench.start", "requests", cfg.requests, "concurrency", cfg.concurrency)
	begin := time.Now()
	for w := 0; w < cfg.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := next.Add(1) - 1
				if i >= int64(cfg.requests) || ctx.Err() != nil {
					return
				}
				q := client.NewQuery(cfg.queries[int(i)%len(cfg.queries)]).SetHitsPerPage(cfg.hitsPerPage)
				reqCtx := client.WithRequestID(ctx, fmt.Sprintf("%s-%d", run.runID, i))
				start := time.Now()
				f := idx.SearchAsync(reqCtx, q, nil)
				_, err := f.Wait(ctx)
				lat := time.Since(start)
				mu.Lock()
				if err != nil {
					errs.Add(1)
					if firstErr == nil {
						firstErr = err
					}
				} else {
					samples = append(samples, lat)
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	run.elapsed = time.Since(begin)
	run.firstErr = firstErr
	run.stats = benchStats{
		label:        "search",
		ops:          len(samples),
		errs:         errs.Load(),
		benchSummary: summarize(samples),
	}
	if run.elapsed > 0 {
		run.stats.opsPerSec = float64(run.stats.ops) / run.elapsed.Seconds()
	}
	run.cpu = processCPU(ctx, proc) - cpuBefore
	if proc != nil {
		if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
			run.rss = mem.RSS
		}
	}
	logger.Info("cli.bench.done", "elapsed", run.elapsed, "ops", run.stats.ops, "errors", run.stats.errs)
	return run
}

func processCPU(ctx context.Context, proc *process.Process) time.Duration {
	if proc == nil {
		return 0
	}
	times, err := proc.TimesWithContext(ctx)
	if err != nil {
		return 0
	}
	return time.Duration((times.User + times.System) * float64(time.Second))
}

// watchConfig applies host and timeout edits from the loaded config file to
// the session's client.
func (a *cli) watchConfig(s *session) {
	if a.configFile == "" {
		s.logger.Warn("cli.bench.watch_without_config")
		return
	}
	a.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := a.bindConfig()
		if err != nil {
			s.logger.Warn("cli.config.reload_invalid", "path", e.Name, "error", err)
			return
		}
		if err := applyLiveConfig(s.client, cfg.Hosts, cfg.ReadHosts, cfg.WriteHosts, cfg.ReadTimeout, cfg.SearchTimeout, cfg.HostDownDelay); err != nil {
			s.logger.Warn("cli.config.reload_failed", "path", e.Name, "error", err)
			return
		}
		s.logger.Info("cli.config.reloaded", "path", e.Name, "read_hosts", s.client.ReadHosts(), "write_hosts", s.client.WriteHosts())
	})
	a.v.WatchConfig()
}

func applyLiveConfig(c *client.Client, hosts, read, write []string, readTimeout, searchTimeout, downDelay time.Duration) error {
	if len(hosts) > 0 {
		if err := c.SetHosts(hosts...); err != nil {
			return err
		}
	}
	if len(read) > 0 {
		if err := c.SetReadHosts(read...); err != nil {
			return err
		}
	}
	if len(write) > 0 {
		if err := c.SetWriteHosts(write...); err != nil {
			return err
		}
	}
	if readTimeout > 0 {
		if err := c.SetReadTimeout(readTimeout); err != nil {
			return err
		}
	}
	if searchTimeout > 0 {
		if err := c.SetSearchTimeout(searchTimeout); err != nil {
			return err
		}
	}
	if downDelay > 0 {
		if err := c.SetHostDownDelay(downDelay); err != nil {
			return err
		}
	}
	return nil
}

func printBench(w io.Writer, run benchRun) {
	fmt.Fprintf(w, "run %s: elapsed=%s\n", run.runID, run.elapsed.Round(time.Millisecond))
	printStats(w, run.stats)
	if run.cpu > 0 || run.rss > 0 {
		fmt.Fprintf(w, "process: cpu=%s rss=%s\n", run.cpu.Round(time.Millisecond), humanize.IBytes(run.rss))
	}
	if run.firstErr != nil {
		fmt.Fprintf(w, "first error: %v\n", run.firstErr)
	}
}

func printStats(w io.Writer, stats benchStats) {
	fmt.Fprintf(w, "%s: ops=%d ops/s=%.1f avg=%s p50=%s p90=%s p95=%s p99=%s p99.9=%s min=%s max=%s errors=%d\n",
		stats.label, stats.ops, stats.opsPerSec, stats.avg, stats.p50, stats.p90, stats.p95, stats.p99, stats.p999, stats.min, stats.max, stats.errs)
}

func summarize(samples []time.Duration) benchSummary {
	if len(samples) == 0 {
		return benchSummary{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	total := time.Duration(0)
	for _, d := range samples {
		total += d
	}
	return benchSummary{
		count: len(samples),
		avg:   time.Duration(int64(total) / int64(len(samples))),
		min:   samples[0],
		max:   samples[len(samples)-1],
		p50:   percentile(samples, 50),
		p90:   percentile(samples, 90),
		p95:   percentile(samples, 95),
		p99:   percentile(samples, 99),
		p999:  percentile(samples, 99.9),
	}
}

func percentile(samples []time.Duration, pct float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if pct <= 0 {
		return samples[0]
	}
	if pct >= 100 {
		return samples[len(samples)-1]
	}
	idx := int(math.Round((pct / 100.0) * float64(len(samples)-1)))
	return samples[min(max(idx, 0), len(samples)-1)]
}
