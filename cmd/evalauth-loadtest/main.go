// Command evalauth-loadtest drives concurrent Authenticate and Refresh calls
// against an engine backed by Redis (miniredis unless -redis-addr or
// REDIS_ADDR is set) and reports outcome counts and latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/MrEthical07/evalauth"
	"github.com/MrEthical07/evalauth/store/memory"
)

const loadtestKey = "loadtest-signing-key-0123456789abcdef"

func main() {
	var (
		identities  = flag.Int("identities", 1000, "number of identities to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "operations per phase")
		wrongRatio  = flag.Float64("wrong-ratio", 0.3, "fraction of authenticate calls with a wrong password")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *identities <= 0 || *concurrency <= 0 || *ops <= 0 || *wrongRatio < 0 || *wrongRatio > 1 {
		fmt.Fprintln(os.Stderr, "identities, concurrency and ops must be > 0; wrong-ratio must be in [0,1]")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := openRedis(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := evalauth.DefaultConfig()
	cfg.Token.SigningKey = []byte(loadtestKey)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	provider := memory.NewProvider()
	engine, err := evalauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithIdentityProvider(provider).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	hash, err := engine.HashPassword("correct-horse")
	if err != nil {
		fmt.Fprintf(os.Stderr, "hash: %v\n", err)
		os.Exit(1)
	}
	emails := make([]string, *identities)
	for i := range emails {
		emails[i] = fmt.Sprintf("user-%d@loadtest.local", i)
		if _, err := provider.Add(evalauth.Identity{Email: emails[i], PasswordHash: hash, Active: true, Roles: []string{"member"}}); err != nil {
			fmt.Fprintf(os.Stderr, "seed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded %d identities\n", len(emails))

	authStats, outcomes := runAuthenticatePhase(ctx, engine, emails, *ops, *concurrency, *wrongRatio)
	refreshStats := runRefreshPhase(ctx, engine, provider, emails, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("authenticate", authStats)
	for reason, n := range outcomes {
		fmt.Printf("  %-20s %d\n", reason, n)
	}
	printStats("refresh", refreshStats)
	snap := engine.MetricsSnapshot()
	fmt.Printf("lockouts escalated: %d\n", snap.Counters[evalauth.MetricLockoutEscalated])
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

type recorder struct {
	mu        sync.Mutex
	latencies []time.Duration
}

func (r *recorder) add(d time.Duration) {
	r.mu.Lock()
	r.latencies = append(r.latencies, d)
	r.mu.Unlock()
}

func runAuthenticatePhase(ctx context.Context, engine *evalauth.Engine, emails []string, ops, concurrency int, wrongRatio float64) (phaseStats, map[string]int64) {
	var (
		cursor   int64
		failures int64
		rec      = &recorder{latencies: make([]time.Duration, 0, ops)}
		counts   [evalauth.ReasonSystemError + 1]int64
	)

	start := time.Now()
	var g errgroup.Group
	for w := 0; w < concurrency; w++ {
		worker := w
		g.Go(func() error {
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			wctx := evalauth.WithClientIP(ctx, fmt.Sprintf("10.0.%d.%d", worker/256, worker%256))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return nil
				}
				pw := "correct-horse"
				if r.Float64() < wrongRatio {
					pw = "wrong-horse"
				}
				t0 := time.Now()
				res := engine.Authenticate(wctx, emails[r.Intn(len(emails))], pw)
				rec.add(time.Since(t0))
				if res.Reason == evalauth.ReasonSystemError {
					atomic.AddInt64(&failures, 1)
				}
				atomic.AddInt64(&counts[res.Reason], 1)
			}
		})
	}
	_ = g.Wait()

	outcomes := make(map[string]int64, len(counts))
	for reason, n := range counts {
		if n > 0 {
			outcomes[evalauth.FailureReason(reason).String()] = n
		}
	}
	return computeStats(time.Since(start), rec.latencies, failures), outcomes
}

// runRefreshPhase gives each worker its own identity and token chain, so
// every rotation is expected to succeed.
func runRefreshPhase(ctx context.Context, engine *evalauth.Engine, provider *memory.Provider, emails []string, ops, concurrency int) phaseStats {
	var (
		cursor   int64
		failures int64
		rec      = &recorder{latencies: make([]time.Duration, 0, ops)}
	)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < concurrency; w++ {
		worker := w
		g.Go(func() error {
			ident, err := provider.IdentityByEmail(gctx, emails[worker%len(emails)])
			if err != nil {
				return err
			}
			pair, err := engine.IssueTokenPair(gctx, ident)
			if err != nil {
				return err
			}
			token := pair.Refresh.Token
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return nil
				}
				t0 := time.Now()
				next, err := engine.Refresh(gctx, token)
				rec.add(time.Since(t0))
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				token = next.Refresh.Token
			}
		})
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "refresh phase: %v\n", err)
	}
	return computeStats(time.Since(start), rec.latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
