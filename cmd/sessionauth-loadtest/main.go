// Command sessionauth-loadtest measures session store latency under
// concurrency: a find phase (every authenticated refresh) and a rotate
// phase (refresh with rotation enabled).
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/taskboard/sessionauth/refresh"
	"github.com/taskboard/sessionauth/session"
)

type sessionState struct {
	accountID string
	token     string
	mu        sync.Mutex
}

func main() {
	var (
		accounts    = flag.Int("accounts", 20000, "number of accounts to seed")
		perAccount  = flag.Int("sessions-per-account", 3, "sessions seeded per account")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (find + rotate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", session.DefaultPrefix, "session key prefix")
	)
	flag.Parse()

	if *accounts <= 0 || *perAccount <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, sessions-per-account, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", mr.Addr())
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	store := session.NewStore(client, *prefix)

	total := *accounts * *perAccount
	states := make([]sessionState, total)
	expires := time.Now().Add(24 * time.Hour)

	fmt.Printf("seeding %d sessions across %d accounts...\n", total, *accounts)
	startSeed := time.Now()
	for i := 0; i < total; i++ {
		token, err := refresh.Generate()
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate failed: %v\n", err)
			os.Exit(1)
		}
		accountID := fmt.Sprintf("acct-%d", i / *perAccount)
		if err := store.Append(ctx, accountID, token, expires, time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "append failed: %v\n", err)
			os.Exit(1)
		}
		states[i] = sessionState{accountID: accountID, token: token}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	findStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		state := &states[r.Intn(len(states))]
		state.mu.Lock()
		accountID, token := state.accountID, state.token
		state.mu.Unlock()
		_, err := store.Find(ctx, accountID, token, time.Now())
		return err
	})

	rotateStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		state := &states[r.Intn(len(states))]
		next, err := refresh.Generate()
		if err != nil {
			return err
		}
		state.mu.Lock()
		defer state.mu.Unlock()
		if err := store.Rotate(ctx, state.accountID, state.token, next, expires, time.Now()); err != nil {
			return err
		}
		state.token = next
		return nil
	})

	fmt.Println("---- results ----")
	printStats("find", findStats)
	printStats("rotate", rotateStats)
}

// runPhase runs op ops times across concurrency workers and records the
// latency of each call.
func runPhase(ops, concurrency int, seedStep int64, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seedStep))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
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
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
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
