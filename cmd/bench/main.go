package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ryandielhenn/zephyrmesh/pkg/gossip"
)

// bench starts n agents on loopback, each seeded only with its predecessor,
// and reports how long it takes until every agent knows every other one.
func main() {
	n := flag.Int("n", 16, "agents")
	hb := flag.Duration("heartbeat", 100*time.Millisecond, "heartbeat interval")
	fanout := flag.Int("fanout", 3, "gossip fanout")
	limit := flag.Duration("timeout", 30*time.Second, "give up after")
	flag.Parse()

	if err := run(*n, *hb, *fanout, *limit); err != nil {
		fmt.Fprintf(os.Stderr, "bench: %v\n", err)
		os.Exit(1)
	}
}

func run(n int, hb time.Duration, fanout int, limit time.Duration) error {
	agents := make([]*gossip.Gossiper, 0, n)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, g := range agents {
			_ = g.Leave(ctx)
		}
	}()

	start := time.Now()
	prev := ""
	for i := 0; i < n; i++ {
		tr, err := gossip.ListenUDP("127.0.0.1:0")
		if err != nil {
			return err
		}
		var seeds []string
		if prev != "" {
			seeds = []string{prev}
		}
		g, err := gossip.New(gossip.Config{
			Self:              gossip.AgentRecord{AgentID: fmt.Sprintf("bench-%d", i), Role: "worker"},
			Seeds:             seeds,
			HeartbeatInterval: hb,
			CleanupInterval:   hb * 10,
			TimeoutMultiplier: 10,
			Fanout:            fanout,
			ReadTimeout:       50 * time.Millisecond,
		}, tr)
		if err != nil {
			tr.Close()
			return err
		}
		if err := g.Start(context.Background()); err != nil {
			return err
		}
		agents = append(agents, g)
		prev = tr.LocalAddr()
	}

	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if converged(agents) {
			dur := time.Since(start)
			fmt.Printf("%d agents converged in %s (%.1f heartbeats)\n", n, dur, float64(dur)/float64(hb))
			return nil
		}
		time.Sleep(hb / 4)
	}
	return fmt.Errorf("%d agents did not converge within %s", n, limit)
}

func converged(agents []*gossip.Gossiper) bool {
	for _, g := range agents {
		if g.Stats().OtherPeers != len(agents)-1 {
			return false
		}
	}
	return true
}
