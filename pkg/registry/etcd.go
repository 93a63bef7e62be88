// Package registry publishes agents' gossip addresses in etcd so that new
// agents can find seeds without a static list.
package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const DefaultPrefix = "/zephyrmesh/agents/"

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// RegisterAgent stores id → addr under a lease of ttl seconds and keeps the
// lease alive until the returned cancel func is called.
func RegisterAgent(ctx context.Context, cli *clientv3.Client, prefix, id, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := cli.Put(ctx, Key(prefix, id), addr, clientv3.WithLease(lease.ID)); err != nil {
		return 0, nil, fmt.Errorf("register %s: %w", id, err)
	}

	kctx, cancel := context.WithCancel(context.Background())
	ch, err := cli.KeepAlive(kctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()
	return lease.ID, cancel, nil
}

// Seeds returns the addresses of every registered agent other than selfID.
func Seeds(ctx context.Context, cli *clientv3.Client, prefix, selfID string) ([]string, error) {
	resp, err := cli.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	var out []string
	for _, kv := range resp.Kvs {
		id := AgentID(prefix, string(kv.Key))
		if id == "" || id == selfID || len(kv.Value) == 0 {
			continue
		}
		out = append(out, string(kv.Value))
	}
	return out, nil
}

// WatchSeeds calls fn for every agent that registers after the watch starts,
// until ctx is cancelled.
func WatchSeeds(ctx context.Context, cli *clientv3.Client, prefix, selfID string, fn func(id, addr string)) {
	wch := cli.Watch(ctx, prefix, clientv3.WithPrefix())
	go func() {
		for resp := range wch {
			for _, ev := range resp.Events {
				if ev.Type != mvccpb.PUT {
					continue
				}
				id := AgentID(prefix, string(ev.Kv.Key))
				if id == "" || id == selfID {
					continue
				}
				fn(id, string(ev.Kv.Value))
			}
		}
	}()
}

// Key is the etcd key an agent registers under.
func Key(prefix, id string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + id
}

// AgentID extracts the agent id from a registry key, or "" if key is not
// directly under prefix.
func AgentID(prefix, key string) string {
	rest, ok := strings.CutPrefix(key, strings.TrimSuffix(prefix, "/")+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}
