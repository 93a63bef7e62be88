package node

import (
	"net"
	"strings"
)

// NormalizeHostPort cuts scheme prefixes from the input address and adds a
// default port when none is given.
func NormalizeHostPort(addr, defPort string) string {
	for _, scheme := range []string{"http://", "https://", "udp://"} {
		if rest, ok := strings.CutPrefix(addr, scheme); ok {
			addr = rest
			break
		}
	}
	addr = strings.TrimSuffix(addr, "/")

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, defPort)
}

// NormalizeSeeds applies NormalizeHostPort to every non-empty seed and drops
// duplicates, keeping the first occurrence.
func NormalizeSeeds(seeds []string, defPort string) []string {
	out := make([]string, 0, len(seeds))
	seen := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		hp := NormalizeHostPort(s, defPort)
		if _, dup := seen[hp]; dup {
			continue
		}
		seen[hp] = struct{}{}
		out = append(out, hp)
	}
	return out
}
