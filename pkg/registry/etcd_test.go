package registry

import "testing"

func TestKeyAndAgentID(t *testing.T) {
	for _, prefix := range []string{DefaultPrefix, "/zephyrmesh/agents"} {
		key := Key(prefix, "agent-a")
		if key != "/zephyrmesh/agents/agent-a" {
			t.Fatalf("Key(%q) = %q", prefix, key)
		}
		if got := AgentID(prefix, key); got != "agent-a" {
			t.Fatalf("AgentID(%q, %q) = %q, want agent-a", prefix, key, got)
		}
	}

	for _, key := range []string{"/other/agent-a", "/zephyrmesh/agents/", "/zephyrmesh/agents/x/y"} {
		if got := AgentID(DefaultPrefix, key); got != "" {
			t.Fatalf("AgentID(%q) = %q, want empty", key, got)
		}
	}
}
