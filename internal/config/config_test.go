package config

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(nil, env(nil))
	require.NoError(t, err)

	_, err = uuid.Parse(c.AgentID)
	assert.NoError(t, err, "default agent id should be a UUID")
	assert.Equal(t, "Agent-"+c.AgentID, c.Name)
	assert.Equal(t, 9999, c.GossipPort)
	assert.Equal(t, "127.0.0.1:9999", c.AdvertiseAddr)
	assert.Equal(t, 10*time.Second, c.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, c.CleanupInterval)
	assert.Equal(t, 3, c.TimeoutMultiplier)
	assert.Equal(t, 3, c.Fanout)
	assert.Empty(t, c.Seeds)
	assert.Empty(t, c.CredentialDigest())
}

func TestLoad_EnvThenFlags(t *testing.T) {
	e := env(map[string]string{
		"AGENT_ID":           "agent-b",
		"AGENT_ROLE":         "master",
		"AGENT_SKILLS":       "python, coding",
		"SEEDS":              "100.64.1.1,100.64.3.1:7000",
		"HEARTBEAT_INTERVAL": "5",
		"CLEANUP_INTERVAL":   "1m",
		"GOSSIP_PORT":        "7946",
	})
	c, err := Load([]string{"-role", "worker", "-fanout", "2"}, e)
	require.NoError(t, err)

	assert.Equal(t, "agent-b", c.AgentID)
	assert.Equal(t, "worker", c.Role, "flag overrides env")
	assert.Equal(t, []string{"python", "coding"}, c.Skills)
	assert.Equal(t, []string{"100.64.1.1", "100.64.3.1:7000"}, c.Seeds)
	assert.Equal(t, 5*time.Second, c.HeartbeatInterval)
	assert.Equal(t, time.Minute, c.CleanupInterval)
	assert.Equal(t, 7946, c.GossipPort)
	assert.Equal(t, ":7946", c.ListenAddr())
	assert.Equal(t, 2, c.Fanout)
}

func TestLoad_BadEnv(t *testing.T) {
	_, err := Load(nil, env(map[string]string{"GOSSIP_PORT": "nope"}))
	require.Error(t, err)

	_, err = Load(nil, env(map[string]string{"HEARTBEAT_INTERVAL": "soon"}))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(*Config) {}, false},
		{"no id", func(c *Config) { c.AgentID = "" }, true},
		{"port zero", func(c *Config) { c.GossipPort = 0 }, true},
		{"port too big", func(c *Config) { c.GossipPort = 70000 }, true},
		{"zero heartbeat", func(c *Config) { c.HeartbeatInterval = 0 }, true},
		{"negative cleanup", func(c *Config) { c.CleanupInterval = -time.Second }, true},
		{"multiplier zero", func(c *Config) { c.TimeoutMultiplier = 0 }, true},
		{"fanout zero", func(c *Config) { c.Fanout = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			c.AgentID = "a"
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCredentialDigest(t *testing.T) {
	c := Config{Token: "secret"}
	// sha256("secret")
	assert.Equal(t, "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b", c.CredentialDigest())
}

func TestParseList(t *testing.T) {
	assert.Nil(t, ParseList(""))
	assert.Equal(t, []string{"a", "b"}, ParseList(" a ,, b ,"))
}
