package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds everything an agent process needs at startup.
type Config struct {
	AgentID       string
	Name          string
	Role          string
	Skills        []string
	AdvertiseAddr string // gossip address other agents send to
	GossipPort    int
	ServicePort   int
	HTTPAddr      string
	Seeds         []string

	HeartbeatInterval time.Duration
	CleanupInterval   time.Duration
	TimeoutMultiplier int
	Fanout            int

	Token         string
	EtcdEndpoints []string

	LogLevel  string
	LogFormat string
}

func Default() Config {
	return Config{
		Role:              "worker",
		GossipPort:        9999,
		ServicePort:       18789,
		HTTPAddr:          ":8080",
		HeartbeatInterval: 10 * time.Second,
		CleanupInterval:   30 * time.Second,
		TimeoutMultiplier: 3,
		Fanout:            3,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

// Load builds a Config from environment variables (read through getenv),
// then lets command-line flags in args override them.
func Load(args []string, getenv func(string) string) (Config, error) {
	c := Default()
	if err := c.applyEnv(getenv); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.StringVar(&c.AgentID, "id", c.AgentID, "agent id (random UUID when empty)")
	fs.StringVar(&c.Name, "name", c.Name, "display name")
	fs.StringVar(&c.Role, "role", c.Role, "agent role")
	skills := fs.String("skills", strings.Join(c.Skills, ","), "comma separated skills")
	fs.StringVar(&c.AdvertiseAddr, "advertise", c.AdvertiseAddr, "gossip address advertised to peers")
	fs.IntVar(&c.GossipPort, "gossip-port", c.GossipPort, "UDP gossip port")
	fs.IntVar(&c.ServicePort, "service-port", c.ServicePort, "application port advertised to peers")
	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "HTTP listen address (empty disables)")
	seeds := fs.String("seeds", strings.Join(c.Seeds, ","), "comma separated seed addresses")
	fs.DurationVar(&c.HeartbeatInterval, "heartbeat", c.HeartbeatInterval, "heartbeat interval")
	fs.DurationVar(&c.CleanupInterval, "cleanup", c.CleanupInterval, "failure detector interval")
	fs.IntVar(&c.TimeoutMultiplier, "timeout-mult", c.TimeoutMultiplier, "heartbeats missed before eviction")
	fs.IntVar(&c.Fanout, "fanout", c.Fanout, "peers receiving the full table each heartbeat")
	fs.StringVar(&c.Token, "token", c.Token, "secret token, only its SHA-256 is advertised")
	etcd := fs.String("etcd", strings.Join(c.EtcdEndpoints, ","), "comma separated etcd endpoints")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug|info|warn|error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "json|console")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	c.Skills = ParseList(*skills)
	c.Seeds = ParseList(*seeds)
	c.EtcdEndpoints = ParseList(*etcd)

	c.fillDerived()
	return c, c.Validate()
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v := getenv(key); v != "" {
			*dst = ParseList(v)
		}
	}

	str("AGENT_ID", &c.AgentID)
	str("AGENT_NAME", &c.Name)
	str("AGENT_ROLE", &c.Role)
	list("AGENT_SKILLS", &c.Skills)
	str("ADVERTISE_ADDR", &c.AdvertiseAddr)
	str("HTTP_ADDR", &c.HTTPAddr)
	list("SEEDS", &c.Seeds)
	str("TOKEN", &c.Token)
	list("ETCD_ENDPOINTS", &c.EtcdEndpoints)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	ints := []struct {
		key string
		dst *int
	}{
		{"GOSSIP_PORT", &c.GossipPort},
		{"SERVICE_PORT", &c.ServicePort},
		{"TIMEOUT_MULTIPLIER", &c.TimeoutMultiplier},
		{"GOSSIP_FANOUT", &c.Fanout},
	}
	for _, e := range ints {
		if v := getenv(e.key); v != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = n
		}
	}

	durs := []struct {
		key string
		dst *time.Duration
	}{
		{"HEARTBEAT_INTERVAL", &c.HeartbeatInterval},
		{"CLEANUP_INTERVAL", &c.CleanupInterval},
	}
	for _, e := range durs {
		if v := getenv(e.key); v != "" {
			d, err := ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = d
		}
	}
	return nil
}

func (c *Config) fillDerived() {
	if c.AgentID == "" {
		c.AgentID = uuid.NewString()
	}
	if c.Name == "" {
		c.Name = "Agent-" + c.AgentID
	}
	if c.AdvertiseAddr == "" {
		c.AdvertiseAddr = fmt.Sprintf("127.0.0.1:%d", c.GossipPort)
	}
}

// Validate rejects settings the protocol cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.AgentID == "" {
		errs = append(errs, errors.New("agent id is required"))
	}
	if c.GossipPort <= 0 || c.GossipPort > 65535 {
		errs = append(errs, fmt.Errorf("gossip port %d out of range", c.GossipPort))
	}
	if c.ServicePort < 0 || c.ServicePort > 65535 {
		errs = append(errs, fmt.Errorf("service port %d out of range", c.ServicePort))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval))
	}
	if c.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("cleanup interval must be positive, got %s", c.CleanupInterval))
	}
	if c.TimeoutMultiplier < 1 {
		errs = append(errs, fmt.Errorf("timeout multiplier must be >= 1, got %d", c.TimeoutMultiplier))
	}
	if c.Fanout < 1 {
		errs = append(errs, fmt.Errorf("fanout must be >= 1, got %d", c.Fanout))
	}
	return errors.Join(errs...)
}

// ListenAddr is the UDP address the gossip socket binds.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.GossipPort)
}

// CredentialDigest is the hex SHA-256 of Token, or "" without a token.
func (c Config) CredentialDigest() string {
	if c.Token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(c.Token))
	return hex.EncodeToString(sum[:])
}

// ParseList splits a comma separated list, trimming blanks.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseDuration accepts Go durations ("10s") and bare integers as seconds.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
