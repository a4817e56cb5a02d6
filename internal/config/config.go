package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"gopkg.in/yaml.v3"

	"github.com/tmater/dnswatch/internal/proto"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

const (
	DefaultInterval     = 15 * time.Second
	DefaultTimeout      = 3 * time.Second
	DefaultWindow       = 200
	DefaultConcurrency  = 64
	DefaultListen       = ":8080"
	DefaultAlertTimeout = 5 * time.Second
	DefaultMaxInFlight  = 64
)

var (
	DefaultResolvers = []string{"1.1.1.1", "8.8.8.8"}
	DefaultRecords   = []string{"A", "AAAA"}
)

type Config struct {
	Targets     []string      `yaml:"targets"`
	Resolvers   []string      `yaml:"resolvers"`
	Records     []string      `yaml:"records"`
	Interval    time.Duration `yaml:"interval"`
	Timeout     time.Duration `yaml:"timeout"`
	Window      int           `yaml:"window"`
	Concurrency int           `yaml:"concurrency"`
	Listen      string        `yaml:"listen"`
	Alert       Alert         `yaml:"alert"`
	Auth        Auth          `yaml:"auth"`
	Log         Log           `yaml:"log"`
}

type Alert struct {
	Webhook     string        `yaml:"webhook"`
	PostgresDSN string        `yaml:"postgres_dsn"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxInFlight int           `yaml:"max_in_flight"`
}

// Auth maps user names to bcrypt password hashes for the status API.
type Auth struct {
	Users map[string]string `yaml:"users"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a config with every default applied and no targets.
func Default() *Config {
	return &Config{
		Resolvers:   slices.Clone(DefaultResolvers),
		Records:     slices.Clone(DefaultRecords),
		Interval:    DefaultInterval,
		Timeout:     DefaultTimeout,
		Window:      DefaultWindow,
		Concurrency: DefaultConcurrency,
		Listen:      DefaultListen,
		Alert:       Alert{Timeout: DefaultAlertTimeout, MaxInFlight: DefaultMaxInFlight},
		Log:         Log{Level: "info", Format: "text"},
	}
}

// Load reads and parses a dnswatch.yaml config file on top of the defaults.
// The result is not validated; callers apply overrides and then Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Normalize trims entries, drops blanks and duplicates and upper-cases
// record types.
func (c *Config) Normalize() {
	c.Targets = clean(c.Targets, strings.TrimSpace)
	c.Resolvers = clean(c.Resolvers, strings.TrimSpace)
	c.Records = clean(c.Records, func(s string) string { return strings.ToUpper(strings.TrimSpace(s)) })
	c.Alert.Webhook = strings.TrimSpace(c.Alert.Webhook)
	c.Alert.PostgresDSN = strings.TrimSpace(c.Alert.PostgresDSN)
}

func clean(in []string, f func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = f(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Validate reports the first problem that must stop startup.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return invalid("no targets defined")
	}
	if len(c.Resolvers) == 0 {
		return invalid("no resolvers defined")
	}
	if len(c.Records) == 0 {
		return invalid("no record types defined")
	}
	for _, r := range c.Records {
		qtype, ok := dns.StringToType[r]
		if !ok {
			return invalid("unknown record type %q", r)
		}
		if isMetaType(qtype) {
			return invalid("record type %q is a query-only type", r)
		}
	}
	for _, r := range c.Resolvers {
		if err := validResolver(r); err != nil {
			return invalid("resolver %q: %s", r, err)
		}
	}
	if c.Interval <= 0 {
		return invalid("interval must be positive, got %s", c.Interval)
	}
	if c.Timeout <= 0 {
		return invalid("timeout must be positive, got %s", c.Timeout)
	}
	if c.Window < 1 {
		return invalid("window must be at least 1, got %d", c.Window)
	}
	if c.Concurrency < 1 {
		return invalid("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Alert.Webhook != "" {
		u, err := url.Parse(c.Alert.Webhook)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("alert webhook %q is not an absolute http(s) URL", c.Alert.Webhook)
		}
	}
	if dsn := c.Alert.PostgresDSN; dsn != "" && !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		return invalid("alert postgres_dsn must be a postgres:// URL")
	}
	if c.Alert.Timeout <= 0 {
		return invalid("alert timeout must be positive, got %s", c.Alert.Timeout)
	}
	for user, hash := range c.Auth.Users {
		if user == "" || !strings.HasPrefix(hash, "$2") {
			return invalid("auth user %q must have a bcrypt hash", user)
		}
	}
	return nil
}

func validResolver(r string) error {
	host := r
	if h, port, err := net.SplitHostPort(r); err == nil {
		if n, err := strconv.ParseUint(port, 10, 16); err != nil || n == 0 {
			return fmt.Errorf("invalid port %q", port)
		}
		host = h
	}
	host = strings.Trim(host, "[]")
	if net.ParseIP(host) != nil {
		return nil
	}
	if host == "" || strings.IndexFunc(host, notHostRune) >= 0 {
		return errors.New("not an IP address or host name")
	}
	if _, ok := dns.IsDomainName(host); !ok {
		return errors.New("not an IP address or host name")
	}
	return nil
}

// isMetaType reports whether qtype can only appear in a question, so no
// answer record ever carries it.
func isMetaType(qtype uint16) bool {
	switch qtype {
	case dns.TypeANY, dns.TypeAXFR, dns.TypeIXFR, dns.TypeMAILA, dns.TypeMAILB, dns.TypeOPT, dns.TypeTKEY, dns.TypeTSIG:
		return true
	}
	return false
}

func notHostRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
		return false
	}
	return true
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Keys returns the targets × resolvers × records cross product in
// configuration order.
func (c *Config) Keys() []proto.CheckKey {
	keys := make([]proto.CheckKey, 0, len(c.Targets)*len(c.Resolvers)*len(c.Records))
	for _, t := range c.Targets {
		for _, r := range c.Resolvers {
			for _, rt := range c.Records {
				keys = append(keys, proto.CheckKey{Target: t, Resolver: r, RecordType: proto.RecordType(rt)})
			}
		}
	}
	return keys
}
