// Package config loads the rexq server configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigYAML is written by `rexq init` and documents every setting.
const DefaultConfigYAML = `# rexq server configuration
http:
  addr: ":8080"
  timeout: 10s
  pretty: false
  # cors: ["*"]
  # metadata_headers: ["authorization"]

# Serves rexq.v1.Executor so other rexq servers can link to this one.
# grpc:
#   addr: ":9090"

engine:
  cache_size: 1000   # 0 keeps every query, -1 disables the parse cache
  link_latency: 10ms

# Static values resolved by fields without a resolver.
root: {}

# Remote rexq executors whose fields are exposed locally.
links: []
#  - name: users
#    endpoints: ["localhost:9091"]
#    latency: 5ms
#    resolvers:
#      user: "user($id, ?)"

# Unknown root fields go to this link. With marker: true they are returned
# to the caller in "fallback" instead.
fallback: {}
#  link: users

telemetry:
  endpoint: ""
  service: rexq
`

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	Timeout         time.Duration `yaml:"timeout"`
	Pretty          bool          `yaml:"pretty"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	CORS            []string      `yaml:"cors,omitempty"`
	MetadataHeaders []string      `yaml:"metadata_headers,omitempty"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type EngineConfig struct {
	CacheSize   int           `yaml:"cache_size"`
	LinkLatency time.Duration `yaml:"link_latency"`
}

// LinkConfig exposes fields of a remote rexq executor. Resolvers maps a
// local field name to a query template.
type LinkConfig struct {
	Name      string            `yaml:"name"`
	Endpoints []string          `yaml:"endpoints"`
	Latency   time.Duration     `yaml:"latency,omitempty"`
	Resolvers map[string]string `yaml:"resolvers"`
}

type FallbackConfig struct {
	Link   string `yaml:"link,omitempty"`
	Marker bool   `yaml:"marker,omitempty"`
}

type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

// Config models the server configuration file.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	GRPC      GRPCConfig      `yaml:"grpc"`
	Engine    EngineConfig    `yaml:"engine"`
	Root      map[string]any  `yaml:"root"`
	Links     []LinkConfig    `yaml:"links"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HTTP:      HTTPConfig{Addr: ":8080", Timeout: 10 * time.Second},
		Engine:    EngineConfig{CacheSize: 1000, LinkLatency: 10 * time.Millisecond},
		Telemetry: TelemetryConfig{Service: "rexq"},
	}
}

// Load reads and validates the file at path. Settings missing from the file
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result. Unknown keys are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" && c.GRPC.Addr == "" {
		return errors.New("config: neither http.addr nor grpc.addr is set")
	}
	if c.Engine.LinkLatency < 0 {
		return errors.New("config: engine.link_latency must not be negative")
	}
	seen := make(map[string]bool, len(c.Links))
	for i, l := range c.Links {
		if strings.TrimSpace(l.Name) == "" {
			return fmt.Errorf("config: links[%d]: name is required", i)
		}
		if seen[l.Name] {
			return fmt.Errorf("config: links[%d]: duplicate name %q", i, l.Name)
		}
		seen[l.Name] = true
		if len(l.Endpoints) == 0 {
			return fmt.Errorf("config: link %q: no endpoints", l.Name)
		}
		for field, tmpl := range l.Resolvers {
			if strings.Count(tmpl, "?") > 1 {
				return fmt.Errorf("config: link %q: resolver %q has more than one placeholder", l.Name, field)
			}
		}
	}
	if c.Fallback.Link != "" && !seen[c.Fallback.Link] {
		return fmt.Errorf("config: fallback.link %q is not a configured link", c.Fallback.Link)
	}
	if c.Fallback.Link != "" && c.Fallback.Marker {
		return errors.New("config: fallback.link and fallback.marker are exclusive")
	}
	return nil
}

// Link returns the link named name.
func (c *Config) Link(name string) (LinkConfig, bool) {
	for _, l := range c.Links {
		if l.Name == name {
			return l, true
		}
	}
	return LinkConfig{}, false
}

// Endpoints maps each link name to its endpoints.
func (c *Config) Endpoints() map[string][]string {
	out := make(map[string][]string, len(c.Links))
	for _, l := range c.Links {
		out[l.Name] = l.Endpoints
	}
	return out
}
