// Package config loads the .env-style key=value configuration cmd/mediaserver
// and cmd/clustermanager need to stand up, in the teacher's pkg/config
// style: a manual bufio.Scanner key=value parser (no third-party config
// library is wired in the pack for this concern, so this one stays on the
// standard library per DESIGN.md), plus post-load validation.
package config

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

// Config holds every section cmd/mediaserver or cmd/clustermanager reads
// from a .env file. Binaries only read the sections relevant to their
// role; unset sections simply keep their zero values.
type Config struct {
	Server   ServerConfig
	Node     NodeConfig
	Cluster  ClusterConfig
	Recorder RecorderConfig
	Redis    RedisConfig
}

// ServerConfig controls the HTTP signaling listener every node runs.
type ServerConfig struct {
	ListenAddr string
	ICEServers []ICEServer
}

// ICEServer is one STUN/TURN entry advertised to clients.
type ICEServer struct {
	URL            string
	Username       string
	Credential     string
	CredentialType string
}

// NodeConfig identifies this node within the cluster.
type NodeConfig struct {
	Alias      string
	PublicURL  string
	AdminToken string
	PubMax     uint32
	SubMax     uint32
}

// ClusterConfig points a mediaserver at its cluster manager, or configures
// a clustermanager's own listener and static node list.
type ClusterConfig struct {
	ManagerURL    string // set on mediaserver nodes that register with a manager
	ListenAddr    string // set on the clustermanager binary
	StaticNodeCSV string // "alias=url=token,alias2=url2=token2" bootstrap list
}

// RecorderConfig controls the optional fMP4/DASH recording pipeline.
type RecorderConfig struct {
	Enabled      bool
	StorageDir   string
	SegmentSecs  int
}

// RedisConfig points at the optional persisted cluster state store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads key=value pairs from path, decoding percent-escaped values
// the same way the teacher's config loader does (operators sometimes
// paste URL-encoded tokens).
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	cfg := &Config{
		Server:   ServerConfig{ListenAddr: ":7777"},
		Recorder: RecorderConfig{SegmentSecs: 10},
		Redis:    RedisConfig{DB: 0},
	}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		decoded, err := url.QueryUnescape(value)
		if err != nil {
			decoded = value
		}

		if err := cfg.apply(key, decoded); err != nil {
			return nil, fmt.Errorf("config key %q: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(key, value string) error {
	switch key {
	case "listen_addr":
		c.Server.ListenAddr = value
	case "ice_servers":
		c.Server.ICEServers = parseICEServers(value)
	case "node_alias":
		c.Node.Alias = value
	case "node_public_url":
		c.Node.PublicURL = value
	case "node_admin_token":
		c.Node.AdminToken = value
	case "node_pub_max":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		c.Node.PubMax = uint32(n)
	case "node_sub_max":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		c.Node.SubMax = uint32(n)
	case "cluster_manager_url":
		c.Cluster.ManagerURL = value
	case "cluster_listen_addr":
		c.Cluster.ListenAddr = value
	case "cluster_static_nodes":
		c.Cluster.StaticNodeCSV = value
	case "recorder_enabled":
		c.Recorder.Enabled = value == "true" || value == "1"
	case "recorder_storage_dir":
		c.Recorder.StorageDir = value
	case "recorder_segment_secs":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.Recorder.SegmentSecs = n
	case "redis_addr":
		c.Redis.Addr = value
	case "redis_password":
		c.Redis.Password = value
	case "redis_db":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		c.Redis.DB = n
	}
	return nil
}

// parseICEServers decodes a "url|username|credential,url2|..." list; most
// deployments only set plain STUN URLs (no credentials), so fields past
// the URL are optional.
func parseICEServers(value string) []ICEServer {
	var out []ICEServer
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		fields := strings.Split(entry, "|")
		ice := ICEServer{URL: fields[0]}
		if len(fields) > 1 {
			ice.Username = fields[1]
		}
		if len(fields) > 2 {
			ice.Credential = fields[2]
		}
		if len(fields) > 3 {
			ice.CredentialType = fields[3]
		}
		out = append(out, ice)
	}
	return out
}

// Validate checks the invariants every binary needs regardless of which
// sections it actually uses: a listen address is always required, and a
// recorder pointed at no storage directory is a misconfiguration rather
// than a silently-disabled feature.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("missing listen_addr")
	}
	if c.Recorder.Enabled && c.Recorder.StorageDir == "" {
		return fmt.Errorf("recorder_enabled is true but recorder_storage_dir is missing")
	}
	return nil
}
