package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// devConfig mirrors the subset of the service configuration a local run needs.
type devConfig struct {
	Service struct {
		Name  string `yaml:"name"`
		Actor string `yaml:"actor"`
	} `yaml:"service"`
	Server struct {
		HTTPAddr string `yaml:"http_addr"`
		GRPCPort int    `yaml:"grpc_port"`
		Mode     string `yaml:"mode"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`
	Audit struct {
		Backend string `yaml:"backend"`
		Path    string `yaml:"path"`
	} `yaml:"audit"`
	AWS struct {
		Enabled        bool   `yaml:"enabled"`
		LocalMasterKey string `yaml:"local_master_key"`
	} `yaml:"aws"`
	Monitor struct {
		Interval string       `yaml:"interval"`
		Rules    []ruleConfig `yaml:"rules"`
	} `yaml:"monitor"`
	Channels []channelConfig `yaml:"channels"`
}

type ruleConfig struct {
	Name      string   `yaml:"name"`
	EventKind string   `yaml:"event_kind"`
	Threshold int      `yaml:"threshold"`
	Window    string   `yaml:"window"`
	Channels  []string `yaml:"channels"`
}

type channelConfig struct {
	ID     string `yaml:"id"`
	Kind   string `yaml:"kind"`
	URL    string `yaml:"url"`
	Secret string `yaml:"secret,omitempty"`
}

const defaultPath = "configs/config.dev.yaml"

func main() {
	if len(os.Args) > 3 {
		fmt.Fprintln(os.Stderr, "Usage: go run scripts/generate_dev_config.go [path] [webhook_url]")
		os.Exit(1)
	}
	path := defaultPath
	if len(os.Args) >= 2 {
		path = os.Args[1]
	}
	webhookURL := "http://localhost:9999/alerts"
	if len(os.Args) == 3 {
		webhookURL = os.Args[2]
	}

	masterKey := make([]byte, 32)
	hmacSecret := make([]byte, 16)
	if _, err := rand.Read(masterKey); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating master key: %v\n", err)
		os.Exit(1)
	}
	if _, err := rand.Read(hmacSecret); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating webhook secret: %v\n", err)
		os.Exit(1)
	}

	var cfg devConfig
	cfg.Service.Name = "auditgate"
	cfg.Service.Actor = "auditgate-dev"
	cfg.Server.HTTPAddr = "127.0.0.1:8080"
	cfg.Server.GRPCPort = 50053
	cfg.Server.Mode = "development"
	cfg.Server.LogLevel = "debug"
	cfg.Audit.Backend = "file"
	cfg.Audit.Path = "var/audit.ndjson"
	cfg.AWS.LocalMasterKey = base64.StdEncoding.EncodeToString(masterKey)
	cfg.Monitor.Interval = "10s"
	cfg.Monitor.Rules = []ruleConfig{{
		Name:      "repeated-failures",
		EventKind: "operation_failure",
		Threshold: 3,
		Window:    "1m",
		Channels:  []string{"local-webhook"},
	}}
	cfg.Channels = []channelConfig{{
		ID:     "local-webhook",
		Kind:   "webhook",
		URL:    webhookURL,
		Secret: hex.EncodeToString(hmacSecret),
	}}

	yamlData, err := yaml.Marshal(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshalling YAML: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", filepath.Dir(path), err)
		os.Exit(1)
	}
	if err := os.WriteFile(path, yamlData, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to file %s: %v\n", path, err)
		os.Exit(1)
	}

	fmt.Printf("✅ Successfully generated '%s'. Run with AUDITGATE_CONFIG_PATH=%s\n", path, path)
}
