package core

import (
	"bufio"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config collects the ambient, non-core settings a collaborator (the CLI,
// an ops HTTP surface) must supply to stand up a Hub: listen address, data
// directory, peer list path, and log level. None of this is specified by
// the core itself (§1 Non-goals: configuration file parsing is a
// collaborator concern) but every core entry point needs somewhere to read
// it from, so it lives alongside the rest of the core as a plain struct
// cmd/meshd decorates with viper.
type Config struct {
	ListenAddr   string `yaml:"listen_addr"`
	DataDir      string `yaml:"data_dir"`
	PeerListPath string `yaml:"peer_list_path"`
	LogLevel     string `yaml:"log_level"`
}

// LoadConfigFile parses a YAML node config file into Config. Keys missing
// from the file keep their DefaultConfig values.
func LoadConfigFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, Wrap(CodeInvalidPayload, "read config file", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, Wrap(CodeInvalidPayload, "parse config file", err)
	}
	return cfg, nil
}

// DefaultConfig returns the zero-configuration starting point used when no
// config file or flags are supplied.
func DefaultConfig() Config {
	return Config{
		ListenAddr: "0.0.0.0:9000",
		LogLevel:   "info",
	}
}

// LoadPeerList parses a line-delimited peer list file (§6): blank lines and
// lines beginning with '#' are ignored, everything else is a host:port or
// ip:port pair.
func LoadPeerList(path string) ([]net.Addr, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Wrap(CodeInvalidPayload, "open peer list", err)
	}
	defer f.Close()

	var out []net.Addr
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		addr, err := net.ResolveTCPAddr("tcp", line)
		if err != nil {
			return nil, Wrap(CodeInvalidPayload, "peer list entry "+line, err)
		}
		out = append(out, addr)
	}
	if err := scanner.Err(); err != nil {
		return nil, Wrap(CodeInvalidPayload, "scan peer list", err)
	}
	return out, nil
}
