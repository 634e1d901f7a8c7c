package node

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape of a node's static configuration: the
// handful of Options fields worth setting once per deployment rather than
// hardcoding into the process that calls New.
type fileConfig struct {
	MasterURI  string `yaml:"master_uri"`
	Host       string `yaml:"host"`
	PeerPort   int    `yaml:"peer_port"`
	SlavePort  int    `yaml:"slave_port"`
	SpinRateHz int    `yaml:"spin_rate_hz"`
	Debug      bool   `yaml:"debug"`
}

// LoadOptions reads a YAML configuration file and returns the Options it
// describes. A missing or empty field leaves the corresponding Options
// field at its zero value, so New resolves it from the environment or a
// default exactly as if the caller had omitted it.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("node: reading config %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Options{}, fmt.Errorf("node: parsing config %s: %w", path, err)
	}
	return Options{
		MasterURI:  fc.MasterURI,
		Host:       fc.Host,
		PeerPort:   fc.PeerPort,
		SlavePort:  fc.SlavePort,
		SpinRateHz: fc.SpinRateHz,
		Debug:      fc.Debug,
	}, nil
}
