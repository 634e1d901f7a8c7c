package node

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOptionsParsesAllFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	contents := `
master_uri: http://master.local:11311
host: talker.local
peer_port: 9100
slave_port: 9101
spin_rate_hz: 100
debug: true
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	opts, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}
	want := Options{
		MasterURI:  "http://master.local:11311",
		Host:       "talker.local",
		PeerPort:   9100,
		SlavePort:  9101,
		SpinRateHz: 100,
		Debug:      true,
	}
	if opts != want {
		t.Fatalf("LoadOptions = %+v, want %+v", opts, want)
	}
}

func TestLoadOptionsMissingFieldsStayZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.yaml")
	if err := os.WriteFile(path, []byte("debug: true\n"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	opts, err := LoadOptions(path)
	if err != nil {
		t.Fatalf("LoadOptions: %v", err)
	}
	if opts.MasterURI != "" || opts.Host != "" || opts.PeerPort != 0 {
		t.Fatalf("expected zero-value fallbacks, got %+v", opts)
	}
	if !opts.Debug {
		t.Fatalf("expected debug=true from fixture")
	}
}

func TestLoadOptionsMissingFileReturnsError(t *testing.T) {
	if _, err := LoadOptions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error reading a missing config file")
	}
}
