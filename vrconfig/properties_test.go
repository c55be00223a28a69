package vrconfig_test

import (
	"testing"

	"github.com/kfsvr/metavr/vrconfig"
)

func TestFromPropertiesDecodesNodesAndTimeouts(t *testing.T) {
	props := map[string]string{
		"primaryTimeoutSec":        "2",
		"backupTimeoutSec":         "6",
		"changeViewMaxLogDistance": "1000",
		"maxListenersPerNode":      "1",

		"nodes.1.flags":        "active",
		"nodes.1.primaryOrder": "0",
		"nodes.1.listener.0":   "10.0.0.1:7000",

		"nodes.2.flags":        "active",
		"nodes.2.primaryOrder": "1",
		"nodes.2.listener.0":   "10.0.0.2:7000",

		"nodes.3.flags":      "witness",
		"nodes.3.listener.0": "10.0.0.3:7000",
	}

	cfg, warnings, err := vrconfig.FromProperties(props)
	if err != nil {
		t.Fatalf("FromProperties() = %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("FromProperties() warnings = %v, want none", warnings)
	}
	if cfg.PrimaryTimeoutSec != 2 || cfg.BackupTimeoutSec != 6 {
		t.Fatalf("timeouts = (%d,%d), want (2,6)", cfg.PrimaryTimeoutSec, cfg.BackupTimeoutSec)
	}
	if len(cfg.Nodes) != 3 {
		t.Fatalf("len(Nodes) = %d, want 3", len(cfg.Nodes))
	}
	nd1 := cfg.Nodes[1]
	if !nd1.Flags.Active() || nd1.PrimaryOrder != 0 || len(nd1.Locations) != 1 || nd1.Locations[0] != "10.0.0.1:7000" {
		t.Fatalf("nodes.1 = %+v, want Active order=0 single listener", nd1)
	}
	nd3 := cfg.Nodes[3]
	if !nd3.Flags.Witness() || nd3.Flags.Active() {
		t.Fatalf("nodes.3 Flags = %v, want Witness only", nd3.Flags)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
}

func TestFromPropertiesWarnsOnUnrecognizedKey(t *testing.T) {
	props := map[string]string{
		"primaryTimeoutSec":   "2",
		"backupTimeoutSec":    "6",
		"maxListenersPerNode": "1",
		"nodes.1.flags":       "active",
		"nodes.1.listener.0":  "10.0.0.1:7000",
		"totally.unknown.key": "x",
	}
	_, warnings, err := vrconfig.FromProperties(props)
	if err != nil {
		t.Fatalf("FromProperties() = %v", err)
	}
	if len(warnings) != 1 || warnings[0].Key != "totally.unknown.key" {
		t.Fatalf("warnings = %v, want one entry for the unknown key", warnings)
	}
}

func TestFromPropertiesMultipleListeners(t *testing.T) {
	props := map[string]string{
		"primaryTimeoutSec":   "2",
		"backupTimeoutSec":    "6",
		"maxListenersPerNode": "2",
		"nodes.1.flags":       "active",
		"nodes.1.listener.0":  "10.0.0.1:7000",
		"nodes.1.listener.1":  "10.0.0.1:7001",
	}
	cfg, _, err := vrconfig.FromProperties(props)
	if err != nil {
		t.Fatalf("FromProperties() = %v", err)
	}
	nd := cfg.Nodes[1]
	if len(nd.Locations) != 2 || nd.Locations[0] != "10.0.0.1:7000" || nd.Locations[1] != "10.0.0.1:7001" {
		t.Fatalf("Locations = %v, want ordered [10.0.0.1:7000 10.0.0.1:7001]", nd.Locations)
	}
}
