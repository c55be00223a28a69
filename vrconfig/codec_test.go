package vrconfig

import (
	"bytes"
	"strings"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := threeNodeConfig()
	c.Nodes[4] = NodeDescriptor{Flags: FlagWitness, PrimaryOrder: 0, Locations: []string{"10.0.0.4:7000", "10.0.0.4:7001"}}

	var buf bytes.Buffer
	if err := Encode(&buf, c); err != nil {
		t.Fatalf("Encode() = %v, want nil", err)
	}

	got, warnings, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode() = %v, want nil", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("Decode() warnings = %v, want none", warnings)
	}

	if len(got.Nodes) != len(c.Nodes) {
		t.Fatalf("Decode() got %d nodes, want %d", len(got.Nodes), len(c.Nodes))
	}
	for id, want := range c.Nodes {
		have, ok := got.Nodes[id]
		if !ok {
			t.Fatalf("Decode() missing node %d", id)
		}
		if have.Flags != want.Flags || have.PrimaryOrder != want.PrimaryOrder {
			t.Fatalf("Decode() node %d = %+v, want %+v", id, have, want)
		}
		if len(have.Locations) != len(want.Locations) {
			t.Fatalf("Decode() node %d locations = %v, want %v", id, have.Locations, want.Locations)
		}
		for i := range want.Locations {
			if have.Locations[i] != want.Locations[i] {
				t.Fatalf("Decode() node %d location %d = %q, want %q", id, i, have.Locations[i], want.Locations[i])
			}
		}
	}
	if got.PrimaryTimeoutSec != c.PrimaryTimeoutSec || got.BackupTimeoutSec != c.BackupTimeoutSec ||
		got.ChangeViewMaxLogDistance != c.ChangeViewMaxLogDistance || got.MaxListenersPerNode != c.MaxListenersPerNode {
		t.Fatalf("Decode() scalar fields mismatch: got %+v", got)
	}
}

func TestDecodeMalformedLeavesEmptyConfiguration(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty input", ""},
		{"short header", "1 2 6\n"},
		{"non-numeric header field", "1 x 6 1000 1\n1 1 2 0 a:1\n"},
		{"missing node record", "2 2 6 1000 1\n1 1 2 0 a:1\n"},
		{"location count mismatch", "1 2 6 1000 1\n1 2 2 0 a:1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warnings, err := Decode(strings.NewReader(tt.in))
			if err == nil {
				t.Fatalf("Decode(%q) = nil error, want error", tt.in)
			}
			if len(got.Nodes) != 0 {
				t.Fatalf("Decode(%q) left %d nodes, want 0", tt.in, len(got.Nodes))
			}
			if warnings != nil {
				t.Fatalf("Decode(%q) warnings = %v, want nil", tt.in, warnings)
			}
		})
	}
}

func TestDecodeDuplicateNodeIdKeepsLowerPrimaryOrder(t *testing.T) {
	in := "2 2 6 1000 1\n" +
		"1 1 2 5 a:1\n" +
		"1 1 2 1 b:2\n"

	got, warnings, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Decode() = %v, want nil", err)
	}
	if len(warnings) != 1 {
		t.Fatalf("Decode() warnings = %v, want exactly one", warnings)
	}
	nd, ok := got.Nodes[1]
	if !ok {
		t.Fatalf("Decode() missing node 1")
	}
	if nd.PrimaryOrder != 1 || nd.Locations[0] != "b:2" {
		t.Fatalf("Decode() kept %+v, want the lower-PrimaryOrder entry (order=1, loc=b:2)", nd)
	}
}
