package vr

import (
	"testing"

	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
)

// TestSelectPrimaryIsDeterministic is Testable Property 5: selectPrimary
// is a pure function over a fixed ballot.
func TestSelectPrimaryIsDeterministic(t *testing.T) {
	config := &vrconfig.Configuration{
		Nodes: map[vrconfig.NodeId]vrconfig.NodeDescriptor{
			1: {Flags: vrconfig.FlagActive, PrimaryOrder: 0},
			2: {Flags: vrconfig.FlagActive, PrimaryOrder: 1},
			3: {Flags: vrconfig.FlagActive, PrimaryOrder: 2},
		},
	}
	ballot := map[vrconfig.NodeId]vrpb.StartViewChange{
		1: {From: 1, LastLogSeq: logseq.LogSeq{Seq: 10}},
		2: {From: 2, LastLogSeq: logseq.LogSeq{Seq: 12}},
		3: {From: 3, LastLogSeq: logseq.LogSeq{Seq: 12}},
	}

	first, ok1 := selectPrimary(config, ballot)
	second, ok2 := selectPrimary(config, ballot)
	if !ok1 || !ok2 || first != second {
		t.Fatalf("selectPrimary not deterministic: (%d,%v) vs (%d,%v)", first, ok1, second, ok2)
	}
	if first != 2 {
		t.Fatalf("selectPrimary = %d, want 2 (max lastLogSeq tied, lower primaryOrder)", first)
	}
}

// TestSelectPrimaryIgnoresWitnessNodes verifies a Witness is never
// chosen: when only a Witness reports the maximal lastLogSeq, no Active
// responder qualifies and no primary is selected.
func TestSelectPrimaryIgnoresWitnessNodes(t *testing.T) {
	config := &vrconfig.Configuration{
		Nodes: map[vrconfig.NodeId]vrconfig.NodeDescriptor{
			1: {Flags: vrconfig.FlagActive, PrimaryOrder: 0},
			2: {Flags: vrconfig.FlagWitness, PrimaryOrder: 0},
		},
	}
	ballot := map[vrconfig.NodeId]vrpb.StartViewChange{
		1: {From: 1, LastLogSeq: logseq.LogSeq{Seq: 5}},
		2: {From: 2, LastLogSeq: logseq.LogSeq{Seq: 99}},
	}

	got, ok := selectPrimary(config, ballot)
	if ok || got != vrconfig.NoNodeID {
		t.Fatalf("selectPrimary = (%d,%v), want (%d,false): Witness must never be chosen, and no Active node holds the maximal lastLogSeq", got, ok, vrconfig.NoNodeID)
	}
}

func TestSelectPrimaryNoEligibleNode(t *testing.T) {
	config := &vrconfig.Configuration{
		Nodes: map[vrconfig.NodeId]vrconfig.NodeDescriptor{
			1: {Flags: vrconfig.FlagWitness},
		},
	}
	ballot := map[vrconfig.NodeId]vrpb.StartViewChange{
		1: {From: 1},
	}
	if _, ok := selectPrimary(config, ballot); ok {
		t.Fatalf("selectPrimary() ok = true, want false when no Active node is present in the ballot")
	}
}
