package vr_test

import (
	"testing"

	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/vr"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
	"github.com/kfsvr/metavr/vrtest"
)

// TestProposeLogBlockRequiresPrimary is Testable Property 3's
// precondition: only a primary may propose.
func TestProposeLogBlockRequiresPrimary(t *testing.T) {
	config := threeNodeConfig()
	sm, err := vr.New(vr.Config{ID: 1, Config: config})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if err := sm.Restore(config, 0, 0, logseq.Min, logseq.Min); err != nil {
		t.Fatalf("Restore() = %v", err)
	}
	err = sm.ProposeLogBlock(vrpb.LogBlock{StartSeq: logseq.Min, EndSeq: logseq.LogSeq{Seq: 1}})
	if err != vr.ErrNotPrimary {
		t.Fatalf("ProposeLogBlock() = %v, want ErrNotPrimary", err)
	}
}

// TestCommitRequiresQuorumAcks is Testable Property 1/3: a block does
// not commit until Quorum distinct Active nodes (including the
// primary's own implicit ack) have acked it.
func TestCommitRequiresQuorumAcks(t *testing.T) {
	config := threeNodeConfig()
	sm := primaryOf(t, config, 1)

	block := vrpb.LogBlock{StartSeq: logseq.Min, EndSeq: logseq.LogSeq{Seq: 10}}
	if err := sm.ProposeLogBlock(block); err != nil {
		t.Fatalf("ProposeLogBlock() = %v", err)
	}
	if got := sm.GetCommittedSeq(); !got.IsMin() {
		t.Fatalf("GetCommittedSeq() = %s before any peer ack, want Min", got)
	}

	if err := sm.HandleLogBlockWriteDone(now, vrpb.LogBlockWriteDone{From: 2, EndSeq: block.EndSeq, WriteOk: true}); err != nil {
		t.Fatalf("HandleLogBlockWriteDone() = %v", err)
	}
	if got := sm.GetCommittedSeq(); got != block.EndSeq {
		t.Fatalf("GetCommittedSeq() = %s, want %s once quorum (self+1 of 3) acked", got, block.EndSeq)
	}
}

// TestCommitIgnoresFailedWriteAcks is Testable Property 3: a block
// must not be reported committed on an ack whose WriteOk is false,
// even though the ack still counts as a response for Exhausted's
// purposes.
func TestCommitIgnoresFailedWriteAcks(t *testing.T) {
	config := threeNodeConfig()
	sm := primaryOf(t, config, 1)

	block := vrpb.LogBlock{StartSeq: logseq.Min, EndSeq: logseq.LogSeq{Seq: 10}}
	if err := sm.ProposeLogBlock(block); err != nil {
		t.Fatalf("ProposeLogBlock() = %v", err)
	}

	if err := sm.HandleLogBlockWriteDone(now, vrpb.LogBlockWriteDone{From: 2, EndSeq: block.EndSeq, WriteOk: false}); err != nil {
		t.Fatalf("HandleLogBlockWriteDone() = %v", err)
	}
	if got := sm.GetCommittedSeq(); !got.IsMin() {
		t.Fatalf("GetCommittedSeq() = %s after a writeOk=false ack, want Min (not counted toward quorum)", got)
	}

	if err := sm.HandleLogBlockWriteDone(now, vrpb.LogBlockWriteDone{From: 3, EndSeq: block.EndSeq, WriteOk: true}); err != nil {
		t.Fatalf("HandleLogBlockWriteDone() = %v", err)
	}
	if got := sm.GetCommittedSeq(); got != block.EndSeq {
		t.Fatalf("GetCommittedSeq() = %s, want %s once a second, successful ack reaches quorum", got, block.EndSeq)
	}
}

// TestLogBlockFailedIgnoresWitnessAcksWhenCheckingExhaustion checks
// that a Witness's ack is never recorded against the commit ballot:
// the commit rule's quorum is Active-only (spec.md §4.4), so counting
// a Witness response into Ballot.RespondedCount would shrink
// Exhausted's "remaining" budget below what the still-pending Active
// acks can actually fill, and step the primary down while quorum
// was still reachable.
func TestLogBlockFailedIgnoresWitnessAcksWhenCheckingExhaustion(t *testing.T) {
	config := threeNodeConfig()
	config.Nodes[4] = vrconfig.NodeDescriptor{Flags: vrconfig.FlagWitness, Locations: []string{"10.0.0.4:7000"}}
	config.Nodes[5] = vrconfig.NodeDescriptor{Flags: vrconfig.FlagWitness, Locations: []string{"10.0.0.5:7000"}}

	sm := primaryOf(t, config, 1)

	block := vrpb.LogBlock{StartSeq: logseq.Min, EndSeq: logseq.LogSeq{Seq: 10}}
	if err := sm.ProposeLogBlock(block); err != nil {
		t.Fatalf("ProposeLogBlock() = %v", err)
	}

	if err := sm.HandleLogBlockWriteDone(now, vrpb.LogBlockWriteDone{From: 4, EndSeq: block.EndSeq, WriteOk: true}); err != nil {
		t.Fatalf("HandleLogBlockWriteDone(4) = %v", err)
	}
	if err := sm.HandleLogBlockWriteDone(now, vrpb.LogBlockWriteDone{From: 5, EndSeq: block.EndSeq, WriteOk: true}); err != nil {
		t.Fatalf("HandleLogBlockWriteDone(5) = %v", err)
	}

	if err := sm.HandleLogBlockFailed(now, vrpb.LogBlockFailed{From: 2, LastLogSeq: block.EndSeq, Reason: "disk full"}); err != nil {
		t.Fatalf("HandleLogBlockFailed() = %v, want nil: node 3's ack can still reach quorum", err)
	}
	if sm.GetState() != vrpb.REPLICA_STATE_PRIMARY_OPERATIONAL {
		t.Fatalf("GetState() = %s, want unchanged PrimaryOperational: two Witness acks plus one Active failure must not exhaust a 3-Active/quorum=2 ballot", sm.GetState())
	}

	if err := sm.HandleLogBlockWriteDone(now, vrpb.LogBlockWriteDone{From: 3, EndSeq: block.EndSeq, WriteOk: true}); err != nil {
		t.Fatalf("HandleLogBlockWriteDone(3) = %v", err)
	}
	if got := sm.GetCommittedSeq(); got != block.EndSeq {
		t.Fatalf("GetCommittedSeq() = %s, want %s once node 3's ack reaches quorum", got, block.EndSeq)
	}
}

// TestCommitIsMonotone is Testable Property 1: committedSeq never
// regresses even given a stale/duplicate ack for an older block.
func TestCommitIsMonotone(t *testing.T) {
	config := threeNodeConfig()
	sm := primaryOf(t, config, 1)

	first := vrpb.LogBlock{StartSeq: logseq.Min, EndSeq: logseq.LogSeq{Seq: 5}}
	second := vrpb.LogBlock{StartSeq: first.EndSeq, EndSeq: logseq.LogSeq{Seq: 10}}

	if err := sm.ProposeLogBlock(first); err != nil {
		t.Fatalf("ProposeLogBlock(first) = %v", err)
	}
	sm.HandleLogBlockWriteDone(now, vrpb.LogBlockWriteDone{From: 2, EndSeq: first.EndSeq, WriteOk: true})
	if got := sm.GetCommittedSeq(); got != first.EndSeq {
		t.Fatalf("GetCommittedSeq() = %s, want %s", got, first.EndSeq)
	}

	if err := sm.ProposeLogBlock(second); err != nil {
		t.Fatalf("ProposeLogBlock(second) = %v", err)
	}
	sm.HandleLogBlockWriteDone(now, vrpb.LogBlockWriteDone{From: 2, EndSeq: second.EndSeq, WriteOk: true})
	if got := sm.GetCommittedSeq(); got != second.EndSeq {
		t.Fatalf("GetCommittedSeq() = %s, want %s", got, second.EndSeq)
	}

	// A duplicate ack for the already-superseded first block must not
	// move committedSeq backward.
	sm.HandleLogBlockWriteDone(now, vrpb.LogBlockWriteDone{From: 3, EndSeq: first.EndSeq, WriteOk: true})
	if got := sm.GetCommittedSeq(); got != second.EndSeq {
		t.Fatalf("GetCommittedSeq() regressed to %s after a stale duplicate ack, want %s", got, second.EndSeq)
	}
}

// TestLogBlockFailedStepsDownWhenQuorumUnreachable is spec.md §4.4's
// PrimaryOperational -> ViewChange transition triggered by an
// explicit failure report rather than timer expiry.
func TestLogBlockFailedStepsDownWhenQuorumUnreachable(t *testing.T) {
	config := threeNodeConfig()
	sm := primaryOf(t, config, 1)

	block := vrpb.LogBlock{StartSeq: logseq.Min, EndSeq: logseq.LogSeq{Seq: 10}}
	if err := sm.ProposeLogBlock(block); err != nil {
		t.Fatalf("ProposeLogBlock() = %v", err)
	}

	// Both other Active nodes fail: with 3 Active nodes and the
	// primary's own ack already recorded, two failures exhaust the
	// remaining ballot room for quorum (2 of 3).
	sm.HandleLogBlockFailed(now, vrpb.LogBlockFailed{From: 2, LastLogSeq: logseq.Min, Reason: "disk full"})
	err := sm.HandleLogBlockFailed(now, vrpb.LogBlockFailed{From: 3, LastLogSeq: logseq.Min, Reason: "disk full"})
	if err == nil {
		t.Fatalf("HandleLogBlockFailed() = nil, want ErrQuorumLost once quorum is unreachable")
	}
	if sm.GetState() != vrpb.REPLICA_STATE_VIEW_CHANGE {
		t.Fatalf("GetState() = %s, want ViewChange after stepping down", sm.GetState())
	}
}

// TestInstallConfigDrainsRemovedNode is spec.md §4.4
// "Reconfiguration": a node no longer Active (or absent) after a
// config install transitions to Reconfiguration.
func TestInstallConfigDrainsRemovedNode(t *testing.T) {
	config := threeNodeConfig()
	sm, err := vr.New(vr.Config{ID: 3, Config: config})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if err := sm.Restore(config, 0, 0, logseq.Min, logseq.Min); err != nil {
		t.Fatalf("Restore() = %v", err)
	}

	shrunk := config.Clone()
	delete(shrunk.Nodes, 3)
	shrunk.Nodes[1] = vrconfig.NodeDescriptor{Flags: vrconfig.FlagActive, PrimaryOrder: 0, Locations: []string{"10.0.0.1:7000"}}
	shrunk.Nodes[2] = vrconfig.NodeDescriptor{Flags: vrconfig.FlagActive, PrimaryOrder: 1, Locations: []string{"10.0.0.2:7000"}}

	// InstallConfig validates the *new* config, which by itself is
	// fine (still has Active nodes); node 3 just isn't one of them.
	if err := sm.InstallConfig(shrunk); err != nil {
		t.Fatalf("InstallConfig() = %v", err)
	}
	if sm.GetState() != vrpb.REPLICA_STATE_RECONFIGURATION {
		t.Fatalf("GetState() = %s, want Reconfiguration once removed from the Active set", sm.GetState())
	}
}

// TestReconfigurationCommit is spec.md §8 S4: a config record adding
// node 4 as a Witness commits, and GetQuorum reflects the new Active
// set once InstallConfig runs at the commit boundary.
func TestReconfigurationCommit(t *testing.T) {
	config := threeNodeConfig()
	sm := primaryOf(t, config, 1)

	block := vrpb.LogBlock{StartSeq: logseq.Min, EndSeq: logseq.LogSeq{Seq: 100}}
	if err := sm.ProposeLogBlock(block); err != nil {
		t.Fatalf("ProposeLogBlock() = %v", err)
	}
	sm.HandleLogBlockWriteDone(now, vrpb.LogBlockWriteDone{From: 2, EndSeq: block.EndSeq, WriteOk: true})
	if got := sm.GetCommittedSeq(); got != block.EndSeq {
		t.Fatalf("GetCommittedSeq() = %s, want %s at the reconfiguration commit boundary", got, block.EndSeq)
	}

	grown := config.Clone()
	grown.Nodes[4] = vrconfig.NodeDescriptor{Flags: vrconfig.FlagWitness, Locations: []string{"10.0.0.4:7000"}}
	if err := sm.InstallConfig(grown); err != nil {
		t.Fatalf("InstallConfig() = %v", err)
	}
	if got, want := sm.GetQuorum(), threeNodeConfig().Quorum(); got != want {
		t.Fatalf("GetQuorum() = %d, want %d (a Witness does not change the Active quorum size)", got, want)
	}
}

// primaryOf builds a node at id and drives it through a 3-node ballot
// (self plus two others) so it deterministically becomes primary for
// view 1.
func primaryOf(t *testing.T, config *vrconfig.Configuration, id vrconfig.NodeId) *vr.StateMachine {
	t.Helper()
	tx := vrtest.NewFakeTransmitter(id, nil)
	sm, err := vr.New(vr.Config{ID: id, Config: config, Transmitter: tx})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if err := sm.Restore(config, 0, 0, logseq.Min, logseq.Min); err != nil {
		t.Fatalf("Restore() = %v", err)
	}

	var peers []vrconfig.NodeId
	for _, pid := range config.ActiveNodeIDs() {
		if pid != id {
			peers = append(peers, pid)
		}
	}

	if err := sm.HandleStartViewChange(now, vrpb.StartViewChange{From: peers[0], Epoch: 0, ViewNum: 1, LastLogSeq: logseq.Min}); err != nil {
		t.Fatalf("HandleStartViewChange(%d) = %v", peers[0], err)
	}
	if err := sm.HandleStartViewChange(now, vrpb.StartViewChange{From: peers[1], Epoch: 0, ViewNum: 1, LastLogSeq: logseq.Min}); err != nil {
		t.Fatalf("HandleStartViewChange(%d) = %v", peers[1], err)
	}
	sm.DrainOutbox()

	// id's own DoViewChange vote is recorded directly by
	// maybeAdvanceToDoViewChange once the ballot selects it as primary
	// (it never round-trips through enqueue/a net manager), so only
	// the one external vote is needed to reach quorum=2 here.
	if err := sm.HandleDoViewChange(now, vrpb.DoViewChange{From: peers[0], ViewNum: 1, LastLogSeq: logseq.Min, CommittedSeq: logseq.Min, Config: config}); err != nil {
		t.Fatalf("HandleDoViewChange(%d) = %v", peers[0], err)
	}
	sm.DrainOutbox()

	if sm.GetState() != vrpb.REPLICA_STATE_PRIMARY_OPERATIONAL {
		t.Fatalf("GetState() = %s, want PrimaryOperational", sm.GetState())
	}
	return sm
}
