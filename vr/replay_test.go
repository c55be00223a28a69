package vr_test

import (
	"testing"

	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/vr"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
)

// freshReconfiguring builds a node still in its initial Reconfiguration
// state (New without Restore), the only state ProcessReplay accepts.
func freshReconfiguring(t *testing.T, config *vrconfig.Configuration, id vrconfig.NodeId) *vr.StateMachine {
	t.Helper()
	sm, err := vr.New(vr.Config{ID: id, Config: config})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if sm.GetState() != vrpb.REPLICA_STATE_RECONFIGURATION {
		t.Fatalf("GetState() = %s, want Reconfiguration before Restore", sm.GetState())
	}
	return sm
}

// TestProcessReplayRejectsOutsideReconfiguration checks the guard
// named in both ProcessReplay and FinishReplay.
func TestProcessReplayRejectsOutsideReconfiguration(t *testing.T) {
	config := threeNodeConfig()
	sm := freshReconfiguring(t, config, 1)
	if err := sm.Restore(config, 0, 0, logseq.Min, logseq.Min); err != nil {
		t.Fatalf("Restore() = %v", err)
	}

	if _, err := sm.ProcessReplay(nil); err == nil {
		t.Fatalf("ProcessReplay() = nil, want an error once the node has left Reconfiguration")
	}
	if err := sm.FinishReplay(now, 0, 0); err == nil {
		t.Fatalf("FinishReplay() = nil, want an error once the node has left Reconfiguration")
	}
}

// TestProcessReplayAdvancesLastLogSeq applies a run of non-deferred
// records in order and checks lastLogSeq/committedSeq track the
// highest replayed record, per spec.md §4.4's replay contract.
func TestProcessReplayAdvancesLastLogSeq(t *testing.T) {
	config := threeNodeConfig()
	sm := freshReconfiguring(t, config, 1)

	records := []vr.LogRecord{
		{Seq: logseq.LogSeq{Seq: 1}},
		{Seq: logseq.LogSeq{Seq: 2}},
		{Seq: logseq.LogSeq{Seq: 3}},
	}
	deferred, err := sm.ProcessReplay(records)
	if err != nil {
		t.Fatalf("ProcessReplay() = %v", err)
	}
	if len(deferred) != 0 {
		t.Fatalf("ProcessReplay() deferred = %v, want none", deferred)
	}

	if err := sm.FinishReplay(now, 3, 1); err != nil {
		t.Fatalf("FinishReplay() = %v", err)
	}
	if got := sm.GetCommittedSeq(); got != (logseq.LogSeq{Seq: 3}) {
		t.Fatalf("GetCommittedSeq() = %s, want seq 3", got)
	}
	if sm.GetState() != vrpb.REPLICA_STATE_BACKUP_OPERATIONAL {
		t.Fatalf("GetState() = %s, want BackupOperational once replay finishes", sm.GetState())
	}
	gotEpoch, gotView := sm.GetView()
	if gotEpoch != 3 || gotView != 1 {
		t.Fatalf("GetView() = (%d,%d), want (3,1) as FinishReplay installed", gotEpoch, gotView)
	}
}

// TestProcessReplaySkipsRecordsOlderThanLastLogSeq exercises the
// out-of-order tolerance: a record already behind lastLogSeq is a
// no-op rather than a regression.
func TestProcessReplaySkipsRecordsOlderThanLastLogSeq(t *testing.T) {
	config := threeNodeConfig()
	sm := freshReconfiguring(t, config, 1)

	if _, err := sm.ProcessReplay([]vr.LogRecord{{Seq: logseq.LogSeq{Seq: 10}}}); err != nil {
		t.Fatalf("ProcessReplay(first) = %v", err)
	}
	if _, err := sm.ProcessReplay([]vr.LogRecord{{Seq: logseq.LogSeq{Seq: 4}}}); err != nil {
		t.Fatalf("ProcessReplay(stale) = %v", err)
	}
	if err := sm.FinishReplay(now, 0, 0); err != nil {
		t.Fatalf("FinishReplay() = %v", err)
	}
	if got := sm.GetCommittedSeq(); got != (logseq.LogSeq{Seq: 10}) {
		t.Fatalf("GetCommittedSeq() = %s, want seq 10 unaffected by a stale replay record", got)
	}
}

// TestProcessReplayInstallsReconfigRecordAtomically is spec.md §4.4
// "Reconfiguration" applied during replay rather than live commit.
func TestProcessReplayInstallsReconfigRecordAtomically(t *testing.T) {
	config := threeNodeConfig()
	sm := freshReconfiguring(t, config, 1)

	grown := config.Clone()
	grown.Nodes[4] = vrconfig.NodeDescriptor{Flags: vrconfig.FlagWitness, Locations: []string{"10.0.0.4:7000"}}

	records := []vr.LogRecord{
		{Seq: logseq.LogSeq{Seq: 1}, NewConfig: grown},
	}
	if _, err := sm.ProcessReplay(records); err != nil {
		t.Fatalf("ProcessReplay() = %v", err)
	}
	if err := sm.FinishReplay(now, 0, 0); err != nil {
		t.Fatalf("FinishReplay() = %v", err)
	}
	if got, want := sm.GetQuorum(), config.Quorum(); got != want {
		t.Fatalf("GetQuorum() = %d, want %d (installed config keeps the same Active quorum)", got, want)
	}
}

// TestProcessReplayCollectsDeferredRecords checks deferred records are
// returned to the caller rather than ever reaching the outbox, per
// spec.md §4.4 "refuses to issue outbound VR messages" during replay.
func TestProcessReplayCollectsDeferredRecords(t *testing.T) {
	config := threeNodeConfig()
	sm := freshReconfiguring(t, config, 1)

	records := []vr.LogRecord{
		{Seq: logseq.LogSeq{Seq: 1}},
		{Seq: logseq.LogSeq{Seq: 2}, Deferred: true, FidSeed: 99, Status: 1},
		{Seq: logseq.LogSeq{Seq: 3}},
	}
	deferred, err := sm.ProcessReplay(records)
	if err != nil {
		t.Fatalf("ProcessReplay() = %v", err)
	}
	if len(deferred) != 1 {
		t.Fatalf("ProcessReplay() deferred = %v, want exactly one entry", deferred)
	}
	if deferred[0].Record.Seq != (logseq.LogSeq{Seq: 2}) {
		t.Fatalf("deferred[0].Record.Seq = %s, want seq 2", deferred[0].Record.Seq)
	}
	if deferred[0].OutReq == nil || deferred[0].OutReq.FidSeed != 99 || deferred[0].OutReq.Status != 1 {
		t.Fatalf("deferred[0].OutReq = %+v, want FidSeed=99 Status=1", deferred[0].OutReq)
	}
	if len(sm.DrainOutbox()) != 0 {
		t.Fatalf("DrainOutbox() non-empty after ProcessReplay, want replay to never enqueue outbound messages")
	}
}

// TestFinishReplayRejectsUnknownTransmitter checks the transmitter
// validation FinishReplay runs before resuming normal operation.
func TestFinishReplayRejectsUnknownTransmitter(t *testing.T) {
	config := threeNodeConfig()
	sm := freshReconfiguring(t, config, 1)

	shrunk := config.Clone()
	delete(shrunk.Nodes, 1)
	if _, err := sm.ProcessReplay([]vr.LogRecord{{Seq: logseq.LogSeq{Seq: 1}, NewConfig: shrunk}}); err != nil {
		t.Fatalf("ProcessReplay() = %v", err)
	}
	if err := sm.FinishReplay(now, 0, 0); err == nil {
		t.Fatalf("FinishReplay() = nil, want an error once the local node is absent from the replayed config")
	}
}
