package vrpb

import "testing"

func TestBallotQuorum(t *testing.T) {
	b := NewBallot(2)
	if b.HasQuorum() {
		t.Fatalf("HasQuorum() = true before any response")
	}
	b.Record(1, true)
	if b.HasQuorum() {
		t.Fatalf("HasQuorum() = true after one grant, want false for quorum=2")
	}
	b.Record(2, true)
	if !b.HasQuorum() {
		t.Fatalf("HasQuorum() = false after two grants, want true for quorum=2")
	}
}

func TestBallotIgnoresDuplicateResponse(t *testing.T) {
	b := NewBallot(2)
	b.Record(1, true)
	b.Record(1, false)
	if b.GrantedCount() != 1 {
		t.Fatalf("GrantedCount() = %d, want 1 (duplicate response ignored)", b.GrantedCount())
	}
	if b.RespondedCount() != 1 {
		t.Fatalf("RespondedCount() = %d, want 1", b.RespondedCount())
	}
}

func TestBallotExhausted(t *testing.T) {
	b := NewBallot(3)
	b.Record(1, false)
	b.Record(2, false)
	if !b.Exhausted(3) {
		t.Fatalf("Exhausted(3) = false, want true: only 1 node left, can't reach quorum 3")
	}
}

func TestBallotNotExhaustedWhileReachable(t *testing.T) {
	b := NewBallot(2)
	b.Record(1, true)
	if b.Exhausted(3) {
		t.Fatalf("Exhausted(3) = true, want false: 2 nodes remain, quorum still reachable")
	}
}

func TestMessageTypeString(t *testing.T) {
	if got := MESSAGE_TYPE_START_VIEW.String(); got != "MESSAGE_TYPE_START_VIEW" {
		t.Fatalf("String() = %q", got)
	}
}

func TestReplicaStateString(t *testing.T) {
	if got := REPLICA_STATE_LOG_SYNC.String(); got != "REPLICA_STATE_LOG_SYNC" {
		t.Fatalf("String() = %q", got)
	}
}
