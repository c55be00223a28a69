// Package logseq defines the replication clock used by the VR state
// machine: a totally-ordered (epoch, view, sequence) triple that
// identifies a position in the replicated log.
package logseq

import "fmt"

// LogSeq identifies a position in the replicated log. Ordering is
// lexicographic on (Epoch, View, Seq).
//
// (etcd raft.raftLog entry index/term pair, generalized to a triple)
type LogSeq struct {
	Epoch uint64
	View  uint64
	Seq   uint64
}

// Min is the distinguished minimum value: "no log".
var Min = LogSeq{}

// IsMin returns true if s is the "no log" value.
func (s LogSeq) IsMin() bool {
	return s == Min
}

// Compare returns -1, 0, or 1 as s is less than, equal to, or
// greater than other, ordering lexicographically on the full triple.
func (s LogSeq) Compare(other LogSeq) int {
	if s.Epoch != other.Epoch {
		if s.Epoch < other.Epoch {
			return -1
		}
		return 1
	}
	if s.View != other.View {
		if s.View < other.View {
			return -1
		}
		return 1
	}
	if s.Seq != other.Seq {
		if s.Seq < other.Seq {
			return -1
		}
		return 1
	}
	return 0
}

// Less returns true if s orders strictly before other.
func (s LogSeq) Less(other LogSeq) bool { return s.Compare(other) < 0 }

// LessOrEqual returns true if s orders at or before other.
func (s LogSeq) LessOrEqual(other LogSeq) bool { return s.Compare(other) <= 0 }

// Greater returns true if s orders strictly after other.
func (s LogSeq) Greater(other LogSeq) bool { return s.Compare(other) > 0 }

// GreaterOrEqual returns true if s orders at or after other.
func (s LogSeq) GreaterOrEqual(other LogSeq) bool { return s.Compare(other) >= 0 }

// SameView returns true if s and other share the same (Epoch, View).
func (s LogSeq) SameView(other LogSeq) bool {
	return s.Epoch == other.Epoch && s.View == other.View
}

// NextSeq returns s with Seq incremented by one, view and epoch unchanged.
func (s LogSeq) NextSeq() LogSeq {
	return LogSeq{Epoch: s.Epoch, View: s.View, Seq: s.Seq + 1}
}

// AdvanceView returns the LogSeq starting a new view within the same
// epoch: view+1, sequence reset to 0 (or inherited, if startSeq is
// given explicitly by the caller via WithSeq).
func (s LogSeq) AdvanceView() LogSeq {
	return LogSeq{Epoch: s.Epoch, View: s.View + 1, Seq: 0}
}

// WithSeq returns a copy of s with Seq replaced, used when a view
// change inherits a non-zero starting sequence from the ballot.
func (s LogSeq) WithSeq(seq uint64) LogSeq {
	return LogSeq{Epoch: s.Epoch, View: s.View, Seq: seq}
}

// AdvanceEpoch returns the LogSeq starting a new epoch: epoch+1,
// view and sequence reset to 0. Used on reconfiguration boundaries.
func (s LogSeq) AdvanceEpoch() LogSeq {
	return LogSeq{Epoch: s.Epoch + 1, View: 0, Seq: 0}
}

// Distance returns |s - other| measured purely in Seq, valid only
// when s and other share the same (Epoch, View) — used for the
// changeViewMaxLogDistance guard, which compares positions within
// one view's sequence space.
func (s LogSeq) Distance(other LogSeq) uint64 {
	if s.Seq > other.Seq {
		return s.Seq - other.Seq
	}
	return other.Seq - s.Seq
}

func (s LogSeq) String() string {
	return fmt.Sprintf("(epoch=%d,view=%d,seq=%d)", s.Epoch, s.View, s.Seq)
}
