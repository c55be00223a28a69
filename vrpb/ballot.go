package vrpb

import "github.com/kfsvr/metavr/vrconfig"

// Ballot tallies one granted-or-not response per node, and reports
// quorum once quorum nodes have granted. The vr package uses it for
// the primary's per-block commit acks and for ReadIndex rounds;
// view-change rounds keep their own per-node message maps.
//
// (etcd raft.raftNode.votedFrom / raftNode.candidateReceivedVoteFrom,
// extended with Exhausted, which reports when quorum can no longer be
// reached)
type Ballot struct {
	quorum     int
	respondedN map[vrconfig.NodeId]bool
}

// NewBallot starts a fresh tally for a configuration requiring quorum
// responses to decide.
func NewBallot(quorum int) *Ballot {
	return &Ballot{
		quorum:     quorum,
		respondedN: make(map[vrconfig.NodeId]bool),
	}
}

// Record registers a response from a node, once per node; a repeated
// response from the same node is ignored rather than counted twice.
func (b *Ballot) Record(from vrconfig.NodeId, granted bool) {
	if _, ok := b.respondedN[from]; ok {
		return
	}
	b.respondedN[from] = granted
}

// GrantedCount returns how many distinct nodes have responded true.
func (b *Ballot) GrantedCount() int {
	n := 0
	for _, granted := range b.respondedN {
		if granted {
			n++
		}
	}
	return n
}

// RespondedCount returns how many distinct nodes have responded at all.
func (b *Ballot) RespondedCount() int {
	return len(b.respondedN)
}

// HasQuorum reports whether a quorum of nodes has granted.
func (b *Ballot) HasQuorum() bool {
	return b.GrantedCount() >= b.quorum
}

// Exhausted reports whether no further quorum is reachable: too many
// nodes have already responded without granting.
func (b *Ballot) Exhausted(activeN int) bool {
	if b.HasQuorum() {
		return false
	}
	remaining := activeN - b.RespondedCount()
	return b.GrantedCount()+remaining < b.quorum
}
