package vr

import (
	"fmt"

	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
)

// readIndexRound tallies acks for one in-flight ReadIndex request.
// (etcd raft's ReadOnlySafe read-index protocol, generalized from
// append-entries heartbeats to the VR commit-ack channel)
type readIndexRound struct {
	ballot       *vrpb.Ballot
	committedSeq logseq.LogSeq
}

// HandleTransferPrimary asks the local node, while primary, to give up
// leadership without waiting for a timeout (spec.md §9 redesign
// supplement, grounded on etcd raft's MsgTransferLeader). The local
// node starts a view change for view+1, recording and broadcasting its
// own StartViewChange. The named target is only checked to be an
// Active node: the new primary is picked by the ordinary selection
// rule over the ballot, so the target is not favoured over other
// Active nodes, and the local node itself stays eligible.
func (sm *StateMachine) HandleTransferPrimary(msg vrpb.TransferPrimary) error {
	if sm.state != vrpb.REPLICA_STATE_PRIMARY_OPERATIONAL || sm.id != msg.From {
		return ErrNotPrimary
	}
	target, ok := sm.config.Nodes[msg.To]
	if !ok || !target.Flags.Active() {
		return fmt.Errorf("%w: transfer target %d is not an Active node", ErrProtocol, msg.To)
	}

	sm.view++
	sm.state = vrpb.REPLICA_STATE_VIEW_CHANGE
	sm.primary = vrconfig.NoNodeID
	sm.ballot = newViewChangeRound(sm.epoch, sm.view)

	own := vrpb.StartViewChange{From: sm.id, Epoch: sm.epoch, ViewNum: sm.view, LastLogSeq: sm.lastLogSeq, LastViewEndSeq: sm.viewEndSeq}
	sm.ballot.startVotes[sm.id] = own
	sm.broadcast(own)
	vrLogger.Infof("node %d: transferring primary to %d, starting view %d", sm.id, msg.To, sm.view)
	return nil
}

// HandleReadIndex implements the ReadIndex linearizable-read
// checkpoint (spec.md §9 redesign supplement, grounded on etcd raft's
// ReadOnlySafe): the primary confirms it still holds quorum before
// replying with the committed sequence the caller may safely read
// against. Confirmation piggybacks on the existing LogBlockWriteDone
// ack channel rather than a dedicated heartbeat round-trip.
func (sm *StateMachine) HandleReadIndex(msg vrpb.ReadIndex) error {
	if sm.state != vrpb.REPLICA_STATE_PRIMARY_OPERATIONAL {
		return ErrNotPrimary
	}
	sm.readIndex[msg.RequestId] = &readIndexRound{
		ballot:       vrpb.NewBallot(sm.config.Quorum()),
		committedSeq: sm.committedSeq,
	}
	sm.readIndex[msg.RequestId].ballot.Record(sm.id, true)
	return nil
}

// ReadIndexResult reports whether requestId's ReadIndex round has
// reached quorum, and if so the committed sequence it is safe to read
// against.
func (sm *StateMachine) ReadIndexResult(requestId uint64) (logseq.LogSeq, bool) {
	round, ok := sm.readIndex[requestId]
	if !ok || !round.ballot.HasQuorum() {
		return logseq.LogSeq{}, false
	}
	delete(sm.readIndex, requestId)
	return round.committedSeq, true
}

// ackReadIndex feeds a LogBlockWriteDone-equivalent confirmation from
// a peer into every pending ReadIndex round, since any fresh ack from
// a peer is proof that peer is still caught up with this primary.
func (sm *StateMachine) ackReadIndex(from vrconfig.NodeId) {
	for _, round := range sm.readIndex {
		round.ballot.Record(from, true)
	}
}
