// Package vrpb defines the wire-level message types exchanged between
// VR replicas during view changes, log replication, and reconfiguration.
//
// (etcd raft.raftpb.Message, generalized from a single (from, to, term)
// envelope to the (epoch, view, seq) replication clock)
package vrpb

import (
	"fmt"

	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/vrconfig"
)

// MessageType enumerates the kinds of control messages a VR replica
// can send or receive. Names are verbose and self-describing rather
// than terse opcodes, matching the teacher's MESSAGE_TYPE_* naming.
type MessageType int

const (
	MESSAGE_TYPE_START_VIEW_CHANGE MessageType = iota
	MESSAGE_TYPE_DO_VIEW_CHANGE
	MESSAGE_TYPE_START_VIEW
	MESSAGE_TYPE_HELLO
	MESSAGE_TYPE_READ_META_DATA
	MESSAGE_TYPE_LOG_BLOCK_WRITE_DONE
	MESSAGE_TYPE_LOG_BLOCK_FAILED
	MESSAGE_TYPE_TRANSFER_PRIMARY
	MESSAGE_TYPE_READ_INDEX
)

func (t MessageType) String() string {
	switch t {
	case MESSAGE_TYPE_START_VIEW_CHANGE:
		return "MESSAGE_TYPE_START_VIEW_CHANGE"
	case MESSAGE_TYPE_DO_VIEW_CHANGE:
		return "MESSAGE_TYPE_DO_VIEW_CHANGE"
	case MESSAGE_TYPE_START_VIEW:
		return "MESSAGE_TYPE_START_VIEW"
	case MESSAGE_TYPE_HELLO:
		return "MESSAGE_TYPE_HELLO"
	case MESSAGE_TYPE_READ_META_DATA:
		return "MESSAGE_TYPE_READ_META_DATA"
	case MESSAGE_TYPE_LOG_BLOCK_WRITE_DONE:
		return "MESSAGE_TYPE_LOG_BLOCK_WRITE_DONE"
	case MESSAGE_TYPE_LOG_BLOCK_FAILED:
		return "MESSAGE_TYPE_LOG_BLOCK_FAILED"
	case MESSAGE_TYPE_TRANSFER_PRIMARY:
		return "MESSAGE_TYPE_TRANSFER_PRIMARY"
	case MESSAGE_TYPE_READ_INDEX:
		return "MESSAGE_TYPE_READ_INDEX"
	default:
		return fmt.Sprintf("MESSAGE_TYPE_UNKNOWN(%d)", int(t))
	}
}

// ReplicaState is the set of states a VR replica passes through.
//
// (etcd raftpb.NODE_STATE, generalized with the VR-specific
// Reconfiguration and LogSync states)
type ReplicaState int

const (
	REPLICA_STATE_BACKUP_OPERATIONAL ReplicaState = iota
	REPLICA_STATE_PRIMARY_OPERATIONAL
	REPLICA_STATE_VIEW_CHANGE
	REPLICA_STATE_RECONFIGURATION
	REPLICA_STATE_LOG_SYNC
	REPLICA_STATE_STOPPED
)

func (s ReplicaState) String() string {
	switch s {
	case REPLICA_STATE_BACKUP_OPERATIONAL:
		return "REPLICA_STATE_BACKUP_OPERATIONAL"
	case REPLICA_STATE_PRIMARY_OPERATIONAL:
		return "REPLICA_STATE_PRIMARY_OPERATIONAL"
	case REPLICA_STATE_VIEW_CHANGE:
		return "REPLICA_STATE_VIEW_CHANGE"
	case REPLICA_STATE_RECONFIGURATION:
		return "REPLICA_STATE_RECONFIGURATION"
	case REPLICA_STATE_LOG_SYNC:
		return "REPLICA_STATE_LOG_SYNC"
	case REPLICA_STATE_STOPPED:
		return "REPLICA_STATE_STOPPED"
	default:
		return fmt.Sprintf("REPLICA_STATE_UNKNOWN(%d)", int(s))
	}
}

// LogBlock describes one contiguous range of the replicated log
// handed to a LogTransmitter in a single unit of transmission.
//
// (etcd raftpb.Entry slice passed to one Storage.Append call,
// generalized to a named (start, end] range plus a committed marker)
type LogBlock struct {
	TransmitterId vrconfig.NodeId
	StartSeq      logseq.LogSeq
	EndSeq        logseq.LogSeq
	CommittedSeq  logseq.LogSeq
	Data          []byte
}

// StartViewChange is broadcast by a replica that suspects the current
// primary is unreachable and wants to begin electing a new one.
//
// (etcd raftpb.Message{Type: MESSAGE_TYPE_CANDIDATE_REQUEST_VOTE})
type StartViewChange struct {
	From           vrconfig.NodeId
	Epoch          uint64
	ViewNum        uint64
	LastLogSeq     logseq.LogSeq
	LastViewEndSeq logseq.LogSeq
	ConfigHash     uint64
}

// DoViewChange is a backup's response to a StartViewChange, carrying
// the log position it would bring into the new view. The replica with
// the highest reported LastLogSeq, tie-broken by lowest PrimaryOrder
// then lowest NodeId, becomes primary.
//
// (etcd raftpb.Message{Type: MESSAGE_TYPE_RESPONSE_TO_CANDIDATE_REQUEST_VOTE})
type DoViewChange struct {
	From         vrconfig.NodeId
	ViewNum      uint64
	LastLogSeq   logseq.LogSeq
	CommittedSeq logseq.LogSeq
	Config       *vrconfig.Configuration
}

// StartView is sent by the newly elected primary to announce the new
// view and the log position backups should synchronize to.
//
// (etcd raftpb.Message{Type: MESSAGE_TYPE_LEADER_APPEND})
type StartView struct {
	From       vrconfig.NodeId
	ViewNum    uint64
	StartSeq   logseq.LogSeq
	LastLogSeq logseq.LogSeq
	Config     *vrconfig.Configuration
}

// Hello is the first message a replica sends on a new connection,
// used to exchange configuration epoch and detect staleness before
// any other protocol traffic flows.
type Hello struct {
	From         vrconfig.NodeId
	ConfigEpoch  uint64
	CurrentState ReplicaState
}

// ReadMetaData requests the sender's best-known committed log
// position, used by a recovering replica to discover how far behind
// it is before joining the LogSync path.
type ReadMetaData struct {
	From vrconfig.NodeId
}

// LogBlockWriteDone reports a receiver's outcome persisting a
// LogBlock. WriteOk distinguishes a successful persist, the only
// outcome the primary's commit rule may count toward quorum, from a
// receiver that processed the message but failed to durably write the
// block — a distinct, non-terminal case from LogBlockFailed, which
// reports that the block could not be delivered to the receiver at
// all (for example a send error on the peer connection).
//
// (etcd raftpb.Message{Type: MESSAGE_TYPE_RESPONSE_TO_LEADER_APPEND})
type LogBlockWriteDone struct {
	From           vrconfig.NodeId
	StartSeq       logseq.LogSeq
	EndSeq         logseq.LogSeq
	CommittedSeq   logseq.LogSeq
	LastViewEndSeq logseq.LogSeq
	WriteOk        bool
}

// LogBlockFailed reports that a receiver could not persist a LogBlock,
// carrying the highest contiguous sequence it does hold so the primary
// can retransmit from the correct point or fall back to LogSync.
type LogBlockFailed struct {
	From       vrconfig.NodeId
	LastLogSeq logseq.LogSeq
	Reason     string
}

// TransferPrimary asks the current primary to hand leadership to a
// specific, already-caught-up backup without a full view change.
//
// (etcd raftpb.Message{Type: MESSAGE_TYPE_TRANSFER_LEADERSHIP})
type TransferPrimary struct {
	From vrconfig.NodeId
	To   vrconfig.NodeId
}

// ReadIndex requests a linearizable read checkpoint from the primary:
// the primary confirms it still holds quorum before replying with the
// committed sequence the caller may safely read against.
//
// (etcd raftpb.Message{Type: MESSAGE_TYPE_TRIGGER_READ_INDEX})
type ReadIndex struct {
	From      vrconfig.NodeId
	RequestId uint64
}

// MetaRequest is a VR control record Process hands back to the
// driving loop for injection into the log pipeline, carrying forward
// whatever checksum/fid-seed/status bookkeeping the caller passed
// into Process. A fresh primary emits exactly one of these, as a
// barrier establishing it owns the view before accepting new client
// log blocks.
type MetaRequest struct {
	Op         string
	FidSeed    uint64
	Status     int
	LastLogSeq logseq.LogSeq
}
