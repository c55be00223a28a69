// Package logxmit defines the LogTransmitter collaborator the vr
// package depends on to fan log blocks out to peer replicas, plus a
// default TCP-based implementation.
//
// (etcd rafthttp.Transporter, narrowed from the full raft message
// transport to the single Transmit/ack contract spec.md §4.5 fixes)
package logxmit

import (
	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
)

// LogTransmitter fans LogBlocks out to every other node in the
// current configuration and reports write outcomes back through an
// AckSink. Implementations own their own connections; the state
// machine never touches them directly (spec.md §5 "The log-transmitter
// socket set is owned by the transmitter; the state machine never
// touches it directly").
//
// (etcd rafthttp.Transporter, narrowed to SendMessagesToPeer's
// contract for a single message kind)
type LogTransmitter interface {
	// Transmit ships block to every non-self node in the current
	// configuration. It returns once the send has been queued, not
	// once any peer has acked — acks arrive later through AckSink.
	Transmit(block vrpb.LogBlock) error

	// UpdatePeers refreshes the transmitter's address book after a
	// reconfiguration commits.
	UpdatePeers(config *vrconfig.Configuration)

	// Stop closes all connections and releases resources.
	Stop()
}

// AckSink receives write outcomes from a LogTransmitter. The vr
// package implements this via LogTransmitterCallback so the
// transmitter never needs to import vr directly (spec.md §9 "Cyclic
// observers").
//
// OnLogBlockWriteDone's writeOk distinguishes a receiver that durably
// persisted the block, the only outcome the commit rule may count
// toward quorum, from one that processed it but failed to write it —
// a non-terminal outcome distinct from OnLogBlockFailed, which reports
// that the block could not be delivered to the receiver at all (for
// example a send error on the peer connection).
type AckSink interface {
	OnLogBlockWriteDone(from vrconfig.NodeId, startSeq, endSeq, committedSeq, lastViewEndSeq logseq.LogSeq, writeOk bool)
	OnLogBlockFailed(from vrconfig.NodeId, lastLogSeq logseq.LogSeq, reason string)
}
