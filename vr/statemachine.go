// Package vr implements the Viewstamped-Replication state machine:
// primary election via a three-phase view change, quorum-based log
// commit, reconfiguration at commit boundaries, and recovery through
// a data-sync collaborator. It is the correctness core described in
// spec.md §4.4; the transport and persistence it depends on are
// collaborator interfaces defined in logxmit and metasync.
//
// (etcd raft.raftNode, generalized from a single-leader/many-follower
// term-based protocol to VR's explicit view-change ballot and
// epoch/view/seq replication clock)
package vr

import (
	"fmt"
	"sync"
	"time"

	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/logxmit"
	"github.com/kfsvr/metavr/metasync"
	"github.com/kfsvr/metavr/pkg/scheduleutil"
	"github.com/kfsvr/metavr/pkg/xlog"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
)

var vrLogger = xlog.NewLogger("vr", xlog.INFO)

// Config bundles the construction-time parameters of a StateMachine.
//
// (etcd raft.Config, narrowed to what a VR replica needs at start-up)
type Config struct {
	ID     vrconfig.NodeId
	Config *vrconfig.Configuration

	// Transmitter fans log blocks out to peers and reports write
	// outcomes back. Required once the node leaves Reconfiguration.
	Transmitter logxmit.LogTransmitter

	// Syncer streams checkpoints/log segments to this node when it
	// falls too far behind to catch up in-view. May be nil until the
	// first LogSync transition.
	Syncer metasync.MetaDataSync

	// HealthProbe, if set, is consulted before a missed primary
	// heartbeat is trusted to mean the primary is down.
	HealthProbe HealthProbe
}

// StateMachine is a single VR replica. All exported Handle*/Process
// methods execute on the driving loop's goroutine; per spec.md §5 the
// state machine itself is single-threaded cooperative and holds no
// internal lock around its own state. mu guards only the cross-thread
// mailboxes: outbox, which the driving loop drains, and inbox, which
// logxmit/metasync collaborators append to from their own goroutines.
//
// (etcd raft.raftNode, generalized)
type StateMachine struct {
	id     vrconfig.NodeId
	config *vrconfig.Configuration

	transmitter logxmit.LogTransmitter
	syncer      metasync.MetaDataSync
	healthProbe HealthProbe

	state   vrpb.ReplicaState
	epoch   uint64
	view    uint64
	primary vrconfig.NodeId

	lastLogSeq   logseq.LogSeq
	committedSeq logseq.LogSeq
	viewStartSeq logseq.LogSeq
	viewEndSeq   logseq.LogSeq

	// ballot tallies the current view-change round. nil outside
	// ViewChange.
	ballot         *viewChangeRound
	viewChangeDead time.Time

	// backupAcks tallies LogBlockWriteDone per in-flight block,
	// keyed by the block's EndSeq.
	backupAcks map[logseq.LogSeq]*vrpb.Ballot
	lastAckAt  time.Time

	primaryTimeout time.Duration
	backupTimeout  time.Duration

	deadlines scheduleutil.WaitWithDeadline

	mu     sync.Mutex
	outbox []OutboundMessage

	// inbox holds callback-deposited jobs from collaborator goroutines
	// (logxmit's AckSink, metasync's completion callback), drained and
	// run on the driving thread inside Process, per spec.md §5
	// "communicate with the state machine exclusively by enqueuing
	// callbacks that the driving thread drains synchronously".
	inbox []func(time.Time)

	readIndex map[uint64]*readIndexRound

	pendingBarrier bool
}

// OutboundMessage pairs a VR control message with the peer it targets
// (vrconfig.NoNodeID means broadcast to every non-self Active/Witness
// node). DrainOutbox returns these for the driving loop to hand to the
// network layer.
type OutboundMessage struct {
	To      vrconfig.NodeId
	Payload interface{}
}

// New constructs a StateMachine in the Reconfiguration state, per
// spec.md §4.4 "Initial: Reconfiguration (loaded from checkpoint)".
// Restore must be called before the node participates in the
// protocol.
func New(cfg Config) (*StateMachine, error) {
	if cfg.Config == nil {
		return nil, fmt.Errorf("vr: New: %w: nil configuration", ErrProtocol)
	}
	if err := cfg.Config.ValidateTransmitter(cfg.ID); err != nil {
		return nil, err
	}
	sm := &StateMachine{
		id:             cfg.ID,
		config:         cfg.Config.Clone(),
		transmitter:    cfg.Transmitter,
		syncer:         cfg.Syncer,
		healthProbe:    cfg.HealthProbe,
		state:          vrpb.REPLICA_STATE_RECONFIGURATION,
		primary:        vrconfig.NoNodeID,
		primaryTimeout: time.Duration(cfg.Config.PrimaryTimeoutSec) * time.Second,
		backupTimeout:  time.Duration(cfg.Config.BackupTimeoutSec) * time.Second,
		deadlines:      scheduleutil.NewWaitWithDeadline(),
		backupAcks:     make(map[logseq.LogSeq]*vrpb.Ballot),
		readIndex:      make(map[uint64]*readIndexRound),
	}
	return sm, nil
}

// Restore installs checkpointed state — config, last committed
// sequence, and the view marker — and transitions out of
// Reconfiguration once the config validates (spec.md §4.4
// "Reconfiguration -> BackupOperational once restore reaches the
// committed log tail and config is valid").
func (sm *StateMachine) Restore(config *vrconfig.Configuration, epoch, view uint64, committed, viewEnd logseq.LogSeq) error {
	if sm.state != vrpb.REPLICA_STATE_RECONFIGURATION {
		return fmt.Errorf("vr: Restore called outside Reconfiguration (state=%s)", sm.state)
	}
	if err := config.ValidateTransmitter(sm.id); err != nil {
		return err
	}
	sm.config = config.Clone()
	sm.epoch = epoch
	sm.view = view
	sm.committedSeq = committed
	sm.lastLogSeq = committed
	sm.viewEndSeq = viewEnd
	sm.state = vrpb.REPLICA_STATE_BACKUP_OPERATIONAL
	sm.lastAckAt = time.Time{}
	vrLogger.Infof("node %d restored: epoch=%d view=%d committed=%s", sm.id, epoch, view, committed)
	return nil
}

// GetStatus reports health per spec.md §6: 0 healthy, negative
// unrecoverable, positive transient.
func (sm *StateMachine) GetStatus() int {
	switch sm.state {
	case vrpb.REPLICA_STATE_STOPPED:
		return VR_STOPPED
	case vrpb.REPLICA_STATE_VIEW_CHANGE:
		return VR_IN_VIEW_CHANGE
	case vrpb.REPLICA_STATE_LOG_SYNC:
		return VR_LOG_SYNC
	case vrpb.REPLICA_STATE_RECONFIGURATION:
		return VR_RECONFIGURING
	case vrpb.REPLICA_STATE_BACKUP_OPERATIONAL:
		return VR_NOT_PRIMARY
	case vrpb.REPLICA_STATE_PRIMARY_OPERATIONAL:
		return VR_OK
	default:
		return VR_CONFIG_ERROR
	}
}

// GetPrimaryNodeId returns the node id this replica currently
// believes is primary, or vrconfig.NoNodeID if none is established.
func (sm *StateMachine) GetPrimaryNodeId() vrconfig.NodeId {
	return sm.primary
}

// GetQuorum returns the quorum size of the currently installed
// configuration.
func (sm *StateMachine) GetQuorum() int {
	return sm.config.Quorum()
}

// GetState returns the replica's current ReplicaState.
func (sm *StateMachine) GetState() vrpb.ReplicaState {
	return sm.state
}

// GetView returns the replica's current (epoch, view).
func (sm *StateMachine) GetView() (epoch, view uint64) {
	return sm.epoch, sm.view
}

// GetCommittedSeq returns the highest committed LogSeq.
func (sm *StateMachine) GetCommittedSeq() logseq.LogSeq {
	return sm.committedSeq
}

// SetTransmitter wires a LogTransmitter constructed after the
// StateMachine itself, breaking the cyclic-observer construction
// order: a LogTransmitter's AckSink (LogTransmitterCallback) needs a
// *StateMachine to exist first, so New cannot always receive the
// transmitter up front.
func (sm *StateMachine) SetTransmitter(t logxmit.LogTransmitter) {
	sm.transmitter = t
}

// SetSyncer wires a MetaDataSync constructed after the StateMachine,
// for the same construction-order reason as SetTransmitter.
func (sm *StateMachine) SetSyncer(s metasync.MetaDataSync) {
	sm.syncer = s
}

// SetHealthProbe wires a HealthProbe constructed after the
// StateMachine, for the same construction-order reason as
// SetTransmitter.
func (sm *StateMachine) SetHealthProbe(p HealthProbe) {
	sm.healthProbe = p
}

// GetConfig returns the currently installed Configuration, used by
// the driving loop to resolve a peer's address (e.g. the primary's,
// to drive MetaDataSync.Pull against while in LogSync).
func (sm *StateMachine) GetConfig() *vrconfig.Configuration {
	return sm.config
}

// GetSyncer returns the MetaDataSync collaborator configured at
// construction time, or nil if none was given. The state machine
// itself never calls Pull/Serve; per spec.md §5 LogSync only awaits
// external completion, so the driving loop is responsible for
// noticing REPLICA_STATE_LOG_SYNC and driving the transfer.
func (sm *StateMachine) GetSyncer() metasync.MetaDataSync {
	return sm.syncer
}

// HasValidNodeId reports whether this replica has been assigned a
// real node id, as opposed to the NoNodeID placeholder a not-yet-
// configured replica starts with.
func (sm *StateMachine) HasValidNodeId() bool {
	return sm.id != vrconfig.NoNodeID
}

// GetMetaDataStoreLocation returns the address a lagging backup
// should dial to pull this replica's checkpoint during LogSync — the
// third of the three listener locations a node's NodeDescriptor
// names. ok is false if the installed config has fewer than three
// locations for this node.
func (sm *StateMachine) GetMetaDataStoreLocation() (loc string, ok bool) {
	nd, present := sm.config.Nodes[sm.id]
	if !present || len(nd.Locations) < 3 {
		return "", false
	}
	return nd.Locations[2], true
}

// ValidateAckPrimaryId reports whether primaryNodeId, as claimed by
// node from, agrees with this replica's own view of who is primary.
// A caller processing an ack that names a different primary is
// looking at a stale or cross-view message and should discard it
// rather than let it influence the current view's commit rule.
func (sm *StateMachine) ValidateAckPrimaryId(from, primaryNodeId vrconfig.NodeId) bool {
	return primaryNodeId == sm.primary
}

// HandleHello processes the handshake a replica sends on a new
// connection before any other protocol traffic flows: it compares the
// peer's reported config epoch against this replica's own as an early
// staleness signal, then queues a reply carrying this replica's
// current epoch and state so the peer can make the same comparison.
func (sm *StateMachine) HandleHello(msg vrpb.Hello) {
	if msg.ConfigEpoch > sm.epoch {
		vrLogger.Warningf("node %d: Hello from %d reports config epoch %d ahead of local %d", sm.id, msg.From, msg.ConfigEpoch, sm.epoch)
	}
	sm.enqueue(msg.From, vrpb.Hello{From: sm.id, ConfigEpoch: sm.epoch, CurrentState: sm.state})
}

// enqueue appends an outbound message to the mailbox the driving loop
// drains via DrainOutbox. Safe to call from Handle*/Process.
func (sm *StateMachine) enqueue(to vrconfig.NodeId, payload interface{}) {
	sm.mu.Lock()
	sm.outbox = append(sm.outbox, OutboundMessage{To: to, Payload: payload})
	sm.mu.Unlock()
}

// broadcast enqueues payload addressed to every other node in the
// current configuration.
func (sm *StateMachine) broadcast(payload interface{}) {
	for _, id := range sm.config.ActiveNodeIDs() {
		if id == sm.id {
			continue
		}
		sm.enqueue(id, payload)
	}
	for id, nd := range sm.config.Nodes {
		if nd.Flags.Witness() && !nd.Flags.Active() && id != sm.id {
			sm.enqueue(id, payload)
		}
	}
}

// DrainOutbox returns and clears the queued outbound messages. Called
// by the driving loop after Process or any Handle* call.
func (sm *StateMachine) DrainOutbox() []OutboundMessage {
	sm.mu.Lock()
	out := sm.outbox
	sm.outbox = nil
	sm.mu.Unlock()
	return out
}

// enqueueInbound schedules fn to run on the driving thread during the
// next Process call. Safe to call from any goroutine; used by
// collaborator callbacks (logxmit's AckSink, metasync's completion
// notifier) that must not touch state-machine fields directly.
func (sm *StateMachine) enqueueInbound(fn func(time.Time)) {
	sm.mu.Lock()
	sm.inbox = append(sm.inbox, fn)
	sm.mu.Unlock()
}

// drainInbound returns and clears the queued callback jobs.
func (sm *StateMachine) drainInbound() []func(time.Time) {
	sm.mu.Lock()
	jobs := sm.inbox
	sm.inbox = nil
	sm.mu.Unlock()
	return jobs
}

// compareView returns -1/0/1 comparing (epoch,view) to the local view.
func (sm *StateMachine) compareView(epoch, view uint64) int {
	if epoch != sm.epoch {
		if epoch < sm.epoch {
			return -1
		}
		return 1
	}
	if view != sm.view {
		if view < sm.view {
			return -1
		}
		return 1
	}
	return 0
}
