package vr

import (
	"fmt"
	"time"

	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
)

// viewChangeRound accumulates the StartViewChange and DoViewChange
// ballots for one (epoch,view) attempt.
type viewChangeRound struct {
	epoch, view uint64

	startVotes map[vrconfig.NodeId]vrpb.StartViewChange
	sentDoViewChange bool

	proposedPrimary vrconfig.NodeId
	doViewVotes     map[vrconfig.NodeId]vrpb.DoViewChange
}

func newViewChangeRound(epoch, view uint64) *viewChangeRound {
	return &viewChangeRound{
		epoch:       epoch,
		view:        view,
		startVotes:  make(map[vrconfig.NodeId]vrpb.StartViewChange),
		doViewVotes: make(map[vrconfig.NodeId]vrpb.DoViewChange),
	}
}

// enterViewChange starts (or restarts, for a strictly newer view) a
// view-change round, clearing any prior ballot, per spec.md §4.4 "A
// replica enters ViewChange on first receipt for a (epoch,view)
// strictly greater than its current, clears its ballot, and echoes
// its own StartViewChange."
func (sm *StateMachine) enterViewChange(now time.Time, epoch, view uint64) {
	sm.state = vrpb.REPLICA_STATE_VIEW_CHANGE
	sm.ballot = newViewChangeRound(epoch, view)
	sm.viewChangeDead = now.Add(sm.primaryTimeout)
	sm.primary = vrconfig.NoNodeID

	own := vrpb.StartViewChange{From: sm.id, Epoch: epoch, ViewNum: view, LastLogSeq: sm.lastLogSeq, LastViewEndSeq: sm.viewEndSeq}
	sm.ballot.startVotes[sm.id] = own
	sm.broadcast(own)
}

// HandleStartViewChange processes an inbound StartViewChange, per
// spec.md §4.4 phase 1.
//
// (etcd raft.raft_step_follower_candidate.go stepCandidate, adapted
// from term-based voting to the (epoch,view) ballot)
func (sm *StateMachine) HandleStartViewChange(now time.Time, msg vrpb.StartViewChange) error {
	if sm.state == vrpb.REPLICA_STATE_STOPPED {
		return ErrStopped
	}

	cmp := sm.compareView(msg.Epoch, msg.ViewNum)
	if cmp < 0 {
		return fmt.Errorf("%w: local=(%d,%d) msg=(%d,%d)", ErrStaleView, sm.epoch, sm.view, msg.Epoch, msg.ViewNum)
	}
	if cmp == 0 && sm.ballot == nil {
		// The change to this (epoch,view) already completed locally; a
		// late StartViewChange for it does not start a new round.
		return nil
	}
	if cmp > 0 {
		sm.epoch = msg.Epoch
		sm.view = msg.ViewNum
		sm.enterViewChange(now, sm.epoch, sm.view)
	}

	sm.ballot.startVotes[msg.From] = msg
	return sm.maybeAdvanceToDoViewChange(now)
}

// maybeAdvanceToDoViewChange checks whether a quorum of
// StartViewChange ballots for the current round has been collected,
// and if so computes the proposed primary and sends it DoViewChange.
func (sm *StateMachine) maybeAdvanceToDoViewChange(now time.Time) error {
	if sm.ballot == nil || sm.ballot.sentDoViewChange {
		return nil
	}
	if len(sm.ballot.startVotes) < sm.config.Quorum() {
		return nil
	}

	primary, ok := selectPrimary(sm.config, sm.ballot.startVotes)
	if !ok {
		vrLogger.Warningf("node %d: no eligible primary in ballot for (%d,%d)", sm.id, sm.ballot.epoch, sm.ballot.view)
		return nil
	}
	sm.ballot.proposedPrimary = primary
	sm.ballot.sentDoViewChange = true

	dvc := vrpb.DoViewChange{
		From:         sm.id,
		ViewNum:      sm.ballot.view,
		LastLogSeq:   sm.lastLogSeq,
		CommittedSeq: sm.committedSeq,
		Config:       sm.config.Clone(),
	}
	if primary == sm.id {
		// No message round trip when the ballot selects this node
		// itself: record the vote directly, mirroring enterViewChange's
		// own-StartViewChange self-vote. Routing this through enqueue
		// would address a DoViewChange to sm.id, which the net manager
		// has no peerConn for and silently drops.
		sm.ballot.doViewVotes[sm.id] = dvc
		if len(sm.ballot.doViewVotes) < sm.config.Quorum() {
			return nil
		}
		return sm.becomePrimary(now)
	}
	sm.enqueue(primary, dvc)
	return nil
}

// selectPrimary is the pure function from spec.md §4.4 "Primary
// selection" / Testable Property 5: among ballot responders with the
// maximal lastLogSeq, the Active node with lowest PrimaryOrder, ties
// broken by lowest NodeId. Returns ok=false if no Active node
// qualifies.
func selectPrimary(config *vrconfig.Configuration, ballot map[vrconfig.NodeId]vrpb.StartViewChange) (vrconfig.NodeId, bool) {
	var maxSeq logseq.LogSeq
	haveMax := false
	for _, vote := range ballot {
		if !haveMax || vote.LastLogSeq.Greater(maxSeq) {
			maxSeq = vote.LastLogSeq
			haveMax = true
		}
	}
	if !haveMax {
		return vrconfig.NoNodeID, false
	}

	best := vrconfig.NoNodeID
	bestOrder := 0
	bestFound := false
	for from, vote := range ballot {
		if vote.LastLogSeq.Less(maxSeq) {
			continue
		}
		nd, ok := config.Nodes[from]
		if !ok || !nd.Flags.Active() {
			continue
		}
		if !bestFound ||
			nd.PrimaryOrder < bestOrder ||
			(nd.PrimaryOrder == bestOrder && from < best) {
			best = from
			bestOrder = nd.PrimaryOrder
			bestFound = true
		}
	}
	return best, bestFound
}

// HandleDoViewChange processes an inbound DoViewChange, per spec.md
// §4.4 phase 2/3. DoViewChange messages are addressed only to the node
// a ballot proposes as primary; whichever node records Quorum votes
// for its current round becomes primary, without a separate check
// that it is the proposed one.
func (sm *StateMachine) HandleDoViewChange(now time.Time, msg vrpb.DoViewChange) error {
	if sm.state == vrpb.REPLICA_STATE_STOPPED {
		return ErrStopped
	}
	cmp := sm.compareView(sm.epoch, msg.ViewNum)
	if cmp < 0 {
		return fmt.Errorf("%w: local view=%d msg view=%d", ErrStaleView, sm.view, msg.ViewNum)
	}
	if sm.ballot == nil || sm.ballot.view != msg.ViewNum {
		return fmt.Errorf("%w: no active ballot for view %d", ErrProtocol, msg.ViewNum)
	}

	sm.ballot.doViewVotes[msg.From] = msg
	if len(sm.ballot.doViewVotes) < sm.config.Quorum() {
		return nil
	}
	return sm.becomePrimary(now)
}

// becomePrimary computes the new log base from the DoViewChange
// ballot and broadcasts StartView, per spec.md §4.4 phase 3.
func (sm *StateMachine) becomePrimary(now time.Time) error {
	var startSeq logseq.LogSeq
	have := false
	for _, vote := range sm.ballot.doViewVotes {
		if !have || vote.LastLogSeq.Greater(startSeq) {
			startSeq = vote.LastLogSeq
			have = true
		}
	}
	if !have {
		startSeq = sm.lastLogSeq
	}

	newEpoch, newView := sm.ballot.epoch, sm.ballot.view
	sm.epoch = newEpoch
	sm.view = newView
	sm.primary = sm.id
	sm.lastLogSeq = startSeq
	sm.viewStartSeq = logseq.LogSeq{Epoch: newEpoch, View: newView, Seq: startSeq.Seq}
	sm.state = vrpb.REPLICA_STATE_PRIMARY_OPERATIONAL
	sm.ballot = nil
	sm.lastAckAt = now
	sm.pendingBarrier = true

	sv := vrpb.StartView{
		From:       sm.id,
		ViewNum:    newView,
		StartSeq:   sm.viewStartSeq,
		LastLogSeq: startSeq,
		Config:     sm.config.Clone(),
	}
	sm.broadcast(sv)
	vrLogger.Infof("node %d became primary for (epoch=%d,view=%d) at startSeq=%s", sm.id, newEpoch, newView, startSeq)
	return nil
}

// HandleStartView processes an inbound StartView, adopting the new
// view or entering LogSync if the local log is too far behind, per
// spec.md §4.4 phase 3 and the "Log distance guard".
func (sm *StateMachine) HandleStartView(now time.Time, msg vrpb.StartView) error {
	if sm.state == vrpb.REPLICA_STATE_STOPPED {
		return ErrStopped
	}
	cmp := sm.compareView(sm.epoch, msg.ViewNum)
	if cmp < 0 {
		return fmt.Errorf("%w: local view=%d msg view=%d", ErrStaleView, sm.view, msg.ViewNum)
	}

	sm.view = msg.ViewNum
	sm.primary = msg.From
	sm.viewStartSeq = msg.StartSeq
	sm.ballot = nil

	if sm.lastLogSeq.Greater(msg.StartSeq) {
		sm.lastLogSeq = msg.StartSeq
	}

	dist := sm.viewStartSeq.Distance(sm.lastLogSeq)
	if sm.config.ChangeViewMaxLogDistance > 0 && dist > sm.config.ChangeViewMaxLogDistance {
		sm.state = vrpb.REPLICA_STATE_LOG_SYNC
		vrLogger.Warningf("node %d: lag %d exceeds changeViewMaxLogDistance %d, entering LogSync", sm.id, dist, sm.config.ChangeViewMaxLogDistance)
		return fmt.Errorf("%w: lag %d", ErrSyncRequired, dist)
	}

	sm.state = vrpb.REPLICA_STATE_BACKUP_OPERATIONAL
	sm.lastAckAt = now
	vrLogger.Infof("node %d adopted view (epoch=%d,view=%d) primary=%d", sm.id, sm.epoch, sm.view, sm.primary)
	return nil
}

// maybeExitLogSync is polled from Process to detect LogSync
// completion once replayLastLogSeq catches up to viewStartSeq,
// per spec.md §5 "LogSync is the only state that awaits external
// completion; progress is detected by polling replayLastLogSeq".
func (sm *StateMachine) maybeExitLogSync(replayLastLogSeq logseq.LogSeq) {
	if sm.state != vrpb.REPLICA_STATE_LOG_SYNC {
		return
	}
	if replayLastLogSeq.GreaterOrEqual(sm.viewStartSeq) {
		sm.lastLogSeq = replayLastLogSeq
		sm.state = vrpb.REPLICA_STATE_BACKUP_OPERATIONAL
		vrLogger.Infof("node %d: LogSync complete at %s, returning to BackupOperational", sm.id, replayLastLogSeq)
	}
}
