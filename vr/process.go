package vr

import (
	"time"

	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/vrpb"
)

// Process is the driving loop's tick, called at least every
// min(primaryTimeout, backupTimeout)/4, per spec.md §4.6. It checks
// timers, drains any inbound jobs deposited by collaborator
// callbacks, polls for LogSync completion, and returns the health
// status plus an optional control record to inject into the log
// pipeline and the absolute deadline for the next call.
//
// committedSeq, errChecksum, committedFidSeed and committedStatus
// report the driving loop's own view of the last-applied log record;
// a checksum mismatch is treated as fatal log divergence per spec.md
// §7. replayLastLogSeq is polled to detect LogSync completion.
func (sm *StateMachine) Process(
	now time.Time,
	committedSeq logseq.LogSeq,
	errChecksum bool,
	committedFidSeed uint64,
	committedStatus int,
	replayLastLogSeq logseq.LogSeq,
) (outVrStatus int, req *vrpb.MetaRequest, nextDeadline time.Time) {
	if sm.state == vrpb.REPLICA_STATE_STOPPED {
		return VR_STOPPED, nil, now.Add(sm.nextTickInterval())
	}

	if errChecksum {
		sm.state = vrpb.REPLICA_STATE_STOPPED
		vrLogger.Errorf("node %d: checksum error at committed=%s, stopping", sm.id, committedSeq)
		return VR_LOG_DIVERGENCE, nil, now.Add(sm.nextTickInterval())
	}

	sm.checkTimers(now)

	for _, job := range sm.drainInbound() {
		job(now)
	}

	sm.maybeExitLogSync(replayLastLogSeq)

	if committedSeq.Greater(sm.committedSeq) {
		sm.committedSeq = committedSeq
	}

	if sm.pendingBarrier && sm.state == vrpb.REPLICA_STATE_PRIMARY_OPERATIONAL {
		sm.pendingBarrier = false
		req = &vrpb.MetaRequest{
			Op:         "VR_VIEW_BARRIER",
			FidSeed:    committedFidSeed,
			Status:     committedStatus,
			LastLogSeq: sm.lastLogSeq,
		}
	}

	return sm.GetStatus(), req, now.Add(sm.nextTickInterval())
}

// checkTimers implements spec.md §4.6 step 1: primary heartbeat
// overdue triggers a view change; an in-flight view change past its
// budget bumps view and restarts.
func (sm *StateMachine) checkTimers(now time.Time) {
	switch sm.state {
	case vrpb.REPLICA_STATE_BACKUP_OPERATIONAL:
		if sm.lastAckAt.IsZero() {
			sm.lastAckAt = now
			return
		}
		if now.Sub(sm.lastAckAt) > sm.primaryTimeout {
			if sm.healthProbe != nil && sm.healthProbe.Healthy(sm.primary) {
				vrLogger.Warningf("node %d: primary heartbeat overdue but probe reports it healthy, deferring view change", sm.id)
				return
			}
			vrLogger.Warningf("node %d: primary heartbeat overdue, starting view change", sm.id)
			sm.enterViewChange(now, sm.epoch, sm.view+1)
		}

	case vrpb.REPLICA_STATE_PRIMARY_OPERATIONAL:
		if sm.lastAckAt.IsZero() {
			sm.lastAckAt = now
			return
		}
		if now.Sub(sm.lastAckAt) > sm.backupTimeout {
			vrLogger.Warningf("node %d: lost quorum acks within backupTimeout, stepping down", sm.id)
			sm.stepDownOnQuorumLoss(now)
		}

	case vrpb.REPLICA_STATE_VIEW_CHANGE:
		if !sm.viewChangeDead.IsZero() && now.After(sm.viewChangeDead) {
			vrLogger.Warningf("node %d: view change for (%d,%d) exceeded its budget, retrying at view %d", sm.id, sm.epoch, sm.view, sm.view+1)
			sm.enterViewChange(now, sm.epoch, sm.view+1)
		}
	}
}

// nextTickInterval is min(primaryTimeout, backupTimeout)/4, the cadence
// spec.md §4.6 requires the driving loop call Process at.
func (sm *StateMachine) nextTickInterval() time.Duration {
	min := sm.primaryTimeout
	if sm.backupTimeout < min {
		min = sm.backupTimeout
	}
	return min / 4
}
