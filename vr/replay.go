package vr

import (
	"fmt"
	"time"

	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
)

// LogRecord is one entry of the replicated log as handed to
// ProcessReplay, opaque to the state machine beyond its sequence and
// whether it carries a reconfiguration.
type LogRecord struct {
	Seq       logseq.LogSeq
	NewConfig *vrconfig.Configuration // non-nil if this record reconfigures
	Deferred  bool                    // requires a side effect on replay exit
	FidSeed   uint64
	Status    int
}

// ReplayResult pairs a deferred record with the status/request the
// caller must act on once replay completes, per spec.md §4.4 "Replay
// (ProcessReplay)": "emits outVrStatus/outReqPtr pairs to the caller
// for any deferred log records that require side effects on exit of
// replay."
type ReplayResult struct {
	Record      LogRecord
	OutVrStatus int
	OutReq      *vrpb.MetaRequest
}

// ProcessReplay replays records in sequence order while the state
// machine is Reconfiguration, refusing to enqueue outbound VR
// messages, per spec.md §4.4. Reconfiguration records install their
// config atomically as they're applied so no outbound path ever sees
// a half-installed config. Records marked Deferred are not applied
// immediately; instead they're returned for the caller to act on
// after replay.go's caller calls FinishReplay.
//
// (etcd raft.raftLog's restore-from-snapshot-then-replay-entries path,
// narrowed to VR's deferred-side-effect contract)
func (sm *StateMachine) ProcessReplay(records []LogRecord) ([]ReplayResult, error) {
	if sm.state != vrpb.REPLICA_STATE_RECONFIGURATION {
		return nil, fmt.Errorf("vr: ProcessReplay called outside Reconfiguration (state=%s)", sm.state)
	}

	var deferred []ReplayResult
	for _, rec := range records {
		if rec.Seq.Less(sm.lastLogSeq) {
			continue
		}
		sm.lastLogSeq = rec.Seq
		if rec.Seq.GreaterOrEqual(sm.committedSeq) {
			sm.committedSeq = rec.Seq
		}

		if rec.NewConfig != nil {
			if err := sm.applyReplayConfig(rec.NewConfig); err != nil {
				return deferred, err
			}
		}

		if rec.Deferred {
			deferred = append(deferred, ReplayResult{
				Record:      rec,
				OutVrStatus: VR_OK,
				OutReq: &vrpb.MetaRequest{
					Op:         "VR_REPLAY_DEFERRED",
					FidSeed:    rec.FidSeed,
					Status:     rec.Status,
					LastLogSeq: rec.Seq,
				},
			})
		}
	}
	return deferred, nil
}

// applyReplayConfig installs a reconfiguration record's config without
// going through InstallConfig's Active-membership drain check: replay
// only ever runs before the replica rejoins the protocol, so there is
// no live quorum to protect yet.
func (sm *StateMachine) applyReplayConfig(newConfig *vrconfig.Configuration) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}
	sm.config = newConfig.Clone()
	sm.primaryTimeout = timeDuration(sm.config.PrimaryTimeoutSec)
	sm.backupTimeout = timeDuration(sm.config.BackupTimeoutSec)
	return nil
}

// FinishReplay transitions out of Reconfiguration once replay has
// reached the committed log tail and the installed config validates,
// per spec.md §4.4 "Reconfiguration -> BackupOperational once restore
// reaches the committed log tail and config is valid."
func (sm *StateMachine) FinishReplay(now time.Time, epoch, view uint64) error {
	if sm.state != vrpb.REPLICA_STATE_RECONFIGURATION {
		return fmt.Errorf("vr: FinishReplay called outside Reconfiguration (state=%s)", sm.state)
	}
	if err := sm.config.ValidateTransmitter(sm.id); err != nil {
		return err
	}
	sm.epoch = epoch
	sm.view = view
	sm.state = vrpb.REPLICA_STATE_BACKUP_OPERATIONAL
	sm.lastAckAt = now
	vrLogger.Infof("node %d: replay complete, resuming at epoch=%d view=%d committed=%s", sm.id, epoch, view, sm.committedSeq)
	return nil
}
