package vr

import "errors"

// Error taxonomy (spec.md §7): every error the state machine can
// produce becomes a state transition or a logged drop, never a
// re-thrown panic.
var (
	// ErrProtocol marks a malformed message: bad header, unknown
	// opcode, truncated body. The message is dropped, logged, and
	// the state machine continues unchanged.
	ErrProtocol = errors.New("vr: protocol error")

	// ErrStaleView marks a message whose (epoch,view) is older than
	// local. The local state does not transition and no reply is
	// queued to the sender; the returned error's text names the local
	// view.
	ErrStaleView = errors.New("vr: stale view")

	// ErrConfigMismatch marks a peer presenting a config the local
	// node does not recognize. The view change in progress suspends
	// until MetaDataSync resolves the config.
	ErrConfigMismatch = errors.New("vr: configuration mismatch")

	// ErrQuorumLost marks a primary failing to collect quorum acks
	// within backupTimeout. The local node steps down to ViewChange.
	ErrQuorumLost = errors.New("vr: quorum lost")

	// ErrLogDivergence marks a committed prefix disagreeing with a
	// peer's committed prefix. Fatal: the local replica stops.
	ErrLogDivergence = errors.New("vr: log divergence")

	// ErrSyncRequired marks local lag beyond changeViewMaxLogDistance.
	// The local node enters LogSync.
	ErrSyncRequired = errors.New("vr: log sync required")

	// ErrStopped marks an operation attempted after the state machine
	// has transitioned to Stopped.
	ErrStopped = errors.New("vr: state machine stopped")

	// ErrNotPrimary marks an operation (e.g. ReadIndex, TransferPrimary)
	// that requires the local node to currently be primary.
	ErrNotPrimary = errors.New("vr: local node is not primary")
)
