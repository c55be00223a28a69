// Package metasync defines the MetaDataSync collaborator the vr
// package depends on to catch a lagging replica up via checkpoint
// transfer when the log-distance guard trips, plus a default
// TCP-based implementation.
//
// (etcd raftsnap.Snapshotter/Message, narrowed from a raft snapshot
// blob to a generic checkpoint-stream contract)
package metasync

import (
	"context"
	"io"

	"github.com/kfsvr/metavr/logseq"
)

// CheckpointSource is implemented by whatever owns a replica's
// persisted state (the checkpoint package) on the serving side of a
// MetaDataSync transfer.
type CheckpointSource interface {
	// OpenCheckpoint returns a reader over a consistent checkpoint
	// snapshot, its length in bytes, and the LogSeq the checkpoint was
	// taken at. The caller must Close the reader.
	OpenCheckpoint() (io.ReadCloser, int64, logseq.LogSeq, error)
}

// CheckpointSink is implemented by whatever owns a replica's
// persisted state on the receiving side of a MetaDataSync transfer.
type CheckpointSink interface {
	// InstallCheckpoint replaces local persisted state with the
	// stream of sz bytes read from r, atomically, per spec.md §4.4
	// "Log distance guard": the replica pulls a checkpoint via
	// MetaDataSync rather than catching up in-view.
	InstallCheckpoint(r io.Reader, sz int64, at logseq.LogSeq) error
}

// MetaDataSync streams checkpoints and log segments from a primary to
// a lagging replica, per spec.md §4.4 "If the backup is too far
// behind, it transitions to LogSync instead and drives MetaDataSync
// against the primary."
//
// (etcd raftsnap.Snapshotter, generalized from a local on-disk
// snapshotter to a network pull/serve pair)
type MetaDataSync interface {
	// Pull connects to primaryAddr and streams a checkpoint into sink,
	// returning the LogSeq the installed checkpoint corresponds to.
	// The caller is expected to keep polling this LogSeq as
	// replayLastLogSeq until it satisfies the view's startSeq.
	Pull(ctx context.Context, primaryAddr string, sink CheckpointSink) (logseq.LogSeq, error)

	// Serve streams src's current checkpoint to a single connected
	// puller and returns once the transfer completes or fails.
	Serve(ctx context.Context, conn CloserConn, src CheckpointSource) error
}

// CloserConn is the minimal net.Conn surface MetaDataSync needs;
// named separately so tests can substitute an in-memory pipe without
// pulling in net.Conn's full method set.
type CloserConn interface {
	io.ReadWriteCloser
}
