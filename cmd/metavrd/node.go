package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/kfsvr/metavr/checkpoint"
	"github.com/kfsvr/metavr/logxmit"
	"github.com/kfsvr/metavr/metasync"
	"github.com/kfsvr/metavr/netmanager"
	"github.com/kfsvr/metavr/pkg/xlog"
	"github.com/kfsvr/metavr/vr"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
)

var daemonLogger = xlog.NewLogger("metavrd", xlog.INFO)

// node wires together one replica's collaborators — checkpoint
// storage, the log transmitter, the control-message net manager, and
// a health prober — around a *vr.StateMachine, and drives its
// Process tick loop. It is the production counterpart to the
// in-memory vrtest.Network used in package vr's own tests.
type node struct {
	id   vrconfig.NodeId
	sm   *vr.StateMachine
	ckpt *checkpoint.Store
	tx   *logxmit.TCPTransmitter
	ctl  *netmanager.Manager
	sync metasync.MetaDataSync
	prob *vr.ProbeGate

	logLn  net.Listener
	ctlLn  net.Listener
	syncLn net.Listener

	stopc chan struct{}
	donec chan struct{}
}

// startNode builds and starts node id under dataDir, listening on the
// three addresses config.Nodes[id].Locations names: [0] for
// replicated log blocks (logxmit), [1] for VR control messages
// (netmanager), [2] for checkpoint transfer (metasync, only ever
// dialed by a lagging backup pulling from the primary).
func startNode(id vrconfig.NodeId, config *vrconfig.Configuration, dataDir string) (*node, error) {
	nd, ok := config.Nodes[id]
	if !ok {
		return nil, fmt.Errorf("metavrd: node %d is absent from configuration", id)
	}
	if len(nd.Locations) < 3 {
		return nil, fmt.Errorf("metavrd: node %d needs three listener locations (log, control, sync), got %d", id, len(nd.Locations))
	}

	ckpt, err := checkpoint.New(dataDir)
	if err != nil {
		return nil, err
	}
	if err := ckpt.Restore(); err != nil && !errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return nil, fmt.Errorf("metavrd: restore checkpoint: %w", err)
	}

	prob := vr.NewProbeGate(nil)

	sm, err := vr.New(vr.Config{ID: id, Config: config, HealthProbe: prob})
	if err != nil {
		return nil, err
	}

	// lastLogSeq's (Epoch, View) triple doubles as the persisted
	// epoch/view marker spec.md §4.3 names; a freshly checkpointed
	// replica has no pending records beyond it, so viewEnd starts
	// equal to the checkpoint's LogSeq.
	at := ckpt.LastLogSeq()
	if err := sm.Restore(config, at.Epoch, at.View, at, at); err != nil {
		return nil, err
	}

	tx := logxmit.NewTCPTransmitter(id, config, &vr.LogTransmitterCallback{SM: sm})
	sm.SetTransmitter(tx)

	ctl := netmanager.New(id, config, &vr.ControlCallback{SM: sm})

	syncer := metasync.NewTCPSync()
	sm.SetSyncer(syncer)

	ckpt.OnBlock(func(block vrpb.LogBlock) {
		daemonLogger.Infof("node %d: applied block %s..%s", id, block.StartSeq, block.EndSeq)
	})

	logLn, err := net.Listen("tcp", nd.Locations[0])
	if err != nil {
		return nil, fmt.Errorf("metavrd: listen log %s: %w", nd.Locations[0], err)
	}
	ctlLn, err := net.Listen("tcp", nd.Locations[1])
	if err != nil {
		logLn.Close()
		return nil, fmt.Errorf("metavrd: listen control %s: %w", nd.Locations[1], err)
	}
	syncLn, err := net.Listen("tcp", nd.Locations[2])
	if err != nil {
		logLn.Close()
		ctlLn.Close()
		return nil, fmt.Errorf("metavrd: listen sync %s: %w", nd.Locations[2], err)
	}

	for peerID, peerNd := range config.Nodes {
		if peerID == id || !peerNd.Flags.Active() {
			continue
		}
		endpoint := "http://" + peerNd.Locations[0] + "/health"
		if err := prob.Watch(peerID, endpoint, time.Duration(config.PrimaryTimeoutSec)*time.Second); err != nil {
			daemonLogger.Warningf("node %d: watch %d: %v", id, peerID, err)
		}
	}

	n := &node{
		id: id, sm: sm, ckpt: ckpt, tx: tx, ctl: ctl, sync: syncer, prob: prob,
		logLn: logLn, ctlLn: ctlLn, syncLn: syncLn,
		stopc: make(chan struct{}), donec: make(chan struct{}),
	}

	go logxmit.Serve(logLn, id, ckpt)
	go netmanager.Serve(ctlLn, id, &vr.ControlCallback{SM: sm})
	go n.serveSync()
	go n.run()

	metaDataLoc, _ := sm.GetMetaDataStoreLocation()
	daemonLogger.Infof("node %d started: log=%s control=%s sync=%s", id, nd.Locations[0], nd.Locations[1], metaDataLoc)
	return n, nil
}

// serveSync accepts connections on syncLn and streams this replica's
// checkpoint to each puller, until syncLn is closed. Unlike
// logxmit/netmanager's Serve loops, metasync.MetaDataSync.Serve takes
// one already-accepted connection rather than a listener, so the
// accept loop lives here rather than inside the metasync package.
func (n *node) serveSync() {
	for {
		conn, err := n.syncLn.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			if err := n.sync.Serve(context.Background(), conn, n.ckpt); err != nil {
				daemonLogger.Warningf("node %d: sync serve %s: %v", n.id, conn.RemoteAddr(), err)
			}
		}()
	}
}

// run is the driving loop spec.md §4.6 describes: tick Process at
// nextDeadline, ship whatever it returns, drive LogSync via the
// syncer when the state machine reports it, and react to the barrier
// MetaRequest a fresh primary emits.
func (n *node) run() {
	defer close(n.donec)

	deadline := time.Now()
	for {
		select {
		case <-n.stopc:
			return
		case <-time.After(time.Until(deadline)):
		}

		now := time.Now()
		replayAt := n.ckpt.LastLogSeq()
		_, req, next := n.sm.Process(now, n.ckpt.LastLogSeq(), false, 0, 0, replayAt)
		deadline = next

		n.ctl.DrainOutbox(n.sm)

		if req != nil {
			daemonLogger.Infof("node %d: view barrier %s at %s", n.id, req.Op, req.LastLogSeq)
		}

		if n.sm.GetState() == vrpb.REPLICA_STATE_LOG_SYNC {
			n.driveLogSync()
		}
	}
}

// driveLogSync pulls a checkpoint from the current primary once,
// since HandleStartView only enters LogSync when the local log is too
// far behind to catch up in-view; maybeExitLogSync (inside Process)
// detects completion once ckpt.LastLogSeq catches up.
func (n *node) driveLogSync() {
	primary := n.sm.GetPrimaryNodeId()
	nd, ok := n.sm.GetConfig().Nodes[primary]
	if !ok || len(nd.Locations) < 3 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := n.sync.Pull(ctx, nd.Locations[2], n.ckpt); err != nil {
		daemonLogger.Warningf("node %d: LogSync pull from %d: %v", n.id, primary, err)
	}
}

// stop halts the driving loop and closes every listener/connection.
func (n *node) stop() {
	close(n.stopc)
	<-n.donec
	n.logLn.Close()
	n.ctlLn.Close()
	n.syncLn.Close()
	n.tx.Stop()
	n.ctl.Stop()
}
