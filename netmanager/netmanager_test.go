package netmanager

import (
	"net"
	"testing"
	"time"

	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/pkg/testutil"
	"github.com/kfsvr/metavr/vr"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
)

func twoNodeConfig(aCtl, bCtl string) *vrconfig.Configuration {
	return &vrconfig.Configuration{
		Nodes: map[vrconfig.NodeId]vrconfig.NodeDescriptor{
			1: {Flags: vrconfig.FlagActive, PrimaryOrder: 0, Locations: []string{"127.0.0.1:0", aCtl}},
			2: {Flags: vrconfig.FlagActive, PrimaryOrder: 1, Locations: []string{"127.0.0.1:0", bCtl}},
		},
		PrimaryTimeoutSec: 2, BackupTimeoutSec: 6, MaxListenersPerNode: 2,
	}
}

func TestSendDeliversStartViewChangeToListeningPeer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() = %v", err)
	}
	defer ln.Close()

	config := twoNodeConfig("127.0.0.1:0", ln.Addr().String())

	sm, err := vr.New(vr.Config{ID: 2, Config: config})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if err := sm.Restore(config, 0, 0, logseq.Min, logseq.Min); err != nil {
		t.Fatalf("Restore() = %v", err)
	}
	cb := &vr.ControlCallback{SM: sm}
	go Serve(ln, 2, cb)

	tx := New(1, config, nil)
	defer tx.Stop()

	msg := vrpb.StartViewChange{From: 1, Epoch: 0, ViewNum: 1, LastLogSeq: logseq.Min, LastViewEndSeq: logseq.Min}
	if err := tx.Send(2, msg); err != nil {
		t.Fatalf("Send() = %v", err)
	}

	ok := testutil.WaitSchedule(2*time.Second, 10*time.Millisecond, func() bool {
		sm.Process(time.Now(), logseq.Min, false, 0, 0, logseq.Min)
		return sm.GetState() == vrpb.REPLICA_STATE_VIEW_CHANGE
	})
	if !ok {
		t.Fatalf("GetState() = %s, want ViewChange after receiving StartViewChange", sm.GetState())
	}
}

func TestUpdatePeersDropsRemoved(t *testing.T) {
	config := twoNodeConfig("127.0.0.1:1", "127.0.0.1:2")
	m := New(1, config, nil)
	defer m.Stop()

	if len(m.peers) != 1 {
		t.Fatalf("peers = %d, want 1 (excludes self)", len(m.peers))
	}

	solo := &vrconfig.Configuration{
		Nodes: map[vrconfig.NodeId]vrconfig.NodeDescriptor{
			1: {Flags: vrconfig.FlagActive, Locations: []string{"127.0.0.1:0", "127.0.0.1:1"}},
		},
		PrimaryTimeoutSec: 2, BackupTimeoutSec: 6, MaxListenersPerNode: 2,
	}
	m.UpdatePeers(solo)
	if len(m.peers) != 0 {
		t.Fatalf("peers = %d after removal, want 0", len(m.peers))
	}
}

func TestDispatchIgnoresReadMetaData(t *testing.T) {
	sm, err := vr.New(vr.Config{ID: 1, Config: twoNodeConfig("127.0.0.1:1", "127.0.0.1:2")})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	cb := &vr.ControlCallback{SM: sm}

	dispatch(cb, vrpb.ReadMetaData{From: 2})

	if sm.GetState() != vrpb.REPLICA_STATE_RECONFIGURATION {
		t.Fatalf("GetState() = %s, want unchanged Reconfiguration after a connection-level message", sm.GetState())
	}
}

func TestDispatchHandlesHelloHandshake(t *testing.T) {
	config := twoNodeConfig("127.0.0.1:1", "127.0.0.1:2")
	sm, err := vr.New(vr.Config{ID: 1, Config: config})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	if err := sm.Restore(config, 0, 0, logseq.Min, logseq.Min); err != nil {
		t.Fatalf("Restore() = %v", err)
	}
	cb := &vr.ControlCallback{SM: sm}

	dispatch(cb, vrpb.Hello{From: 2, ConfigEpoch: 0})
	sm.Process(time.Now(), logseq.Min, false, 0, 0, logseq.Min)

	out := sm.DrainOutbox()
	if len(out) != 1 {
		t.Fatalf("DrainOutbox() = %d messages, want 1 Hello reply", len(out))
	}
	reply, ok := out[0].Payload.(vrpb.Hello)
	if !ok || out[0].To != 2 || reply.From != 1 {
		t.Fatalf("DrainOutbox()[0] = %+v, want a Hello reply to node 2 from node 1", out[0])
	}
}
