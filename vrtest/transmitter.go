package vrtest

import (
	"sync"

	"github.com/kfsvr/metavr/logxmit"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
)

// FakeTransmitter is an in-memory logxmit.LogTransmitter: Transmit
// immediately hands the block to every registered peer's
// BlockReceiver and, on success, acks the sender's AckSink — enough
// fidelity for the commit-rule scenarios without a real socket.
type FakeTransmitter struct {
	mu    sync.Mutex
	self  vrconfig.NodeId
	sink  logxmit.AckSink
	peers map[vrconfig.NodeId]logxmit.BlockReceiver
}

var _ logxmit.LogTransmitter = (*FakeTransmitter)(nil)

// NewFakeTransmitter constructs a FakeTransmitter for node id self,
// reporting acks to sink.
func NewFakeTransmitter(self vrconfig.NodeId, sink logxmit.AckSink) *FakeTransmitter {
	return &FakeTransmitter{self: self, sink: sink, peers: make(map[vrconfig.NodeId]logxmit.BlockReceiver)}
}

// Register adds id's BlockReceiver as a delivery target.
func (f *FakeTransmitter) Register(id vrconfig.NodeId, recv logxmit.BlockReceiver) {
	f.mu.Lock()
	f.peers[id] = recv
	f.mu.Unlock()
}

func (f *FakeTransmitter) Transmit(block vrpb.LogBlock) error {
	f.mu.Lock()
	peers := make(map[vrconfig.NodeId]logxmit.BlockReceiver, len(f.peers))
	for id, r := range f.peers {
		peers[id] = r
	}
	f.mu.Unlock()

	for id, recv := range peers {
		if id == f.self {
			continue
		}
		if err := recv.ReceiveLogBlock(block); err != nil {
			if f.sink != nil {
				f.sink.OnLogBlockFailed(id, block.StartSeq, err.Error())
			}
			continue
		}
		if f.sink != nil {
			f.sink.OnLogBlockWriteDone(id, block.StartSeq, block.EndSeq, block.CommittedSeq, block.EndSeq, true)
		}
	}
	return nil
}

func (f *FakeTransmitter) UpdatePeers(config *vrconfig.Configuration) {}

func (f *FakeTransmitter) Stop() {}

// fakeBlockReceiver adapts a plain function to logxmit.BlockReceiver
// for tests that only need to observe delivered blocks.
type fakeBlockReceiver func(vrpb.LogBlock) error

func (f fakeBlockReceiver) ReceiveLogBlock(b vrpb.LogBlock) error { return f(b) }

// NewFuncBlockReceiver wraps fn as a logxmit.BlockReceiver.
func NewFuncBlockReceiver(fn func(vrpb.LogBlock) error) logxmit.BlockReceiver {
	return fakeBlockReceiver(fn)
}
