package logxmit

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/kfsvr/metavr/logseq"
	"github.com/kfsvr/metavr/vrconfig"
	"github.com/kfsvr/metavr/vrpb"
)

// BlockReceiver is implemented by whatever owns local log storage on
// the receiving side of a LogBlock — the checkpoint package in this
// module. It is distinct from AckSink: AckSink is the primary-side
// callback for other peers' acks, BlockReceiver is the backup-side
// callback for an inbound block.
type BlockReceiver interface {
	ReceiveLogBlock(block vrpb.LogBlock) error
}

// Serve accepts connections on ln, decodes inbound LogBlocks, hands
// each to recv, and writes back a framed ack reporting the outcome.
// It runs until ln is closed.
//
// (etcd rafthttp's 04_stream_handler_serve_get.go / 07_pipeline_handler_serve_post.go
// split reading and acking into dedicated per-connection goroutines;
// this collapses that into one loop per connection since VR log
// blocks are ordered per peer and don't need the stream/pipeline
// split raft's heartbeat-vs-bulk traffic does)
func Serve(ln net.Listener, self vrconfig.NodeId, recv BlockReceiver) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go serveConn(conn, self, recv)
	}
}

func serveConn(conn net.Conn, self vrconfig.NodeId, recv BlockReceiver) {
	defer conn.Close()
	br := bufio.NewReader(conn)
	for {
		block, err := decodeBlock(br)
		if err != nil {
			if err != io.EOF {
				xmitLogger.Warningf("node %d: decode from %s: %v", self, conn.RemoteAddr(), err)
			}
			return
		}

		writeOk, reason := true, ""
		if err := recv.ReceiveLogBlock(block); err != nil {
			writeOk, reason = false, err.Error()
		}
		enc, err := encodeAck(block, writeOk, reason)
		if err != nil {
			xmitLogger.Warningf("node %d: encode ack for %s: %v", self, conn.RemoteAddr(), err)
			return
		}
		if _, err := conn.Write(enc); err != nil {
			return
		}
	}
}

func decodeBlock(br *bufio.Reader) (vrpb.LogBlock, error) {
	lenLine, err := br.ReadString('\n')
	if err != nil {
		return vrpb.LogBlock{}, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(lenLine))
	if err != nil {
		return vrpb.LogBlock{}, fmt.Errorf("logxmit: bad length prefix %q: %w", lenLine, err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return vrpb.LogBlock{}, err
	}
	var wb wireBlock
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&wb); err != nil {
		return vrpb.LogBlock{}, err
	}
	return vrpb.LogBlock{
		TransmitterId: wb.TransmitterId,
		StartSeq:      logseq.LogSeq{Epoch: wb.StartSeq[0], View: wb.StartSeq[1], Seq: wb.StartSeq[2]},
		EndSeq:        logseq.LogSeq{Epoch: wb.EndSeq[0], View: wb.EndSeq[1], Seq: wb.EndSeq[2]},
		CommittedSeq:  logseq.LogSeq{Epoch: wb.CommittedSeq[0], View: wb.CommittedSeq[1], Seq: wb.CommittedSeq[2]},
		Data:          wb.Data,
	}, nil
}

// wireAck is the gob-encodable form of an ack for the LogBlock the
// receiver just decoded, framed the same length-prefix-then-gob way as
// wireBlock. LastViewEndSeq is reported as the acked block's own
// EndSeq: a receiver answering on this connection only ever acks
// blocks from its current view, so the block it just wrote is by
// definition the farthest point that view reaches on this replica.
type wireAck struct {
	WriteOk        bool
	StartSeq       [3]uint64
	EndSeq         [3]uint64
	CommittedSeq   [3]uint64
	LastViewEndSeq [3]uint64
	Reason         string
}

func encodeAck(block vrpb.LogBlock, writeOk bool, reason string) ([]byte, error) {
	wa := wireAck{
		WriteOk:        writeOk,
		StartSeq:       [3]uint64{block.StartSeq.Epoch, block.StartSeq.View, block.StartSeq.Seq},
		EndSeq:         [3]uint64{block.EndSeq.Epoch, block.EndSeq.View, block.EndSeq.Seq},
		CommittedSeq:   [3]uint64{block.CommittedSeq.Epoch, block.CommittedSeq.View, block.CommittedSeq.Seq},
		LastViewEndSeq: [3]uint64{block.EndSeq.Epoch, block.EndSeq.View, block.EndSeq.Seq},
		Reason:         reason,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&wa); err != nil {
		return nil, err
	}

	var framed bytes.Buffer
	bw := bufio.NewWriter(&framed)
	fmt.Fprintf(bw, "%d\n", buf.Len())
	bw.Write(buf.Bytes())
	if err := bw.Flush(); err != nil {
		return nil, err
	}
	return framed.Bytes(), nil
}

func decodeAck(br *bufio.Reader) (wireAck, error) {
	lenLine, err := br.ReadString('\n')
	if err != nil {
		return wireAck{}, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(lenLine))
	if err != nil {
		return wireAck{}, fmt.Errorf("logxmit: bad ack length prefix %q: %w", lenLine, err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return wireAck{}, err
	}
	var wa wireAck
	if err := gob.NewDecoder(bytes.NewReader(buf)).Decode(&wa); err != nil {
		return wireAck{}, err
	}
	return wa, nil
}
