// Package vrconfig defines the VR replica-set descriptor: which nodes
// participate, their primary-election preference and listener
// locations, and the timeouts and reconfiguration guard that govern
// the view-change protocol.
//
// (etcd raft.Config, generalized from a single-node config to a
// replicated node-set descriptor)
package vrconfig

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kfsvr/metavr/pkg/types"
)

// NodeId identifies a replica. NoNodeID denotes "unassigned".
type NodeId int64

// NoNodeID is the placeholder node id, used when no node is assigned
// (e.g. before a primary has been elected).
const NoNodeID NodeId = -1

// NodeFlag is a bitset of NodeDescriptor roles.
type NodeFlag uint8

const (
	// FlagWitness marks a node that participates in quorum but can
	// never become primary.
	FlagWitness NodeFlag = 1 << 0

	// FlagActive marks a node eligible to become primary and to
	// replay committed log records into application state.
	FlagActive NodeFlag = 1 << 1
)

func (f NodeFlag) Witness() bool { return f&FlagWitness != 0 }
func (f NodeFlag) Active() bool  { return f&FlagActive != 0 }

// NodeDescriptor describes one replica's role and network locations.
type NodeDescriptor struct {
	Flags        NodeFlag
	PrimaryOrder int
	Locations    []string // host:port, first is the primary listener
}

// Configuration is the replica-set descriptor: node id -> descriptor,
// plus the timeouts and the reconfiguration guard.
//
// (etcd raft.Config, minus the single-ID/single-storage fields that
// belong to a running replica rather than to the replica set)
type Configuration struct {
	Nodes map[NodeId]NodeDescriptor

	PrimaryTimeoutSec        int
	BackupTimeoutSec         int
	ChangeViewMaxLogDistance uint64
	MaxListenersPerNode      int
}

var (
	// Sentinel errors for configuration validation.
	ErrNoActiveNode       = errors.New("vrconfig: configuration has no Active node")
	ErrPrimaryTimeout     = errors.New("vrconfig: primaryTimeout must be >= 1")
	ErrBackupTimeout      = errors.New("vrconfig: backupTimeout must be > primaryTimeout")
	ErrMaxLogDistance     = errors.New("vrconfig: changeViewMaxLogDistance must be >= 0")
	ErrMaxListeners       = errors.New("vrconfig: maxListenersPerNode must be >= 1")
	ErrEmptyLocations     = errors.New("vrconfig: node has no listener locations")
	ErrBadLocation        = errors.New("vrconfig: node listener location is not parseable")
	ErrWitnessActiveMix   = errors.New("vrconfig: a node cannot be both Witness and Active")
	ErrTransmitterUnknown = errors.New("vrconfig: transmitter-declared node is absent from configuration")
)

// Validate enforces the invariants from the data model: PrimaryTimeout
// >= 1, BackupTimeout > PrimaryTimeout, ChangeViewMaxLogDistance >= 0,
// MaxListenersPerNode >= 1, at least one Active node, every location
// parseable, and no node flagged both Witness and Active.
func (c *Configuration) Validate() error {
	if c.PrimaryTimeoutSec < 1 {
		return ErrPrimaryTimeout
	}
	if c.BackupTimeoutSec <= c.PrimaryTimeoutSec {
		return ErrBackupTimeout
	}
	if c.MaxListenersPerNode < 1 {
		return ErrMaxListeners
	}

	activeN := 0
	for id, nd := range c.Nodes {
		if nd.Flags.Witness() && nd.Flags.Active() {
			return fmt.Errorf("%w: node %d", ErrWitnessActiveMix, id)
		}
		if len(nd.Locations) == 0 {
			return fmt.Errorf("%w: node %d", ErrEmptyLocations, id)
		}
		for _, loc := range nd.Locations {
			if _, err := types.NewURL("tcp://" + loc); err != nil {
				return fmt.Errorf("%w: node %d location %q (%v)", ErrBadLocation, id, loc, err)
			}
		}
		if nd.Flags.Active() {
			activeN++
		}
	}
	if activeN == 0 {
		return ErrNoActiveNode
	}

	return nil
}

// ValidateTransmitter additionally rejects a configuration in which
// the given transmitter-declared node id is absent.
func (c *Configuration) ValidateTransmitter(transmitterID NodeId) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if _, ok := c.Nodes[transmitterID]; !ok {
		return fmt.Errorf("%w: %d", ErrTransmitterUnknown, transmitterID)
	}
	return nil
}

// ActiveNodeIDs returns the sorted ids of Active nodes. Node ids are
// non-negative once assigned, so sorting goes through the shared
// Uint64Slice rather than a bespoke comparator.
func (c *Configuration) ActiveNodeIDs() []NodeId {
	var ids types.Uint64Slice
	for id, nd := range c.Nodes {
		if nd.Flags.Active() {
			ids = append(ids, uint64(id))
		}
	}
	sort.Sort(ids)
	out := make([]NodeId, len(ids))
	for i, id := range ids {
		out[i] = NodeId(id)
	}
	return out
}

// ActiveCount returns the number of Active nodes.
func (c *Configuration) ActiveCount() int {
	n := 0
	for _, nd := range c.Nodes {
		if nd.Flags.Active() {
			n++
		}
	}
	return n
}

// Quorum returns floor(|Active|/2) + 1.
//
// (etcd raft.raft.quorum, generalized from |all nodes| to |Active|)
func (c *Configuration) Quorum() int {
	return c.ActiveCount()/2 + 1
}

// SurvivesOneFailure reports whether the Active set is large enough
// to tolerate a single node failure, i.e. |Active| >= 2*Quorum - 1.
// A false result is not itself invalid — spec.md allows it — but
// callers should log it.
func (c *Configuration) SurvivesOneFailure() bool {
	q := c.Quorum()
	return c.ActiveCount() >= 2*q-1
}

// Clone returns a deep copy, used to hand out read-only snapshots
// stable for the duration of one call (the copy-on-write discipline
// from the concurrency model).
func (c *Configuration) Clone() *Configuration {
	out := &Configuration{
		Nodes:                    make(map[NodeId]NodeDescriptor, len(c.Nodes)),
		PrimaryTimeoutSec:        c.PrimaryTimeoutSec,
		BackupTimeoutSec:         c.BackupTimeoutSec,
		ChangeViewMaxLogDistance: c.ChangeViewMaxLogDistance,
		MaxListenersPerNode:      c.MaxListenersPerNode,
	}
	for id, nd := range c.Nodes {
		locs := make([]string, len(nd.Locations))
		copy(locs, nd.Locations)
		out.Nodes[id] = NodeDescriptor{
			Flags:        nd.Flags,
			PrimaryOrder: nd.PrimaryOrder,
			Locations:    locs,
		}
	}
	return out
}
