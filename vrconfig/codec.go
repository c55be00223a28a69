package vrconfig

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// DecodeWarning records a non-fatal oddity observed while decoding a
// Configuration, surfaced to the caller instead of only logged —
// see spec.md §9 Open Question (a) on the duplicate-node-id
// resolution rule.
type DecodeWarning string

// Encode serializes a Configuration to its textual wire form:
//
//	nodeCount primaryTimeout backupTimeout changeViewMaxLogDistance maxListenersPerNode
//	nodeId locationCount flags primaryOrder loc1 loc2 …
//	...
//
// (etcd raft's config is never serialized this way; this format is
// grounded on the token-per-line discipline the teacher's RPC
// envelope uses for its own header lines, §4.2)
func Encode(w io.Writer, c *Configuration) error {
	bw := bufio.NewWriter(w)

	ids := make([]NodeId, 0, len(c.Nodes))
	for id := range c.Nodes {
		ids = append(ids, id)
	}
	sortNodeIDs(ids)

	if _, err := fmt.Fprintf(bw, "%d %d %d %d %d\n",
		len(c.Nodes), c.PrimaryTimeoutSec, c.BackupTimeoutSec,
		c.ChangeViewMaxLogDistance, c.MaxListenersPerNode); err != nil {
		return err
	}

	for _, id := range ids {
		nd := c.Nodes[id]
		if _, err := fmt.Fprintf(bw, "%d %d %d %d", id, len(nd.Locations), nd.Flags, nd.PrimaryOrder); err != nil {
			return err
		}
		for _, loc := range nd.Locations {
			if _, err := fmt.Fprintf(bw, " %s", loc); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Decode deserializes a Configuration from its textual wire form.
// Decoding is all-or-nothing: on any malformed field, the returned
// Configuration has an empty Nodes map and err is non-nil. Duplicate
// node ids are resolved by keeping the entry with the lower
// PrimaryOrder (see DecodeWarning).
func Decode(r io.Reader) (*Configuration, []DecodeWarning, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	fail := func(format string, args ...interface{}) (*Configuration, []DecodeWarning, error) {
		return &Configuration{Nodes: map[NodeId]NodeDescriptor{}}, nil, fmt.Errorf("vrconfig: decode: "+format, args...)
	}

	if !sc.Scan() {
		return fail("empty input")
	}
	headerToks := strings.Fields(sc.Text())
	if len(headerToks) != 5 {
		return fail("header wants 5 tokens, got %d", len(headerToks))
	}
	nodeCount, err := strconv.Atoi(headerToks[0])
	if err != nil {
		return fail("nodeCount: %v", err)
	}
	primaryTimeout, err := strconv.Atoi(headerToks[1])
	if err != nil {
		return fail("primaryTimeout: %v", err)
	}
	backupTimeout, err := strconv.Atoi(headerToks[2])
	if err != nil {
		return fail("backupTimeout: %v", err)
	}
	maxLogDistance, err := strconv.ParseUint(headerToks[3], 10, 64)
	if err != nil {
		return fail("changeViewMaxLogDistance: %v", err)
	}
	maxListeners, err := strconv.Atoi(headerToks[4])
	if err != nil {
		return fail("maxListenersPerNode: %v", err)
	}

	c := &Configuration{
		Nodes:                    make(map[NodeId]NodeDescriptor, nodeCount),
		PrimaryTimeoutSec:        primaryTimeout,
		BackupTimeoutSec:         backupTimeout,
		ChangeViewMaxLogDistance: maxLogDistance,
		MaxListenersPerNode:      maxListeners,
	}

	var warnings []DecodeWarning

	for i := 0; i < nodeCount; i++ {
		if !sc.Scan() {
			return fail("expected %d node records, got %d", nodeCount, i)
		}
		toks := strings.Fields(sc.Text())
		if len(toks) < 4 {
			return fail("node record %d wants at least 4 tokens, got %d", i, len(toks))
		}

		id64, err := strconv.ParseInt(toks[0], 10, 64)
		if err != nil {
			return fail("node record %d: nodeId: %v", i, err)
		}
		locCount, err := strconv.Atoi(toks[1])
		if err != nil {
			return fail("node record %d: locationCount: %v", i, err)
		}
		flags64, err := strconv.ParseUint(toks[2], 10, 8)
		if err != nil {
			return fail("node record %d: flags: %v", i, err)
		}
		primaryOrder, err := strconv.Atoi(toks[3])
		if err != nil {
			return fail("node record %d: primaryOrder: %v", i, err)
		}
		if len(toks)-4 != locCount {
			return fail("node record %d: declared %d locations, found %d", i, locCount, len(toks)-4)
		}

		id := NodeId(id64)
		nd := NodeDescriptor{
			Flags:        NodeFlag(flags64),
			PrimaryOrder: primaryOrder,
			Locations:    append([]string{}, toks[4:]...),
		}

		if existing, dup := c.Nodes[id]; dup {
			warnings = append(warnings, DecodeWarning(fmt.Sprintf(
				"duplicate node id %d: keeping entry with lower primaryOrder (%d vs %d)",
				id, existing.PrimaryOrder, nd.PrimaryOrder)))
			if nd.PrimaryOrder < existing.PrimaryOrder {
				c.Nodes[id] = nd
			}
			continue
		}
		c.Nodes[id] = nd
	}

	if err := sc.Err(); err != nil {
		return fail("scan: %v", err)
	}

	return c, warnings, nil
}

func sortNodeIDs(ids []NodeId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
