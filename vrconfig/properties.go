package vrconfig

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PropertyWarning records a non-fatal oddity encountered while
// decoding a Configuration from a flat property map: an unrecognized
// key, an unrecognized flag token, or similar.
type PropertyWarning struct {
	Key     string
	Message string
}

func (w PropertyWarning) String() string {
	return fmt.Sprintf("%s: %s", w.Key, w.Message)
}

// FromProperties decodes a Configuration from a flat key/value map
// under the metaServer.vr. key space (spec.md §6), mirroring the
// teacher's transportutil/tlsutil style of parsing a flat property
// bag into a struct rather than a nested document format. Recognized
// keys:
//
//	primaryTimeoutSec
//	backupTimeoutSec
//	changeViewMaxLogDistance
//	maxListenersPerNode
//	nodes.<id>.flags            comma-separated: "witness", "active"
//	nodes.<id>.primaryOrder
//	nodes.<id>.listener.<n>     host:port, n starting at 0
func FromProperties(props map[string]string) (*Configuration, []PropertyWarning, error) {
	cfg := &Configuration{Nodes: make(map[NodeId]NodeDescriptor)}
	var warnings []PropertyWarning

	nodeFields := make(map[NodeId]map[string]string)

	for key, val := range props {
		switch key {
		case "primaryTimeoutSec":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, warnings, fmt.Errorf("vrconfig: %s: %w", key, err)
			}
			cfg.PrimaryTimeoutSec = n
		case "backupTimeoutSec":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, warnings, fmt.Errorf("vrconfig: %s: %w", key, err)
			}
			cfg.BackupTimeoutSec = n
		case "changeViewMaxLogDistance":
			n, err := strconv.ParseUint(val, 10, 64)
			if err != nil {
				return nil, warnings, fmt.Errorf("vrconfig: %s: %w", key, err)
			}
			cfg.ChangeViewMaxLogDistance = n
		case "maxListenersPerNode":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, warnings, fmt.Errorf("vrconfig: %s: %w", key, err)
			}
			cfg.MaxListenersPerNode = n
		default:
			id, field, ok := splitNodeKey(key)
			if !ok {
				warnings = append(warnings, PropertyWarning{Key: key, Message: "unrecognized property, ignored"})
				continue
			}
			m := nodeFields[id]
			if m == nil {
				m = make(map[string]string)
				nodeFields[id] = m
			}
			m[field] = val
		}
	}

	for id, fields := range nodeFields {
		nd := NodeDescriptor{}
		if raw, ok := fields["flags"]; ok {
			for _, tok := range strings.Split(raw, ",") {
				switch strings.ToLower(strings.TrimSpace(tok)) {
				case "witness":
					nd.Flags |= FlagWitness
				case "active":
					nd.Flags |= FlagActive
				case "":
				default:
					warnings = append(warnings, PropertyWarning{Key: fmt.Sprintf("nodes.%d.flags", id), Message: fmt.Sprintf("unrecognized flag %q, ignored", tok)})
				}
			}
		}
		if raw, ok := fields["primaryOrder"]; ok {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return nil, warnings, fmt.Errorf("vrconfig: nodes.%d.primaryOrder: %w", id, err)
			}
			nd.PrimaryOrder = n
		}

		var locIdx []int
		for field := range fields {
			var n int
			if _, err := fmt.Sscanf(field, "listener.%d", &n); err == nil {
				locIdx = append(locIdx, n)
			}
		}
		sort.Ints(locIdx)
		for _, n := range locIdx {
			nd.Locations = append(nd.Locations, fields[fmt.Sprintf("listener.%d", n)])
		}

		cfg.Nodes[id] = nd
	}

	return cfg, warnings, nil
}

// splitNodeKey parses "nodes.<id>.<field...>" into its id and field
// components.
func splitNodeKey(key string) (NodeId, string, bool) {
	if !strings.HasPrefix(key, "nodes.") {
		return 0, "", false
	}
	rest := key[len("nodes."):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return 0, "", false
	}
	idStr, field := rest[:dot], rest[dot+1:]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return NodeId(id), field, true
}
