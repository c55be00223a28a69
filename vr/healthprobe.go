package vr

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kfsvr/metavr/pkg/probing"
	"github.com/kfsvr/metavr/vrconfig"
)

// HealthProbe reports whether a peer is independently known to be up,
// consulted before a missed-heartbeat timeout is trusted to mean the
// primary is actually down — a transient scheduling delay on an
// otherwise-healthy primary should not trigger a view change.
//
// (etcd raft's leaderCheckQuorumActive gate, generalized from raft's
// built-in heartbeat-ack bookkeeping to an external prober since VR's
// heartbeat already flows through lastAckAt)
type HealthProbe interface {
	// Healthy reports the last known liveness of id. An id this probe
	// has never been told to watch reports healthy, so an unconfigured
	// HealthProbe never blocks a legitimate view change.
	Healthy(id vrconfig.NodeId) bool
}

// ProbeGate adapts pkg/probing's HTTP prober into a HealthProbe keyed
// by node id.
//
// (etcd embed's use of pkg/probing to watch peer health endpoints,
// narrowed to the single Healthy(id) query vr needs)
type ProbeGate struct {
	prober probing.Prober
}

// NewProbeGate constructs a ProbeGate using transport for its HTTP
// probes. A nil transport uses http.DefaultTransport.
func NewProbeGate(transport http.RoundTripper) *ProbeGate {
	return &ProbeGate{prober: probing.NewProber(transport)}
}

// Watch starts probing id's health endpoint at interval. Replacing an
// existing watch removes the old one first, so reconfiguration can
// call Watch freely as locations change.
func (g *ProbeGate) Watch(id vrconfig.NodeId, endpoint string, interval time.Duration) error {
	key := probeKey(id)
	g.prober.Remove(key)
	return g.prober.AddHTTP(key, interval, []string{endpoint})
}

// Unwatch stops probing id.
func (g *ProbeGate) Unwatch(id vrconfig.NodeId) {
	g.prober.Remove(probeKey(id))
}

// Healthy implements HealthProbe.
func (g *ProbeGate) Healthy(id vrconfig.NodeId) bool {
	st, err := g.prober.Status(probeKey(id))
	if err != nil {
		return true
	}
	return st.Health()
}

func probeKey(id vrconfig.NodeId) string {
	return strconv.FormatInt(int64(id), 10)
}
