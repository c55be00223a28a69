package netutil

import (
	"net"
	"time"
)

// connKeepAlive defines keep alive connection interface.
//
// (etcd pkg.transport.keepAliveConn)
type connKeepAlive interface {
	SetKeepAlive(bool) error
	SetKeepAlivePeriod(d time.Duration) error
}

// (etcd pkg.transport.keepaliveListener)
type listenerKeepAlive struct {
	net.Listener
}

func (l *listenerKeepAlive) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	kac := c.(connKeepAlive)

	// detection time: tcp_keepalive_time + tcp_keepalive_probes + tcp_keepalive_intvl
	// default on linux:  30 + 8 * 30
	// default on osx:    30 + 8 * 75
	kac.SetKeepAlive(true)
	kac.SetKeepAlivePeriod(30 * time.Second)

	return c, nil
}

// NewListenerKeepAlive returns a listener that wraps the given listener's
// accepted connections with TCP keepalive, so a peer's log-transmitter
// socket notices a dead remote within the OS keepalive window instead of
// waiting on the VR timers alone.
//
// (etcd pkg.transport.NewKeepAliveListener)
func NewListenerKeepAlive(l net.Listener) net.Listener {
	return &listenerKeepAlive{Listener: l}
}

// NewListenerKeepAliveConn applies the same TCP keepalive settings to
// an outbound (dialed) connection, the client-side counterpart to
// NewListenerKeepAlive's server-side wrapping.
func NewListenerKeepAliveConn(c net.Conn) net.Conn {
	if kac, ok := c.(connKeepAlive); ok {
		kac.SetKeepAlive(true)
		kac.SetKeepAlivePeriod(30 * time.Second)
	}
	return c
}
