package transport

import (
	"io"
	"net"
	"sync"

	"github.com/golang/glog"
)

// Listener serves one TCP peer at a time as a byte stream. When the
// peer goes away the next one is accepted, so readers never see io.EOF
// until Close.
type Listener struct {
	listener net.Listener

	lock sync.Mutex
	conn net.Conn
}

// Listen listens on a TCP address.
func Listen(addr string) (*Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Listener{listener: l}, nil
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

func (l *Listener) current() (net.Conn, error) {
	l.lock.Lock()
	conn := l.conn
	l.lock.Unlock()
	if conn != nil {
		return conn, nil
	}
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	glog.Infof("peer %s connected", conn.RemoteAddr())
	l.lock.Lock()
	l.conn = conn
	l.lock.Unlock()
	return conn, nil
}

func (l *Listener) drop(conn net.Conn) {
	l.lock.Lock()
	if l.conn == conn {
		l.conn = nil
	}
	l.lock.Unlock()
	conn.Close()
}

// Read implements io.Reader. An empty read means the peer left.
func (l *Listener) Read(p []byte) (int, error) {
	conn, err := l.current()
	if err != nil {
		return 0, err
	}
	n, err := conn.Read(p)
	if err != nil {
		glog.Infof("peer %s disconnected: %v", conn.RemoteAddr(), err)
		l.drop(conn)
		if err == io.EOF {
			err = nil
		}
	}
	return n, err
}

// Write implements io.Writer, writing to the current peer.
func (l *Listener) Write(p []byte) (int, error) {
	conn, err := l.current()
	if err != nil {
		return 0, err
	}
	return conn.Write(p)
}

// Close stops listening and drops the peer.
func (l *Listener) Close() error {
	err := l.listener.Close()
	l.lock.Lock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
	l.lock.Unlock()
	return err
}
