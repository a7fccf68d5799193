package transport

import (
	"crypto/tls"
	"math/rand"
	"net"
	"time"
)

// Jitter configures artificial delay injection on broker connections
type Jitter struct {
	Probability float64       // chance (0.0-1.0) of delaying a Read or Write
	MaxLatency  time.Duration // upper bound of each injected delay
}

// Enabled reports whether any delay will be injected
func (j Jitter) Enabled() bool {
	return j.Probability > 0 && j.MaxLatency > 0
}

// LatencyConn wraps a net.Conn to inject random latency on Read/Write operations
type LatencyConn struct {
	net.Conn
	probability float64
	maxLatency  time.Duration
	sleep       func(time.Duration)
}

// NewLatencyConn wraps conn with j. Returns conn unchanged when j is disabled.
func NewLatencyConn(conn net.Conn, j Jitter) net.Conn {
	if !j.Enabled() {
		return conn
	}
	return &LatencyConn{
		Conn:        conn,
		probability: j.Probability,
		maxLatency:  j.MaxLatency,
		sleep:       time.Sleep,
	}
}

func (c *LatencyConn) delay() {
	if c.probability > 0 && rand.Float64() < c.probability {
		c.sleep(time.Duration(rand.Int63n(int64(c.maxLatency))))
	}
}

// Read injects latency before reading
func (c *LatencyConn) Read(b []byte) (n int, err error) {
	c.delay()
	return c.Conn.Read(b)
}

// Write injects latency before writing
func (c *LatencyConn) Write(b []byte) (n int, err error) {
	c.delay()
	return c.Conn.Write(b)
}

// latencyDialer returns a rueidis-style dialer that wraps connections with
// latency injection
func latencyDialer(j Jitter) func(string, *net.Dialer, *tls.Config) (net.Conn, error) {
	return func(addr string, dialer *net.Dialer, tlsConfig *tls.Config) (net.Conn, error) {
		var (
			conn net.Conn
			err  error
		)
		if tlsConfig != nil {
			conn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
		} else {
			conn, err = dialer.Dial("tcp", addr)
		}
		if err != nil {
			return nil, err
		}
		return NewLatencyConn(conn, j), nil
	}
}
