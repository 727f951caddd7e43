package apyserver

import (
	"fmt"
	"net"
	"sync"
)

// Client represents the remote endpoint of one connection (spec.md §3
// "Client"). Its Encoding is fixed at construction from the first accepted
// message's content_encoding and is immutable thereafter.
type Client struct {
	Address string
	Session *Session

	server   *Server
	conn     net.Conn
	encoding Encoding

	sendMu    sync.Mutex // serializes frame writes (spec.md §5 "atomic per call")
	closeOnce sync.Once
}

func newClient(s *Server, conn net.Conn, encoding Encoding) *Client {
	return &Client{
		Address:  remoteAddr(conn),
		server:   s,
		conn:     conn,
		encoding: encoding,
	}
}

// Encoding returns the encoding negotiated for this connection.
func (c *Client) Encoding() Encoding { return c.encoding }

// Sessions returns every session currently open from this client's address.
func (c *Client) Sessions() []*Session {
	return c.server.sessions.sessionsOf(c.Address)
}

// Ban adds this client's address to the server's ban list without closing
// the current connection (spec.md §3 "Client.ban()" in the original
// source).
func (c *Client) Ban() {
	c.server.sessions.ban(c.Address)
}

// Send serializes payload in the client's negotiated encoding and writes a
// framed message to this client's stream (spec.md §4.9). If close is true,
// the stream is closed after the send completes.
func (c *Client) Send(payload Payload, close bool) error {
	return c.SendEncoded(payload, c.encoding, close)
}

// SendEncoded is Send with an explicit per-call encoding override
// (spec.md §3 "unless a handler explicitly overrides per call").
func (c *Client) SendEncoded(payload Payload, encoding Encoding, close bool) error {
	return c.server.sendTo(c.conn, &c.sendMu, payload, encoding, close)
}

// Close closes the underlying stream and removes this client's session
// from the registry. It is idempotent (spec.md §8 "Close idempotence").
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.server.sessions.close(c)
		err = c.conn.Close()
	})
	return err
}

// String implements fmt.Stringer.
func (c *Client) String() string {
	return fmt.Sprintf("Client(%s)", c.Address)
}

// remoteAddr extracts the bare IP from conn's peer address
// (SPEC_FULL.md §9 open-question resolution: peer address, not the local
// socket name). Falls back to the raw address string for non-TCP
// connections such as net.Pipe in tests.
func remoteAddr(conn net.Conn) string {
	if a, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return a.IP.String()
	}
	return conn.RemoteAddr().String()
}
