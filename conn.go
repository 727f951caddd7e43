package apyserver

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// handleConn runs the per-connection state machine: read -> frame ->
// decode -> dispatch -> respond -> loop or close (spec.md §4.7). Exactly
// one wall-clock deadline bounds the whole connection lifetime, measured
// from acceptance (spec.md §9 open-question resolution: a single
// connection-lifetime deadline, not per-operation deadlines).
func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	deadline := time.Now().Add(s.cfg.Timeout)

	// Guards writes before a Client exists yet (no message decoded, so no
	// negotiated encoding and no Client.sendMu to borrow).
	var preMu sync.Mutex

	var leftover []byte
	var client *Client

	defer func() {
		if client != nil {
			_ = client.Close()
		} else {
			_ = nc.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		_ = nc.SetDeadline(deadline)

		payload, encoding, rest, err := readOneFrame(nc, leftover, s.cfg.HeaderSize, s.cfg.BigEndian, s.cfg.Buf)
		leftover = rest
		if err != nil {
			s.handleFrameError(nc, writeMuFor(client, &preMu), client, encoding, err)
			return
		}

		// Encoding is negotiated once, from the first accepted message
		// (spec.md §3 "Client"); the session is opened once too, for the
		// connection's whole lifetime, not per message.
		if client == nil {
			client = newClient(s, nc, encoding)

			if s.sessions.isBanned(client.Address) {
				return
			}
			if !s.sessions.open(client) {
				s.replyError(nc, &client.sendMu, client.encoding, codeSessionLimit)
				_ = client.Close()
				return
			}
		}

		decoded, derr := decodePayload(encoding, payload)
		if derr != nil {
			s.replyError(nc, &client.sendMu, client.encoding, codeMalformed)
			return
		}

		msg := &Message{Payload: decoded, Encoding: encoding}

		closeConn := s.dispatch(client, msg)
		if closeConn {
			return
		}
	}
}

// writeMuFor picks the write mutex to guard an error reply with: the
// client's own (once it exists), or a connection-local one for errors that
// occur before any message has been decoded.
func writeMuFor(client *Client, preMu *sync.Mutex) *sync.Mutex {
	if client != nil {
		return &client.sendMu
	}
	return preMu
}

// handleFrameError maps a Framer/Codec-level error to the reply and
// closure behavior in spec.md §7.
func (s *Server) handleFrameError(nc net.Conn, mu *sync.Mutex, client *Client, encoding Encoding, err error) {
	enc := s.cfg.DefaultEncoding
	if client != nil {
		enc = client.encoding
	} else if encoding == EncodingText || encoding == EncodingCompact {
		enc = encoding
	}

	switch {
	case errors.Is(err, ErrTimedOut):
		// The expired connection deadline also covers writes; give the
		// reply a short grace period of its own so it can be delivered.
		_ = nc.SetWriteDeadline(time.Now().Add(time.Second))
		s.replyError(nc, mu, enc, codeTimedOut)
	case errors.Is(err, ErrInvalidHeader):
		s.replyError(nc, mu, enc, codeInvalidHeader)
	case errors.Is(err, ErrMalformedRequest):
		s.replyError(nc, mu, enc, codeMalformed)
	default:
		// Transport errors (peer closed/reset/busy): close silently
		// (spec.md §7).
	}
}
