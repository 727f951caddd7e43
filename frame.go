package apyserver

import (
	"errors"
	"io"
	"net"
	"os"
)

// protocolVersion is the single accepted wire protocol version
// (spec.md §3). Earlier revisions of the framed protocol accepted a legacy
// value of 11; SPEC_FULL.md §9 resolves that open question in favor of
// rejection.
const protocolVersion = 22

// readOneFrame implements the Framer reader contract (spec.md §4.2) against
// a live connection. leftover carries bytes already buffered from a prior
// call (pipelined data beyond a previous frame's boundary); rest carries
// the same forward for the next call.
//
// h is the configured header width in bytes, bigEndian the configured byte
// order, and bufSize the configured read-chunk size.
func readOneFrame(conn net.Conn, leftover []byte, h int, bigEndian bool, bufSize int) (payload []byte, encoding Encoding, rest []byte, err error) {
	buf := leftover

	// Idle + header completion: one bufSize read, then one byte at a time
	// until the length prefix is fully buffered (spec.md §4.2 step 1).
	if len(buf) < h {
		chunk := make([]byte, bufSize)
		n, rerr := conn.Read(chunk)
		if rerr != nil {
			return nil, 0, nil, mapReadErr(rerr)
		}
		if n == 0 {
			return nil, 0, nil, ErrTransport
		}
		buf = append(buf, chunk[:n]...)

		for len(buf) < h {
			b := make([]byte, 1)
			n, rerr := conn.Read(b)
			if rerr != nil {
				return nil, 0, nil, mapReadErr(rerr)
			}
			if n == 0 {
				return nil, 0, nil, ErrTransport
			}
			buf = append(buf, b[:n]...)
		}
	}

	contentLength := readUintHeader(buf[:h], bigEndian)
	if contentLength < 2 {
		return nil, 0, nil, ErrMalformedRequest
	}

	total := h + int(contentLength)

	// Complete the stream in bufSize chunks until the whole frame is
	// buffered (spec.md §4.2 step 3).
	for len(buf) < total {
		chunk := make([]byte, bufSize)
		n, rerr := conn.Read(chunk)
		if rerr != nil {
			return nil, 0, nil, mapReadErr(rerr)
		}
		if n == 0 {
			return nil, 0, nil, ErrTransport
		}
		buf = append(buf, chunk[:n]...)
	}

	gotVersion := buf[h]
	gotEncoding := buf[h+1]

	if gotVersion != protocolVersion {
		return nil, 0, nil, ErrInvalidHeader
	}
	if gotEncoding != byte(EncodingText) && gotEncoding != byte(EncodingCompact) {
		return nil, 0, nil, ErrInvalidHeader
	}

	payload = buf[h+2 : total]
	rest = append([]byte(nil), buf[total:]...)
	return payload, Encoding(gotEncoding), rest, nil
}

// writeOneFrame implements the Framer writer contract (spec.md §4.2):
// prepend the length-prefixed header and send the whole frame with a
// single Write call so concurrent senders on the same connection can't
// interleave bytes mid-frame (the caller must still serialize concurrent
// calls to this function per connection, see Client.sendMu).
func writeOneFrame(conn net.Conn, payload []byte, encoding Encoding, h int, bigEndian bool) error {
	header := writeUintHeader(uint64(len(payload)+2), h, bigEndian)

	frame := make([]byte, 0, h+2+len(payload))
	frame = append(frame, header...)
	frame = append(frame, protocolVersion, byte(encoding))
	frame = append(frame, payload...)

	if _, err := conn.Write(frame); err != nil {
		return errors.Join(ErrTransport, err)
	}
	return nil
}

// readUintHeader decodes an H-byte unsigned integer in the configured byte
// order. H is a server-wide configuration value, typically small (2-8), so
// no fixed-width binary.ByteOrder method applies uniformly.
func readUintHeader(buf []byte, bigEndian bool) uint64 {
	var v uint64
	if bigEndian {
		for _, b := range buf {
			v = v<<8 | uint64(b)
		}
		return v
	}
	for i := len(buf) - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v
}

// writeUintHeader encodes v as an H-byte unsigned integer in the configured
// byte order.
func writeUintHeader(v uint64, width int, bigEndian bool) []byte {
	out := make([]byte, width)
	if bigEndian {
		for i := width - 1; i >= 0; i-- {
			out[i] = byte(v)
			v >>= 8
		}
		return out
	}
	for i := 0; i < width; i++ {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

// mapReadErr translates a net.Conn.Read error into the taxonomy of
// spec.md §7: deadline expiry becomes ErrTimedOut, everything else
// (EOF, reset, closed) becomes ErrTransport.
func mapReadErr(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrTimedOut
	}
	if errors.Is(err, io.EOF) {
		return ErrTransport
	}
	return errors.Join(ErrTransport, err)
}
