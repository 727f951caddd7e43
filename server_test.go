package apyserver

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// startTestServer builds and serves a Server on an ephemeral loopback port,
// returning the dialable address and a cleanup func.
func startTestServer(t *testing.T, cfg Config, configure func(*Server)) string {
	t.Helper()
	cfg.Port = 0
	cfg.Timeout = 2 * time.Second

	s := New(cfg)
	if configure != nil {
		configure(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- s.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.listener == nil {
		if time.Now().After(deadline) {
			t.Fatal("server never started listening")
		}
		time.Sleep(time.Millisecond)
	}
	addr := s.listener.Addr().String()

	t.Cleanup(func() {
		cancel()
		<-serveErr
	})
	return addr
}

func sendFrame(t *testing.T, conn net.Conn, payload []byte, encoding Encoding, h int, bigEndian bool) {
	t.Helper()
	require.NoError(t, writeOneFrame(conn, payload, encoding, h, bigEndian))
}

func readFrame(t *testing.T, conn net.Conn, h int, bigEndian bool) ([]byte, Encoding) {
	t.Helper()
	payload, enc, _, err := readOneFrame(conn, nil, h, bigEndian, 1024)
	require.NoError(t, err)
	return payload, enc
}

func TestIntegration_TextEcho(t *testing.T) {
	addr := startTestServer(t, DefaultConfig(), func(s *Server) {
		s.AddHandler(func(c *Client, m *Message) error {
			return c.Send(m.Payload, false)
		})
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	body, _ := json.Marshal(Payload{"req": "ping"})
	sendFrame(t, conn, body, EncodingText, 4, true)

	got, enc := readFrame(t, conn, 4, true)
	require.Equal(t, EncodingText, enc)

	var decoded Payload
	require.NoError(t, json.Unmarshal(got, &decoded))
	require.Equal(t, "ping", decoded["req"])
}

func TestIntegration_CompactEcho(t *testing.T) {
	addr := startTestServer(t, DefaultConfig(), func(s *Server) {
		s.AddHandler(func(c *Client, m *Message) error {
			return c.Send(m.Payload, false)
		})
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	body, err := compactCodec{}.Encode(Payload{"req": "ping"})
	require.NoError(t, err)
	sendFrame(t, conn, body, EncodingCompact, 4, true)

	got, enc := readFrame(t, conn, 4, true)
	require.Equal(t, EncodingCompact, enc)

	decoded, err := compactCodec{}.Decode(got)
	require.NoError(t, err)
	require.Equal(t, "ping", decoded["req"])
}

// TestIntegration_FragmentedHeaderRebuild trickles the frame in one byte at
// a time over a real socket and confirms the server still reassembles and
// answers it.
func TestIntegration_FragmentedHeaderRebuild(t *testing.T) {
	addr := startTestServer(t, DefaultConfig(), func(s *Server) {
		s.AddHandler(func(c *Client, m *Message) error {
			return c.Send(m.Payload, false)
		})
	})

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	body, _ := json.Marshal(Payload{"req": "slow"})
	frame := make([]byte, 0, 4+2+len(body))
	frame = append(frame, writeUintHeader(uint64(len(body)+2), 4, true)...)
	frame = append(frame, protocolVersion, byte(EncodingText))
	frame = append(frame, body...)

	for _, b := range frame {
		_, werr := conn.Write([]byte{b})
		require.NoError(t, werr)
		time.Sleep(time.Millisecond)
	}

	got, _ := readFrame(t, conn, 4, true)
	var decoded Payload
	require.NoError(t, json.Unmarshal(got, &decoded))
	require.Equal(t, "slow", decoded["req"])
}

func TestIntegration_BadEncodingByteClosesWithHeaderInvalid(t *testing.T) {
	addr := startTestServer(t, DefaultConfig(), nil)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	body := []byte(`{}`)
	frame := make([]byte, 0, 4+2+len(body))
	frame = append(frame, writeUintHeader(uint64(len(body)+2), 4, true)...)
	frame = append(frame, protocolVersion, 9) // invalid content_encoding
	frame = append(frame, body...)
	_, err = conn.Write(frame)
	require.NoError(t, err)

	got, _, _, err := readOneFrame(conn, nil, 4, true, 1024)
	require.NoError(t, err)

	var reply errorReply
	require.NoError(t, json.Unmarshal(got, &reply))
	require.Equal(t, codeInvalidHeader, reply.Error)
}

func TestIntegration_TruncatedFrameClosesWithRequestMalformed(t *testing.T) {
	addr := startTestServer(t, DefaultConfig(), nil)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	// content_length = 1 is below the minimum 2-byte (version+encoding) frame.
	_, err = conn.Write(writeUintHeader(1, 4, true))
	require.NoError(t, err)

	got, _, _, err := readOneFrame(conn, nil, 4, true, 1024)
	require.NoError(t, err)

	var reply errorReply
	require.NoError(t, json.Unmarshal(got, &reply))
	require.Equal(t, codeMalformed, reply.Error)
}

func TestIntegration_SessionLimitReached(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionLimit = 1
	addr := startTestServer(t, cfg, func(s *Server) {
		s.AddHandler(func(c *Client, m *Message) error {
			return c.Send(m.Payload, false)
		})
	})

	// conn1's session is opened on its first message and stays open for the
	// lifetime of the connection (not just for the duration of dispatch), so
	// it must still be held while conn2 connects below.
	conn1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn1.Close()

	body, _ := json.Marshal(Payload{"req": "hello"})
	sendFrame(t, conn1, body, EncodingText, 4, true)
	_, enc := readFrame(t, conn1, 4, true)
	require.Equal(t, EncodingText, enc)

	conn2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn2.Close()

	sendFrame(t, conn2, body, EncodingText, 4, true)
	got, _ := readFrame(t, conn2, 4, true)

	var reply errorReply
	require.NoError(t, json.Unmarshal(got, &reply))
	require.Equal(t, codeSessionLimit, reply.Error)
}
