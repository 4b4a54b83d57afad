package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/common"
)

// Engine.IO packet types
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
)

// Socket.IO packet types carried inside an Engine.IO message
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
)

var errSocketClosed = errors.New("socket closed")

// socket is a minimal Socket.IO v4 client over the websocket transport.
// Only emit-with-ack is supported; pushed events are logged and dropped.
type socket struct {
	conn   *websocket.Conn
	logger arbor.ILogger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int
	pending map[int]chan json.RawMessage
	err     error
	done    chan struct{}
}

// dialSocket opens the websocket, completes the Engine.IO and Socket.IO
// handshakes and starts the read loop
func dialSocket(ctx context.Context, target string, header http.Header, logger arbor.ILogger) (*socket, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 30 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("socket dial failed: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	frame, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if len(frame) == 0 || frame[0] != eioOpen {
		conn.Close()
		return nil, fmt.Errorf("unexpected handshake frame %q", truncate(frame))
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte{eioMessage, sioConnect}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("socket connect failed: %w", err)
	}

	for {
		frame, err := readFrame(conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if len(frame) == 1 && frame[0] == eioPing {
			if err := conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				conn.Close()
				return nil, err
			}
			continue
		}
		if len(frame) >= 2 && frame[0] == eioMessage && frame[1] == sioConnect {
			break
		}
		if len(frame) >= 2 && frame[0] == eioMessage && frame[1] == sioConnectError {
			conn.Close()
			return nil, fmt.Errorf("socket connect rejected: %s", truncate(frame[2:]))
		}
	}

	_ = conn.SetReadDeadline(time.Time{})

	s := &socket{
		conn:    conn,
		logger:  logger,
		pending: make(map[int]chan json.RawMessage),
		done:    make(chan struct{}),
	}
	common.SafeGo(logger, "backend-socket-reader", s.readLoop)
	return s, nil
}

func readFrame(conn *websocket.Conn) (string, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("socket read failed: %w", err)
	}
	return string(data), nil
}

func (s *socket) write(frame string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (s *socket) readLoop() {
	for {
		frame, err := readFrame(s.conn)
		if err != nil {
			s.fail(err)
			return
		}
		if frame == "" {
			continue
		}

		switch frame[0] {
		case eioPing:
			if err := s.write(string(eioPong)); err != nil {
				s.fail(err)
				return
			}
		case eioClose:
			s.fail(errSocketClosed)
			return
		case eioMessage:
			s.dispatch(frame[1:])
		}
	}
}

// dispatch handles one Socket.IO packet
func (s *socket) dispatch(packet string) {
	if packet == "" {
		return
	}

	switch packet[0] {
	case sioAck:
		id, body := splitAckID(packet[1:])
		if id < 0 {
			return
		}
		var args []json.RawMessage
		if err := json.Unmarshal([]byte(body), &args); err != nil || len(args) == 0 {
			s.logger.Warn().Int("ack_id", id).Msg("Undecodable socket acknowledgement")
			args = []json.RawMessage{json.RawMessage("null")}
		}

		s.mu.Lock()
		ch, ok := s.pending[id]
		delete(s.pending, id)
		s.mu.Unlock()
		if ok {
			ch <- args[0]
		}
	case sioEvent:
		s.logger.Trace().Str("event", truncate(packet[1:])).Msg("Socket event")
	case sioDisconnect:
		s.fail(errSocketClosed)
	}
}

// fail records the first error and releases every waiter
func (s *socket) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return
	}
	s.err = err
	close(s.done)
	s.pending = make(map[int]chan json.RawMessage)
}

// ask emits event with args and waits for the acknowledgement
func (s *socket) ask(ctx context.Context, event string, args ...interface{}) (json.RawMessage, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return nil, err
	}
	id := s.nextID
	s.nextID++
	ch := make(chan json.RawMessage, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	frame, err := encodeEvent(id, event, args...)
	if err != nil {
		return nil, err
	}
	if err := s.write(frame); err != nil {
		s.fail(err)
		return nil, fmt.Errorf("socket write failed: %w", err)
	}

	select {
	case payload := <-ch:
		return payload, nil
	case <-s.done:
		s.mu.Lock()
		err := s.err
		s.mu.Unlock()
		return nil, err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("no answer: %w", ctx.Err())
	}
}

func (s *socket) close() error {
	s.fail(errSocketClosed)
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.TextMessage, []byte{eioMessage, sioDisconnect})
	s.writeMu.Unlock()
	return s.conn.Close()
}

// encodeEvent renders 42<id>["event", args...]
func encodeEvent(id int, event string, args ...interface{}) (string, error) {
	items := append([]interface{}{event}, args...)
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", event, err)
	}
	return string([]byte{eioMessage, sioEvent}) + strconv.Itoa(id) + string(data), nil
}

// splitAckID separates the numeric ack id from the JSON body; -1 when absent
func splitAckID(s string) (int, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return -1, s
	}
	id, err := strconv.Atoi(s[:i])
	if err != nil {
		return -1, s
	}
	return id, s[i:]
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
