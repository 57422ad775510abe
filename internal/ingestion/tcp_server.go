package ingestion

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/your-username/agent-observability/backend/internal/models"
)

const tcpIdleTimeout = 5 * time.Minute

// TCPServer accepts newline-delimited JSON events. Every line is answered
// with one JSON acknowledgement line.
type TCPServer struct {
	addr      string
	processor *EventProcessor
	listener  net.Listener
	stopChan  chan struct{}
	mu        sync.Mutex
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup
}

type tcpAck struct {
	Success bool   `json:"success"`
	ID      int64  `json:"id,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewTCPServer creates a new TCP ingestion server
func NewTCPServer(addr string, processor *EventProcessor) *TCPServer {
	return &TCPServer{
		addr:      addr,
		processor: processor,
		stopChan:  make(chan struct{}),
		conns:     make(map[net.Conn]struct{}),
	}
}

// Start starts the TCP server
func (s *TCPServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.listener = listener
	log.Info().Str("addr", listener.Addr().String()).Msg("TCP event ingestion server started")

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Addr returns the bound listener address.
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TCPServer) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Error().Err(err).Msg("Failed to accept TCP connection")
			continue
		}

		s.mu.Lock()
		select {
		case <-s.stopChan:
			s.mu.Unlock()
			conn.Close()
			return
		default:
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	clientAddr := conn.RemoteAddr().String()
	log.Debug().Str("client", clientAddr).Msg("TCP client connected")

	conn.SetReadDeadline(time.Now().Add(tcpIdleTimeout))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxEventBodyBytes)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		conn.SetReadDeadline(time.Now().Add(tcpIdleTimeout))

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if err := encoder.Encode(s.ingestLine(line)); err != nil {
			log.Debug().Err(err).Str("client", clientAddr).Msg("Failed to write TCP acknowledgement")
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-s.stopChan:
		default:
			log.Warn().Err(err).Str("client", clientAddr).Msg("Error reading from TCP client")
		}
	}
	log.Debug().Str("client", clientAddr).Msg("TCP client disconnected")
}

func (s *TCPServer) ingestLine(line []byte) tcpAck {
	var req models.EventRequest
	if err := json.Unmarshal(line, &req); err != nil {
		s.processor.metrics.RecordRejected("malformed")
		return tcpAck{Error: "invalid JSON"}
	}

	e, err := s.processor.Ingest(context.Background(), &req)
	if err != nil {
		return tcpAck{Error: messageFor(err)}
	}
	return tcpAck{Success: true, ID: e.ID, TraceID: e.TraceID}
}

// Stop closes the listener and every open connection, then waits for handlers.
func (s *TCPServer) Stop() error {
	close(s.stopChan)

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}
