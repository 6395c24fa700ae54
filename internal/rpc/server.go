// Package rpc implements the local agent endpoint: line-oriented JSON-RPC
// 2.0 over a loopback TCP stream. One request per line, one response per
// line, connections reusable. The envelope's signature field is present but
// ignored for local requests.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ssd-technologies/openswarm/internal/protocol"
	"github.com/ssd-technologies/openswarm/internal/ratelimit"
	"github.com/ssd-technologies/openswarm/internal/swarm"
)

// maxLineBytes bounds a single request line.
const maxLineBytes = 10 << 20 // 10 MB

// Server serves the facade operations to local agents.
type Server struct {
	node     *swarm.Node
	log      *zap.Logger
	limiter  *ratelimit.Keyed
	listener net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// NewServer creates a server over the node.
func NewServer(node *swarm.Node, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		node:    node,
		log:     log,
		limiter: ratelimit.NewKeyed(300, time.Minute),
		conns:   make(map[net.Conn]struct{}),
	}
}

// Listen binds the endpoint and serves until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind rpc endpoint: %w", err)
	}
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
		s.mu.Lock()
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
	}()

	go s.acceptLoop(ctx)
	s.log.Info("rpc endpoint listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	remote := conn.RemoteAddr().String()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var resp *protocol.Response
		if !s.limiter.Allow(remote) {
			resp = protocol.ErrorResponse("", protocol.NewError(protocol.KindInvalidRequest, "rate limit exceeded"))
		} else {
			resp = s.handleLine(line)
		}

		out, err := json.Marshal(resp)
		if err != nil {
			s.log.Warn("marshal response", zap.Error(err))
			return
		}
		out = append(out, '\n')
		if _, err := writer.Write(out); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

// handleLine parses one request line and dispatches it.
func (s *Server) handleLine(line []byte) *protocol.Response {
	var req protocol.Envelope
	if err := json.Unmarshal(line, &req); err != nil {
		return protocol.ErrorResponse("", protocol.NewError(protocol.KindParse, "invalid json: %v", err))
	}
	if req.JSONRPC != protocol.JSONRPCVersion {
		return protocol.ErrorResponse(req.ID, protocol.NewError(protocol.KindInvalidRequest, "jsonrpc must be %q", protocol.JSONRPCVersion))
	}

	result, err := s.dispatch(&req)
	if err != nil {
		return protocol.ErrorResponse(req.ID, err)
	}
	resp, err := protocol.SuccessResponse(req.ID, result)
	if err != nil {
		return protocol.ErrorResponse(req.ID, err)
	}
	return resp
}

// dispatch maps a method to its facade operation. The signature field is
// ignored: local requests are trusted by transport locality.
func (s *Server) dispatch(req *protocol.Envelope) (interface{}, error) {
	switch req.Method {
	case "swarm.get_status":
		return s.node.GetStatus(), nil

	case "swarm.get_network_stats":
		return s.node.GetNetworkStats(), nil

	case "swarm.get_hierarchy":
		return s.node.GetHierarchy(), nil

	case "swarm.receive_task":
		return s.node.ReceiveTask(), nil

	case "swarm.get_task":
		var params struct {
			TaskID string `json:"task_id"`
		}
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
		if params.TaskID == "" {
			return nil, protocol.NewError(protocol.KindInvalidParams, "task_id required")
		}
		return s.node.GetTask(params.TaskID)

	case "swarm.inject_task":
		var params struct {
			Description string `json:"description"`
		}
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
		if params.Description == "" {
			return nil, protocol.NewError(protocol.KindInvalidParams, "description required")
		}
		return s.node.InjectTask(params.Description)

	case "swarm.propose_plan":
		var plan protocol.Plan
		if err := req.DecodeParams(&plan); err != nil {
			return nil, err
		}
		if plan.TaskID == "" {
			return nil, protocol.NewError(protocol.KindInvalidParams, "task_id required")
		}
		return s.node.ProposePlan(&plan)

	case "swarm.submit_result":
		var params struct {
			protocol.ResultSubmissionParams
			Content []byte `json:"content,omitempty"`
		}
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
		return s.node.SubmitResult(&params.ResultSubmissionParams, params.Content)

	case "swarm.connect":
		var params struct {
			Addr string `json:"addr"`
		}
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
		if params.Addr == "" {
			return nil, protocol.NewError(protocol.KindInvalidParams, "addr required")
		}
		if err := s.node.Connect(params.Addr); err != nil {
			return nil, err
		}
		return map[string]bool{"connected": true}, nil

	case "swarm.list_swarms":
		return map[string]interface{}{"swarms": s.node.ListSwarms()}, nil

	case "swarm.create_swarm":
		var params struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Secret      string `json:"secret"`
		}
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
		info, token, err := s.node.CreateSwarm(params.Name, params.Description, params.Secret)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"swarm": info, "token": token}, nil

	case "swarm.join_swarm":
		var params struct {
			SwarmID string `json:"swarm_id"`
			Token   string `json:"token"`
		}
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
		if params.SwarmID == "" {
			return nil, protocol.NewError(protocol.KindInvalidParams, "swarm_id required")
		}
		info, err := s.node.JoinSwarm(params.SwarmID, params.Token)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"swarm": info, "joined": true}, nil

	default:
		return nil, protocol.NewError(protocol.KindMethodNotFound, "unknown method %q", req.Method)
	}
}
