// Package rpc provides a lightweight JSON-over-TCP RPC framework used for
// peer-to-peer posting transfer.
//
// Protocol: newline-delimited JSON over a persistent TCP connection. Each
// request may carry a timeout which bounds the handler's context.
//
// Example server:
//
//	s := rpc.NewServer()
//	s.Register(proto.MethodPostings, func(ctx context.Context, req json.RawMessage) (any, error) {
//	    var r proto.PostingsRequest
//	    json.Unmarshal(req, &r)
//	    return &proto.PostingsResponse{...}, nil
//	})
//	s.Serve(":9400")
//
// Example client:
//
//	c, _ := rpc.Dial(ctx, "peer:9400")
//	var resp proto.PostingsResponse
//	c.Call(ctx, proto.MethodPostings, &proto.PostingsRequest{Terms: terms}, &resp)
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// HandlerFunc processes an RPC request and returns a response or error.
type HandlerFunc func(ctx context.Context, req json.RawMessage) (any, error)

// Request is the wire format for an RPC request.
type Request struct {
	Method    string          `json:"method"`
	ID        string          `json:"id"`
	Params    json.RawMessage `json:"params"`
	TimeoutMs int64           `json:"timeout_ms,omitempty"`
}

// Response is the wire format for an RPC response.
type Response struct {
	ID    string `json:"id"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Server is a lightweight JSON-over-TCP RPC server.
type Server struct {
	handlers map[string]HandlerFunc
	listener net.Listener
	logger   *slog.Logger
	mu       sync.RWMutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// NewServer creates a new RPC server.
func NewServer() *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[net.Conn]struct{}),
		logger:   slog.Default().With("component", "rpc-server"),
		done:     make(chan struct{}),
	}
}

// Register adds a handler for the given RPC method name.
// Method names follow the "Service.Method" convention.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
	s.logger.Debug("method registered", "method", method)
}

// Serve starts accepting TCP connections on the given address.
// It blocks until Stop is called.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.ServeListener(ln)
}

// ServeListener accepts connections from ln until Stop is called.
func (s *Server) ServeListener(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				s.logger.Error("accept error", "error", err)
				continue
			}
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return // connection closed or read error
		}

		s.mu.RLock()
		handler, exists := s.handlers[req.Method]
		s.mu.RUnlock()

		resp := Response{ID: req.ID}

		if !exists {
			resp.Error = fmt.Sprintf("unknown method: %s", req.Method)
		} else {
			resp.Data, resp.Error = s.invoke(handler, req)
		}

		if err := encoder.Encode(resp); err != nil {
			s.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) invoke(handler HandlerFunc, req Request) (any, string) {
	ctx := context.Background()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	data, err := handler(ctx, req.Params)
	if err != nil {
		return nil, err.Error()
	}
	return data, ""
}

// Addr returns the listen address once serving, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// MethodCount returns the number of registered methods.
func (s *Server) MethodCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handlers)
}

// Stop closes the listener and every open connection, then waits for the
// connection goroutines to exit.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		for conn := range s.conns {
			conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Info("rpc server stopped")
	})
}
