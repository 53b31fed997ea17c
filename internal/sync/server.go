package sync

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"mangasync/internal/auth"
)

const subscribeTimeout = 10 * time.Second

// Authorizer turns a subscribe message into the user whose changes the
// connection receives.
type Authorizer func(msg SubscribeMessage) (string, error)

// TrustUserID accepts the user id the client names.
func TrustUserID(msg SubscribeMessage) (string, error) {
	id := strings.TrimSpace(msg.UserID)
	if id == "" {
		return "", errors.New("user_id required")
	}
	return id, nil
}

// TokenAuthorizer takes the user from a valid session token. A message
// without a token falls back to its user id only when trustUserID is set.
func TokenAuthorizer(tokens auth.TokenService, trustUserID bool) Authorizer {
	return func(msg SubscribeMessage) (string, error) {
		if raw := strings.TrimSpace(msg.Token); raw != "" {
			claims, err := tokens.Parse(raw)
			if err != nil {
				return "", err
			}
			return claims.UserID, nil
		}
		if trustUserID {
			return TrustUserID(msg)
		}
		return "", errors.New("token required")
	}
}

// Server streams change events as line-delimited JSON over TCP. A client
// subscribes by sending one subscribe line first.
type Server struct {
	Addr      string
	Hub       *Hub
	Authorize Authorizer

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
}

func NewServer(addr string, hub *Hub) *Server {
	return &Server{Addr: addr, Hub: hub, Authorize: TrustUserID, conns: make(map[net.Conn]struct{})}
}

func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	log.Printf("[tcp-sync] listening on %s", ln.Addr())
	return nil
}

// ListenAddr is the bound address once Listen succeeded.
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.Addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Serve returns nil after Close.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("tcp-sync: Serve called before Listen")
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return err
		}
		go s.handle(conn)
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for c := range s.conns {
		_ = c.Close()
	}
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) handle(conn net.Conn) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	sc := bufio.NewScanner(conn)
	_ = conn.SetReadDeadline(time.Now().Add(subscribeTimeout))
	if !sc.Scan() {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	var msg SubscribeMessage
	if err := json.Unmarshal(sc.Bytes(), &msg); err != nil || msg.Type != SubscribeMessageType {
		writeLine(conn, ControlMessage{Type: ErrorMessageType, Message: "first message must be a subscribe"})
		return
	}
	userID, err := s.Authorize(msg)
	if err != nil {
		writeLine(conn, ControlMessage{Type: ErrorMessageType, Message: "unauthorized"})
		return
	}

	sub := s.Hub.Subscribe(userID)
	defer sub.Close()
	s.Hub.track("tcp", 1)
	defer s.Hub.track("tcp", -1)
	log.Printf("[tcp-sync] client %s subscribed as %s", conn.RemoteAddr(), userID)

	if err := writeLine(conn, ControlMessage{Type: WelcomeMessageType, Transport: "tcp", UserID: userID}); err != nil {
		return
	}

	// the client sends nothing after subscribing; EOF means it left
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for sc.Scan() {
		}
	}()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeLine(conn, ev); err != nil {
				return
			}
		case <-gone:
			log.Printf("[tcp-sync] client disconnected: %s", conn.RemoteAddr())
			return
		}
	}
}

func writeLine(conn net.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode line: %w", err)
	}
	b = append(b, '\n')
	_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Write(b)
	return err
}
