package sinks

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tidelock/bittern/internal/event"
)

// Feed serves the live event stream over a websocket endpoint at
// /feed. Subscribers that cannot keep up are disconnected rather than
// allowed to back the stream up.
type Feed struct {
	addr   string
	logger *zap.Logger

	upgrader *websocket.Upgrader
	server   *http.Server

	mu      sync.Mutex
	clients map[*feedClient]bool
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

const feedClientBuffer = 64

// NewFeed creates the sink listening on addr.
func NewFeed(addr string, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		addr:   addr,
		logger: logger,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*feedClient]bool),
	}
}

func (s *Feed) Name() string { return "feed" }

// Handler returns the HTTP handler serving /feed.
func (s *Feed) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", s.handleFeed)
	return mux
}

func (s *Feed) Start() error {
	s.server = &http.Server{Addr: s.addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	// Surface an immediate bind failure to the caller.
	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func (s *Feed) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("feed upgrade failed", zap.Error(err))
		return
	}
	c := &feedClient{
		conn: conn,
		send: make(chan []byte, feedClientBuffer),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()

	go s.writeLoop(c)
	s.readLoop(c)
}

// readLoop exists to notice a closed connection; feed subscribers
// never send application data.
func (s *Feed) readLoop(c *feedClient) {
	defer s.drop(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Feed) writeLoop(c *feedClient) {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.drop(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// drop deregisters a subscriber. The send channel is never closed;
// the write loop exits through done so a concurrent broadcast cannot
// hit a closed channel.
func (s *Feed) drop(c *feedClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.once.Do(func() { close(c.done) })
}

func (s *Feed) Write(e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	clients := make([]*feedClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		case <-c.done:
		default:
			// subscriber fell behind
			s.drop(c)
		}
	}
	return nil
}

func (s *Feed) Stop() error {
	s.mu.Lock()
	clients := make([]*feedClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[*feedClient]bool)
	s.mu.Unlock()
	for _, c := range clients {
		c.once.Do(func() { close(c.done) })
	}
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
