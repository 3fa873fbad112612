// Package api serves the DSC engine over HTTP: JSON reads of account
// state and a WebSocket stream of committed engine events.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/dsc/pkg/dsc"
)

// Config holds API server configuration.
type Config struct {
	Port         int
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingPeriod   time.Duration
}

// DefaultConfig returns the default API configuration.
func DefaultConfig() Config {
	return Config{
		Port:         8081,
		WriteTimeout: 10 * time.Second,
		PongTimeout:  60 * time.Second,
		PingPeriod:   54 * time.Second, // Must be less than PongTimeout
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins in development
		return true
	},
}

// Server exposes engine reads and an event stream.
type Server struct {
	engine *dsc.Engine
	events <-chan dsc.Event
	logger log.Logger
	config Config

	clients    map[*client]bool
	clientsMu  sync.Mutex
	register   chan *client
	unregister chan *client

	messagesOut uint64
	clientCount int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type client struct {
	conn   *websocket.Conn
	server *Server
	send   chan []byte
}

// NewServer builds an API server over engine. events should be a
// subscription on the engine's event bus.
func NewServer(engine *dsc.Engine, events <-chan dsc.Event, logger log.Logger, config Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		engine:     engine,
		events:     events,
		logger:     logger,
		config:     config,
		clients:    make(map[*client]bool),
		register:   make(chan *client, 100),
		unregister: make(chan *client, 100),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start runs the hub and serves HTTP until Stop is called.
func (s *Server) Start() error {
	s.wg.Add(1)
	go s.runHub()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/account", s.handleAccount)
	mux.HandleFunc("/assets", s.handleAssets)
	mux.HandleFunc("/health", s.handleHealth)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		<-s.ctx.Done()
		server.Shutdown(context.Background())
	}()

	s.logger.Info("API server starting", "port", s.config.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop shuts the server down and disconnects all clients.
func (s *Server) Stop() {
	s.logger.Info("Stopping API server")
	s.cancel()
	s.wg.Wait()
}

func (s *Server) runHub() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			s.clientsMu.Lock()
			for c := range s.clients {
				close(c.send)
			}
			s.clients = make(map[*client]bool)
			s.clientsMu.Unlock()
			return

		case c := <-s.register:
			s.clientsMu.Lock()
			s.clients[c] = true
			s.clientsMu.Unlock()
			atomic.AddInt32(&s.clientCount, 1)

		case c := <-s.unregister:
			s.clientsMu.Lock()
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.send)
				atomic.AddInt32(&s.clientCount, -1)
			}
			s.clientsMu.Unlock()

		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.broadcastEvent(ev)
		}
	}
}

func (s *Server) broadcastEvent(ev dsc.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("Failed to marshal event", "error", err)
		return
	}

	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- payload:
			atomic.AddUint64(&s.messagesOut, 1)
		default:
			// Client too slow, drop the event
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		server: s,
		send:   make(chan []byte, 256),
	}
	s.register <- c

	go c.writePump()
	go c.readPump()
}

// AccountResponse is the JSON shape of an account read. Amounts are
// 18-decimal strings.
type AccountResponse struct {
	Account            string            `json:"account"`
	DebtMinted         decimal.Decimal   `json:"debtMinted"`
	CollateralValueUSD decimal.Decimal   `json:"collateralValueUsd"`
	HealthFactor       decimal.Decimal   `json:"healthFactor"`
	Collateral         map[string]string `json:"collateral"`
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account := dsc.Account(r.URL.Query().Get("id"))
	if account == "" {
		http.Error(w, "missing id parameter", http.StatusBadRequest)
		return
	}

	debt, value, err := s.engine.GetAccountInformation(account)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	health, err := s.engine.HealthFactor(account)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	resp := AccountResponse{
		Account:            string(account),
		DebtMinted:         decimal.NewFromBigInt(debt.ToBig(), -18),
		CollateralValueUSD: decimal.NewFromBigInt(value.ToBig(), -18),
		HealthFactor:       decimal.NewFromBigInt(health.ToBig(), -18),
		Collateral:         make(map[string]string),
	}
	for _, assetID := range s.engine.GetCollateralTokens() {
		balance := s.engine.GetCollateralBalanceOfUser(account, assetID)
		resp.Collateral[assetID] = decimal.NewFromBigInt(balance.ToBig(), -18).String()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"collateralTokens": s.engine.GetCollateralTokens(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "healthy",
		"clients":  atomic.LoadInt32(&s.clientCount),
		"messages": atomic.LoadUint64(&s.messagesOut),
	})
}

func (c *client) readPump() {
	defer func() {
		c.server.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(c.server.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.server.config.PongTimeout))
		return nil
	})

	// The stream is one-way; reads only service pings and close frames
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.server.logger.Debug("WebSocket read error", "error", err)
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.server.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
