// Package api exposes the trading core over REST and WebSocket. The server
// implements engine.Notifier: every loop cycle is pushed to connected clients
// as a market_update message.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/qorca/qorca/pkg/book"
	"github.com/qorca/qorca/pkg/engine"
)

type Server struct {
	engine *engine.Engine
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

func NewServer(eng *engine.Engine, log *zap.SugaredLogger) *Server {
	s := &Server{
		engine: eng,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/order", s.handleSubmitOrder).Methods("POST")
	s.router.HandleFunc("/book", s.handleGetBook).Methods("GET")
	s.router.HandleFunc("/book/summary", s.handleGetBookSummary).Methods("GET")
	s.router.HandleFunc("/chain", s.handleGetChainSummary).Methods("GET")
	s.router.HandleFunc("/chain/full", s.handleGetFullChain).Methods("GET")
	s.router.HandleFunc("/wallet", s.handleRegisterWallet).Methods("POST")
	s.router.HandleFunc("/quantum/channel", s.handleEstablishChannel).Methods("POST")
	s.router.HandleFunc("/quantum/participants", s.handleGetParticipants).Methods("GET")
	s.router.HandleFunc("/stats", s.handleGetStats).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the CORS-wrapped root handler.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})
	return c.Handler(s.router)
}

// Start runs the hub and blocks serving HTTP.
func (s *Server) Start(addr string) error {
	go s.hub.Run()
	s.log.Infow("api_listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// PublishCycle implements engine.Notifier.
func (s *Server) PublishCycle(u engine.CycleUpdate) {
	s.hub.Broadcast(WSMessage{Type: "market_update", Data: u})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Timestamp == 0 {
		req.Timestamp = time.Now().UnixMilli()
	}
	if err := s.engine.SubmitOrder(req.Timestamp, req.Price, req.Quantity, book.Side(req.Side), req.Participant); err != nil {
		respondError(w, http.StatusBadRequest, "order rejected", err.Error())
		return
	}
	respondJSON(w, SubmitOrderResponse{Status: "queued", Timestamp: req.Timestamp})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	bids, asks := s.engine.BookSnapshot(50)
	respondJSON(w, map[string]any{"bids": bids, "asks": asks})
}

func (s *Server) handleGetBookSummary(w http.ResponseWriter, r *http.Request) {
	bids, asks := s.engine.BookSnapshot(1)
	sum := BookSummary{}
	if len(bids) > 0 {
		sum.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		sum.BestAsk = asks[0].Price
	}
	if len(bids) > 0 && len(asks) > 0 && sum.BestBid > 0 {
		sum.SpreadRatio = (sum.BestAsk - sum.BestBid) / sum.BestBid
		sum.HasSpread = true
	}
	sum.ReferencePrice, sum.HasReference = s.engine.ReferencePrice()
	allBids, allAsks := s.engine.BookSnapshot(1 << 30)
	sum.BidLevels = len(allBids)
	sum.AskLevels = len(allAsks)
	respondJSON(w, sum)
}

func (s *Server) handleGetChainSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.engine.ChainSummary())
}

func (s *Server) handleGetFullChain(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.engine.Chain().Blocks())
}

func (s *Server) handleRegisterWallet(w http.ResponseWriter, r *http.Request) {
	var req WalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Label == "" {
		respondError(w, http.StatusBadRequest, "missing label", "")
		return
	}
	if s.engine.Chain().IsParticipant(req.Label) {
		respondError(w, http.StatusConflict, "label already registered", req.Label)
		return
	}
	p, err := s.engine.Chain().RegisterParticipant(req.Label)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "registration failed", err.Error())
		return
	}
	s.log.Infow("wallet_registered", "label", p.Label, "address", p.Address)
	respondJSON(w, WalletResponse{Label: p.Label, Address: p.Address})
}

func (s *Server) handleEstablishChannel(w http.ResponseWriter, r *http.Request) {
	var req ChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	ch, err := s.engine.Chain().EstablishChannel(req.ParticipantA, req.ParticipantB)
	if err != nil {
		respondError(w, http.StatusBadRequest, "channel establishment failed", err.Error())
		return
	}
	respondJSON(w, ChannelResponse{
		ChannelID:    ch.ID,
		Participants: ch.Participants,
		CreatedAt:    ch.CreatedAt,
	})
}

func (s *Server) handleGetParticipants(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{"participants": s.engine.Chain().ParticipantLabels()})
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	ref, ok := s.engine.ReferencePrice()
	respondJSON(w, StatsResponse{
		Chain:          s.engine.ChainSummary(),
		RecentTrades:   s.engine.RecentTrades(),
		ReferencePrice: ref,
		HasReference:   ok,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: detail})
}
