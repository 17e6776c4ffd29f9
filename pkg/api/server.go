package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/qzavyer/HyperNodeServer/pkg/cleanup"
	"github.com/qzavyer/HyperNodeServer/pkg/config"
	"github.com/qzavyer/HyperNodeServer/pkg/monitor"
	"github.com/qzavyer/HyperNodeServer/pkg/order"
	"github.com/qzavyer/HyperNodeServer/pkg/watcher"
)

// Server exposes the order table over REST and pushes updates over the
// websocket hub. The ingestion core never depends on it; it reads the same
// shared state the merge sink writes.
type Server struct {
	store     *order.Store
	cfgMgr    *config.Manager
	tail      *watcher.TailLoop
	nodeMon   *monitor.NodeMonitor
	cleaner   *cleanup.Cleaner
	router    *mux.Router
	hub       *Hub
	log       *zap.SugaredLogger
	maxOrders int
}

func NewServer(
	store *order.Store,
	cfgMgr *config.Manager,
	tail *watcher.TailLoop,
	nodeMon *monitor.NodeMonitor,
	cleaner *cleanup.Cleaner,
	hub *Hub,
	maxOrders int,
	log *zap.SugaredLogger,
) *Server {
	s := &Server{
		store:     store,
		cfgMgr:    cfgMgr,
		tail:      tail,
		nodeMon:   nodeMon,
		cleaner:   cleaner,
		router:    mux.NewRouter(),
		hub:       hub,
		log:       log,
		maxOrders: maxOrders,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/stats/summary", s.handleGetSummary).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config", s.handlePutConfig).Methods("PUT")

	api.HandleFunc("/cleanup", s.handleCleanup).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start starts the API server
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.router)

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, handler)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := order.Filter{
		Symbol: q.Get("symbol"),
		Owner:  q.Get("owner"),
		Limit:  s.maxOrders,
	}
	if v := q.Get("side"); v != "" {
		side, err := order.ParseSide(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid side", err.Error())
			return
		}
		f.Side = side
	}
	if v := q.Get("status"); v != "" {
		status, err := order.ParseStatus(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid status", err.Error())
			return
		}
		f.Status = status
	}
	if v := q.Get("minLiquidity"); v != "" {
		ml, err := strconv.ParseFloat(v, 64)
		if err != nil || ml < 0 {
			respondError(w, http.StatusBadRequest, "invalid minLiquidity", "")
			return
		}
		f.MinLiquidity = ml
	}

	orders := s.store.List(f)
	if orders == nil {
		orders = []order.Order{}
	}
	respondJSON(w, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	o, ok := s.store.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "order not found", "")
		return
	}
	respondJSON(w, o)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	counts := s.store.CountByStatus()
	statusCounts := make(map[string]int, len(counts))
	for st, n := range counts {
		statusCounts[string(st)] = n
	}
	respondJSON(w, OrdersSummary{
		TotalOrders:     s.store.Count(),
		StatusCounts:    statusCounts,
		OpenOrdersCount: counts[order.StatusOpen],
	})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, ConfigResponse{Symbols: s.cfgMgr.Symbols()})
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid config", err.Error())
		return
	}
	for _, sf := range req.Symbols {
		if sf.Symbol == "" {
			respondError(w, http.StatusBadRequest, "invalid config", "symbol must not be empty")
			return
		}
		if sf.MinLiquidity < 0 || sf.MaxPriceDeviation < 0 || sf.RefPrice < 0 {
			respondError(w, http.StatusBadRequest, "invalid config", "negative filter value")
			return
		}
	}
	if err := s.cfgMgr.Save(req.Symbols); err != nil {
		respondError(w, http.StatusInternalServerError, "save failed", err.Error())
		return
	}
	s.log.Infow("config_updated", "symbols", len(req.Symbols))
	respondJSON(w, ConfigResponse{Symbols: s.cfgMgr.Symbols()})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if s.cleaner == nil {
		respondError(w, http.StatusServiceUnavailable, "cleanup disabled", "")
		return
	}
	dirs, files := s.cleaner.Cleanup()
	respondJSON(w, CleanupResponse{RemovedDirs: dirs, RemovedFiles: files})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	node := s.nodeMon.Check()
	wst := s.tail.Status()

	status := "healthy"
	if !wst.Running || node.Status != "healthy" {
		status = "degraded"
	}
	respondJSON(w, HealthResponse{
		Status:     status,
		OrderCount: s.store.Count(),
		Watcher:    wst,
		Node:       node,
	})
}

// ==============================
// Helpers
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}

func respondError(w http.ResponseWriter, code int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message, Detail: detail})
}
