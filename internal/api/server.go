// Package api exposes the relay over HTTP: REST endpoints for inventory and
// hub statistics, plus the two websocket surfaces (camera producer in,
// dashboard subscribers out).
package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/suscart-data/freshrelay/internal/httputil"
	"github.com/suscart-data/freshrelay/internal/inventory"
	"github.com/suscart-data/freshrelay/internal/monitoring"
	"github.com/suscart-data/freshrelay/internal/relay"
	"github.com/suscart-data/freshrelay/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	hub      *relay.Hub
	store    *inventory.Store
	upgrader websocket.Upgrader
}

func NewServer(hub *relay.Hub, store *inventory.Store) *Server {
	return &Server{
		hub:   hub,
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Dashboards are served from arbitrary hosts on the LAN.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets the websocket upgrader take over the connection through the
// logging wrapper.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.showHealth)
	mux.HandleFunc("GET /api/stats", s.showStats)
	mux.HandleFunc("GET /api/items", s.listItems)
	mux.HandleFunc("POST /api/items", s.createItem)
	mux.HandleFunc("GET /api/items/{id}", s.showItem)
	mux.HandleFunc("PUT /api/items/{id}", s.updateItem)
	mux.HandleFunc("DELETE /api/items/{id}", s.deleteItem)
	mux.HandleFunc("POST /api/items/{id}/quantity", s.adjustQuantity)
	mux.HandleFunc("POST /api/items/{id}/freshness", s.updateFreshness)
	mux.HandleFunc("/ws/camera", s.handleCamera)
	mux.HandleFunc("/ws/live", s.handleLive)
	return mux
}

func (s *Server) itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteJSONError(w, http.StatusBadRequest, "Invalid item id")
		return 0, false
	}
	return id, true
}

func (s *Server) showHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"version":         version.String(),
		"producer_active": s.hub.ProducerActive(),
	})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.hub.Stats())
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListItems()
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to list items: %v", err))
		return
	}
	if items == nil {
		items = []inventory.Item{}
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name           string  `json:"name"`
		Quantity       int64   `json:"quantity"`
		FreshnessScore float64 `json:"freshness_score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "Missing item name")
		return
	}
	if req.Quantity < 0 {
		httputil.WriteJSONError(w, http.StatusBadRequest, "Quantity must be non-negative")
		return
	}

	item, err := s.store.CreateItem(req.Name, req.Quantity, req.FreshnessScore)
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to create item: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, item)
}

func (s *Server) showItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	item, err := s.store.GetItem(id)
	if errors.Is(err, inventory.ErrNotFound) {
		httputil.WriteJSONError(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to fetch item: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		httputil.WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := s.store.UpdateItem(id, req.Name)
	if errors.Is(err, inventory.ErrNotFound) {
		httputil.WriteJSONError(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to update item: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	err := s.store.DeleteItem(id)
	if errors.Is(err, inventory.ErrNotFound) {
		httputil.WriteJSONError(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to delete item: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) adjustQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	var req struct {
		Delta int64 `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := s.store.AdjustQuantity(id, req.Delta)
	if errors.Is(err, inventory.ErrNotFound) {
		httputil.WriteJSONError(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to adjust quantity: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

func (s *Server) updateFreshness(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	var req struct {
		Score        float64 `json:"score"`
		BlemishCount int64   `json:"blemish_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Score < 0 || req.Score > 1 {
		httputil.WriteJSONError(w, http.StatusBadRequest, "Score must be between 0 and 1")
		return
	}

	item, err := s.store.UpdateFreshness(id, req.Score, req.BlemishCount)
	if errors.Is(err, inventory.ErrNotFound) {
		httputil.WriteJSONError(w, http.StatusNotFound, "Item not found")
		return
	}
	if err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to update freshness: %v", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}
