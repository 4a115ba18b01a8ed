package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/dpup/prefab/logging"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/gravewalk/server/internal/clients/graves"
	"github.com/gravewalk/server/internal/lib/cemetery"
	"github.com/gravewalk/server/internal/lib/geo"
	"github.com/gravewalk/server/internal/lib/navigation"
	"github.com/gravewalk/server/internal/metrics"
)

const maxBodyBytes = 64 << 10

// API exposes the navigation service over HTTP and WebSocket
type API struct {
	svc      *NavigationService
	hub      *Hub
	upgrader websocket.Upgrader
}

// CemeteryResponse describes the cemetery geometry for map clients
type CemeteryResponse struct {
	Name     string          `json:"name"`
	Boundary []geo.Point     `json:"boundary"`
	Paths    []cemetery.Path `json:"paths"`
	Entrance *geo.Point      `json:"entrance,omitempty"`
}

// NewAPI creates the HTTP surface. allowedOrigins restricts WebSocket
// origins; "*" allows any.
func NewAPI(svc *NavigationService, hub *Hub, allowedOrigins []string) *API {
	return &API{
		svc: svc,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
	}
}

// Router returns the /api/v1 routes
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(metrics.Middleware)
	r.Use(a.withLogger)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/cemetery", a.getCemetery).Methods(http.MethodGet)
	v1.HandleFunc("/cemetery.kml", a.getCemeteryKML).Methods(http.MethodGet)
	v1.HandleFunc("/sessions", a.createSession).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}", a.getSession).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}", a.deleteSession).Methods(http.MethodDelete)
	v1.HandleFunc("/sessions/{id}/fixes", a.pushFix).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/reset", a.reset).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/acknowledge", a.acknowledge).Methods(http.MethodPost)
	v1.HandleFunc("/sessions/{id}/handoff", a.handoff).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/map.kml", a.getSessionKML).Methods(http.MethodGet)
	v1.HandleFunc("/sessions/{id}/stream", a.stream).Methods(http.MethodGet)
	return r
}

func (a *API) getCemetery(w http.ResponseWriter, r *http.Request) {
	g := a.svc.deps.Geography
	resp := CemeteryResponse{
		Name:     g.Name(),
		Boundary: g.Boundary(),
		Paths:    g.Paths(),
	}
	if entrance, ok := g.Entrance(); ok {
		resp.Entrance = &entrance
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getCemeteryKML(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	if err := a.svc.WriteKML(w, ""); err != nil {
		logging.Errorw(r.Context(), "Failed to write cemetery KML", "error", err)
	}
}

func (a *API) getSessionKML(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := a.svc.Snapshot(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	if err := a.svc.WriteKML(w, id); err != nil {
		logging.Errorw(r.Context(), "Failed to write session KML", "session_id", id, "error", err)
	}
}

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	snap, err := a.svc.CreateSession(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/sessions/"+snap.ID)
	writeJSON(w, http.StatusCreated, snap)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.Snapshot(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) pushFix(w http.ResponseWriter, r *http.Request) {
	var req FixRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	snap, err := a.svc.PushFix(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if req.PermissionDenied {
		writeJSON(w, http.StatusOK, snap)
		return
	}
	// The fix is applied in the background; the stream carries the result
	writeJSON(w, http.StatusAccepted, snap)
}

func (a *API) reset(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.Reset(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) acknowledge(w http.ResponseWriter, r *http.Request) {
	snap, err := a.svc.Acknowledge(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) handoff(w http.ResponseWriter, r *http.Request) {
	resp, err := a.svc.Handoff(mux.Vars(r)["id"], r.URL.Query().Get("provider"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("redirect") == "true" {
		http.Redirect(w, r, resp.URL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// stream upgrades to a WebSocket that receives the current snapshot and then every change
func (a *API) stream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, err := a.svc.Snapshot(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		logging.Warnw(r.Context(), "WebSocket upgrade failed", "session_id", id, "error", err)
		return
	}

	client := NewClient(id, conn, a.hub)
	initial, err := json.Marshal(StreamMessage{Type: MessageSnapshot, Snapshot: &snap})
	if err == nil {
		client.send <- initial
	}
	if !a.hub.add(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// withLogger gives requests that arrive without a scoped logger the service's one
func (a *API) withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logging.FromContext(r.Context()) == nil {
			r = r.WithContext(logging.With(r.Context(), logging.FromContext(a.svc.ctx).Named(r.URL.Path)))
		}
		next.ServeHTTP(w, r)
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Join(ErrInvalidRequest, err)
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, graves.ErrGraveNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, cemetery.ErrInvalidTarget),
		errors.Is(err, geo.ErrInvalidGeometry):
		return http.StatusBadRequest
	case errors.Is(err, navigation.ErrInvalidState):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.Errorw(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || slices.Contains(allowed, "*") {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}
