// Package httpapi exposes the microscope over HTTP: operating mode, shared
// state parameters, the acquisition list, scripts and a websocket progress
// feed.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi"
	"gopkg.in/yaml.v2"

	"github.com/openlsm/lightctl/acq"
	"github.com/openlsm/lightctl/engine"
	"github.com/openlsm/lightctl/state"
)

// StrT is a struct with a single Str field for JSON requests and responses
type StrT struct {
	Str string `json:"str"`
}

// FloatT is a struct with a single F64 field
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single Int field
type IntT struct {
	Int int `json:"int"`
}

// SnapT is the request body for a single image capture
type SnapT struct {
	Folder   string `json:"folder"`
	Filename string `json:"filename"`
}

// Server binds the engine and shared state to a route table.
type Server struct {
	store *state.Store
	eng   *engine.Engine
	hub   *Hub
}

// NewServer returns a Server ready to have Routes bound to a router.  The
// progress hub starts relaying immediately.
func NewServer(store *state.Store, eng *engine.Engine) *Server {
	s := &Server{store: store, eng: eng, hub: NewHub()}
	go s.hub.Relay(eng.Progress())
	return s
}

// Routes binds the API to r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/mode", s.GetMode)
	r.Post("/mode", s.SetMode)
	r.Get("/state", s.GetState)
	r.Get("/state/{key}", s.GetStateKey)
	r.Post("/state", s.SetState)
	r.Get("/positions", s.GetPositions)
	r.Get("/list", s.GetList)
	r.Post("/list", s.SetList)
	r.Post("/list/selected", s.SetSelectedRow)
	r.Post("/script", s.RunScript)
	r.Post("/snap", s.Snap)
	r.Get("/progress", s.hub.Upgrade)
}

// GetMode returns the current operating mode
func (s *Server) GetMode(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, StrT{Str: s.eng.Mode()})
}

// SetMode requests an operating mode change
func (s *Server) SetMode(w http.ResponseWriter, r *http.Request) {
	str := StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.eng.SetMode(str.Str); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// GetState returns a snapshot of every shared state parameter
func (s *Server) GetState(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.store.Snapshot())
}

// GetStateKey returns one shared state parameter
func (s *Server) GetStateKey(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	v, ok := s.store.Get(key)
	if !ok {
		http.Error(w, fmt.Sprintf("unrecognized parameter %q", key), http.StatusNotFound)
		return
	}
	jsonResponse(w, map[string]interface{}{key: v})
}

// SetState writes a batch of shared state parameters.  Unrecognized keys are
// silently ignored.
func (s *Server) SetState(w http.ResponseWriter, r *http.Request) {
	var kv map[string]interface{}
	err := json.NewDecoder(r.Body).Decode(&kv)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for k, v := range kv {
		s.store.Set(k, v)
	}
	w.WriteHeader(http.StatusOK)
}

// GetPositions returns the last reported stage position per axis
func (s *Server) GetPositions(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.store.Positions())
}

// GetList returns the configured acquisition list as YAML
func (s *Server) GetList(w http.ResponseWriter, r *http.Request) {
	b, err := yaml.Marshal(s.store.List())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.Write(b)
}

// SetList replaces the acquisition list from a YAML body.  Lists that fail
// hygiene checks (empty filenames, duplicates) are rejected.
func (s *Server) SetList(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var list acq.List
	if err := yaml.Unmarshal(b, &list); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := list.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	s.store.SetList(list)
	w.WriteHeader(http.StatusOK)
}

// SetSelectedRow selects the list row run_selected_acquisition will run
func (s *Server) SetSelectedRow(w http.ResponseWriter, r *http.Request) {
	i := IntT{}
	err := json.NewDecoder(r.Body).Decode(&i)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if i.Int < 0 || i.Int >= len(s.store.List()) {
		http.Error(w, fmt.Sprintf("row %d out of range", i.Int), http.StatusBadRequest)
		return
	}
	s.store.SetSelectedRow(i.Int)
	w.WriteHeader(http.StatusOK)
}

// RunScript starts a script from a plain text body
func (s *Server) RunScript(w http.ResponseWriter, r *http.Request) {
	b, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.eng.RunScript(string(b)); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Snap captures a single image with the current settings
func (s *Server) Snap(w http.ResponseWriter, r *http.Request) {
	req := SnapT{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.eng.Snap(req.Folder, req.Filename); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func jsonResponse(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
