package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"time"

	"unseen/records"
	"unseen/server/fastview"
	"unseen/server/root_view"
	"unseen/store"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// Time allowed for in-flight requests to complete on shutdown.
const shutdownGracePeriod = 5 * time.Second

// Server serves a single page of views over a websocket, and a JSON record
// endpoint per store collection. The page's views publish on single
// channels, hence one client is served at a time.
type Server struct {
	addr     string
	rootView *root_view.RootView
	store    *store.Store
	router   *mux.Router
}

// NewServer returns a server for the page rootView, exposing the collections
// of st, if any, under /api.
func NewServer(
	addr string,
	rootView *root_view.RootView,
	st *store.Store,
) *Server {
	server := &Server{
		addr:     addr,
		rootView: rootView,
		store:    st,
		router:   mux.NewRouter(),
	}

	server.router.HandleFunc("/", server.serveIndex).Methods(http.MethodGet)
	server.router.HandleFunc("/ws", server.serveWebsocket)
	if st != nil {
		api := server.router.PathPrefix("/api").Subrouter()
		api.HandleFunc("/{collection}", server.listRecords).Methods(http.MethodGet)
		api.HandleFunc("/{collection}", server.createRecord).Methods(http.MethodPost)
		api.HandleFunc("/{collection}/{id}", server.getRecord).Methods(http.MethodGet)
		api.HandleFunc("/{collection}/{id}", server.updateRecord).Methods(http.MethodPut)
		api.HandleFunc("/{collection}/{id}", server.deleteRecord).Methods(http.MethodDelete)
	}
	return server
}

// Handler returns the server's router.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Serve serves until ctx is cancelled, then shuts down gracefully.
func (server *Server) Serve(ctx context.Context) (err error) {
	srv := &http.Server{
		Addr:    server.addr,
		Handler: server.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithField("addr", server.addr).Info("serving")
	if err = srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// serveWebsocket publishes view updates to the client and dispatches its events.
func (server *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cli, err := fastview.NewClient(server.rootView.Updates(ctx.Done()), server.rootView, w, r)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	log.WithField("remote", r.RemoteAddr).Info("client connected")
	if err := cli.Sync(); err != nil {
		log.WithError(err).Warn("client sync failed")
	}
	log.WithField("remote", r.RemoteAddr).Info("client disconnected")
}

// Serve the index.html main page.
func (server *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if err := renderTemplate(w, server.rootView, nil); err != nil {
		log.WithError(err).Error("failed to render page")
		_, _ = w.Write([]byte(err.Error()))
	}
}

func renderTemplate(
	w io.Writer,
	vc *root_view.RootView,
	data interface{},
) (err error) {
	t := template.New("index.html")
	var tname string
	if tname, err = vc.Parse(t); err != nil {
		return
	}
	if _, err = t.Parse(`{{ template "` + tname + `" . }}`); err != nil {
		return
	}

	err = t.Execute(w, data)
	return
}

func (server *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := server.store.List(mux.Vars(r)["collection"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (server *Server) createRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := readRecord(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stored, err := server.store.Create(mux.Vars(r)["collection"], rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (server *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := store.ParseID(vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := server.store.Get(vars["collection"], id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (server *Server) updateRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := store.ParseID(vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	rec, err := readRecord(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stored, err := server.store.Update(vars["collection"], id, rec)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (server *Server) deleteRecord(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := store.ParseID(vars["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	if err = server.store.Delete(vars["collection"], id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// errBadRecord is returned for request bodies that are not a JSON object.
var errBadRecord = errors.New("request body is not a record")

func readRecord(r *http.Request) (records.Record, error) {
	var rec records.Record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil || rec == nil {
		return nil, errBadRecord
	}
	return rec, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidID), errors.Is(err, errBadRecord):
		status = http.StatusBadRequest
	default:
		log.WithError(err).Error("record request failed")
	}
	http.Error(w, err.Error(), status)
}
