// Package viewer serves saved reports over HTTP: a small embedded shell
// page, a JSON listing API, raw report bodies, and a websocket channel that
// pushes directory changes so open pages can refresh themselves.
package viewer

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"perflens/internal/report"
)

//go:embed shell.html
var shellHTML []byte

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // local viewer, no cross-origin concerns
	},
}

// Viewer renders one report store.
type Viewer struct {
	store *report.Store
	hub   *hub
}

func New(store *report.Store) *Viewer {
	return &Viewer{store: store, hub: newHub()}
}

// Handler returns the full route set.
func (v *Viewer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", v.handleShell)
	mux.HandleFunc("/api/reports", v.handleList)
	mux.HandleFunc("/api/reports/", v.handleReport)
	mux.HandleFunc("/ws", v.handleWS)
	return mux
}

// Serve runs the HTTP server and the directory watcher until ctx is
// cancelled, then shuts both down.
func (v *Viewer) Serve(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: h2c.NewHandler(v.Handler(), &http2.Server{}),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("[viewer] serving reports from %s on %s", v.store.Dir(), srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return v.watch(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (v *Viewer) handleShell(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(shellHTML)
}

func (v *Viewer) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := v.store.List()
	if err != nil {
		log.Printf("[viewer] list reports: %v", err)
		http.Error(w, "cannot read report index", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []report.Entry{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (v *Viewer) handleReport(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	if !report.ValidName(name) {
		http.Error(w, "invalid report name", http.StatusBadRequest)
		return
	}
	body, err := v.store.Read(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Write(body)
}

func (v *Viewer) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		log.Printf("[viewer] ws set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	events := v.hub.subscribe()
	defer v.hub.unsubscribe(events)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Reads only service control frames; any client message or
		// error ends the session.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
