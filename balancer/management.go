package balancer

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/mantrid-go/mantridproxy/state"
)

// serveManagement opens one http.Server per management address, exposing
// the routing table and stats for the external CLI collaborator (spec.md
// §6): GET / for a full dump, PUT/DELETE /<host> to mutate a single route,
// GET /stats[/<host>] for counters, and /metrics for Prometheus scraping.
func (b *Balancer) serveManagement(addresses []string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", b.handleRoutes)
	mux.HandleFunc("/stats", b.handleStats)
	mux.HandleFunc("/stats/", b.handleStats)
	mux.Handle("/metrics", b.metrics.Handler())

	for _, addr := range addresses {
		ln, err := openListener(addr)
		if err != nil {
			return err
		}
		if ln == nil {
			continue
		}
		b.listeners = append(b.listeners, ln)
		srv := &http.Server{Handler: mux}
		b.mgmtHTTP = append(b.mgmtHTTP, srv)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("management server stopped")
			}
		}()
	}
	return nil
}

// handleRoutes implements GET /, GET /<host>, PUT /<host>, DELETE /<host>.
func (b *Balancer) handleRoutes(w http.ResponseWriter, r *http.Request) {
	host := strings.TrimPrefix(r.URL.Path, "/")

	switch r.Method {
	case http.MethodGet:
		if host == "" {
			b.dumpTable(w)
			return
		}
		route, ok := b.table.Get(host)
		if !ok {
			http.Error(w, "no such host", http.StatusNotFound)
			return
		}
		raw, err := state.EncodeRoute(route)
		if err != nil {
			http.Error(w, "encoding route: "+err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)

	case http.MethodPut:
		if host == "" {
			http.Error(w, "host required", http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "reading body: "+err.Error(), http.StatusBadRequest)
			return
		}
		route, err := state.DecodeRoute(body)
		if err != nil {
			http.Error(w, "decoding route: "+err.Error(), http.StatusBadRequest)
			return
		}
		b.table.Set(r.Context(), host, route)
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if host == "" {
			http.Error(w, "host required", http.StatusBadRequest)
			return
		}
		b.table.Delete(host)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (b *Balancer) dumpTable(w http.ResponseWriter) {
	snapshot := b.table.Snapshot()
	out := make(map[string]json.RawMessage, len(snapshot))
	for host, route := range snapshot {
		raw, err := state.EncodeRoute(route)
		if err != nil {
			http.Error(w, "encoding route for "+host+": "+err.Error(), http.StatusInternalServerError)
			return
		}
		out[host] = raw
	}
	writeJSON(w, out)
}

func (b *Balancer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	host := strings.TrimPrefix(r.URL.Path, "/stats")
	host = strings.TrimPrefix(host, "/")
	if host == "" {
		writeJSON(w, b.stats.Snapshot())
		return
	}

	hs, ok := b.stats.One(host)
	if !ok {
		http.Error(w, "no such host", http.StatusNotFound)
		return
	}
	writeJSON(w, hs)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.WithError(err).Error("failed to encode management response")
	}
}
