// Package state persists and restores the routing table and per-host
// stats to and from the JSON snapshot format described in spec.md §6:
//
//	{ "hosts": { "<host>": ["<action_kind>", {<params>}, <bool>], ... },
//	  "stats": { "<host>": {"completed_requests": N, ...}, ... } }
//
// Backends inside params serialize as {"__backend__": ["host", port]}.
package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/mantrid-go/mantridproxy/backend"
	"github.com/mantrid-go/mantridproxy/routing"
)

// HostStats is the persisted counters for a matched host. OpenRequests is
// always reset to zero on load: requests in flight before a restart no
// longer exist.
type HostStats struct {
	OpenRequests      int64 `json:"open_requests"`
	CompletedRequests int64 `json:"completed_requests"`
	BytesSent         int64 `json:"bytes_sent"`
	BytesReceived     int64 `json:"bytes_received"`
}

type document struct {
	Hosts map[string]json.RawMessage `json:"hosts"`
	Stats map[string]HostStats       `json:"stats"`
}

// Save writes the full snapshot of hosts and stats to w as indented JSON.
func Save(w io.Writer, hosts map[string]routing.Route, stats map[string]HostStats) error {
	doc := document{
		Hosts: make(map[string]json.RawMessage, len(hosts)),
		Stats: stats,
	}
	for host, route := range hosts {
		raw, err := EncodeRoute(route)
		if err != nil {
			return fmt.Errorf("state: encoding route for %q: %w", host, err)
		}
		doc.Hosts[host] = raw
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// Hash returns a stable content hash of the snapshot, used by the save
// loop to skip rewriting the state file when nothing has changed.
func Hash(hosts map[string]routing.Route, stats map[string]HostStats) ([]byte, error) {
	h := sha256.New()
	if err := Save(h, hosts, stats); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

// Load reads a snapshot from r, reconstructing Backend objects for every
// proxy route. If r is empty, Load returns empty maps rather than an
// error, matching "if the file is missing or empty, start with empty
// state." open_requests is zeroed for every host on load.
func Load(r io.Reader) (map[string]routing.Route, map[string]HostStats, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	if len(data) == 0 {
		return map[string]routing.Route{}, map[string]HostStats{}, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("state: decoding snapshot: %w", err)
	}

	hosts := make(map[string]routing.Route, len(doc.Hosts))
	for host, raw := range doc.Hosts {
		route, err := DecodeRoute(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("state: decoding route for %q: %w", host, err)
		}
		hosts[host] = route
	}

	stats := make(map[string]HostStats, len(doc.Stats))
	for host, s := range doc.Stats {
		s.OpenRequests = 0
		stats[host] = s
	}

	return hosts, stats, nil
}

// LoadFile loads a snapshot from path, treating a missing file as empty
// state rather than an error.
func LoadFile(path string) (map[string]routing.Route, map[string]HostStats, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]routing.Route{}, map[string]HostStats{}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return Load(f)
}

// SaveFile atomically writes the snapshot to path via a temp-file-plus-rename.
func SaveFile(path string, hosts map[string]routing.Route, stats map[string]HostStats) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := Save(f, hosts, stats); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func EncodeRoute(route routing.Route) (json.RawMessage, error) {
	params := map[string]interface{}{}

	switch route.Kind {
	case routing.KindProxy:
		backends := make([]interface{}, 0, len(route.Params.Backends))
		for _, b := range route.Params.Backends {
			backends = append(backends, map[string]interface{}{
				"__backend__": []interface{}{b.Host(), b.Port()},
			})
		}
		params["backends"] = backends
		params["algorithm"] = route.Params.Algorithm
		params["healthcheck"] = route.Params.HealthcheckEnabled()
		params["attempts"] = route.Params.Attempts
		params["delay"] = route.Params.Delay
	case routing.KindStatic, routing.KindUnknown, routing.KindNoHosts:
		params["type"] = route.Params.Type
	case routing.KindRedirect:
		params["redirect_to"] = route.Params.RedirectTo
	case routing.KindEmpty:
		params["code"] = route.Params.Code
	case routing.KindAlias:
		params["hostname"] = route.Params.Hostname
	case routing.KindSpin:
		params["timeout"] = route.Params.Timeout
		params["check_interval"] = route.Params.CheckInterval
	}

	return json.Marshal([3]interface{}{string(route.Kind), params, route.AllowSubdomains})
}

func DecodeRoute(raw json.RawMessage) (routing.Route, error) {
	var tuple [3]json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err != nil {
		return routing.Route{}, err
	}

	var kindStr string
	if err := json.Unmarshal(tuple[0], &kindStr); err != nil {
		return routing.Route{}, err
	}
	kind, err := routing.ParseKind(kindStr)
	if err != nil {
		return routing.Route{}, err
	}

	var rawParams map[string]json.RawMessage
	if err := json.Unmarshal(tuple[1], &rawParams); err != nil {
		return routing.Route{}, err
	}

	var allowSubdomains bool
	if err := json.Unmarshal(tuple[2], &allowSubdomains); err != nil {
		return routing.Route{}, err
	}

	params, err := decodeParams(kind, rawParams)
	if err != nil {
		return routing.Route{}, err
	}

	return routing.Route{Kind: kind, Params: params, AllowSubdomains: allowSubdomains}, nil
}

func decodeParams(kind routing.Kind, raw map[string]json.RawMessage) (routing.Params, error) {
	var p routing.Params

	switch kind {
	case routing.KindProxy:
		if v, ok := raw["backends"]; ok {
			backends, err := decodeBackends(v)
			if err != nil {
				return p, err
			}
			p.Backends = backends
		}
		if v, ok := raw["algorithm"]; ok {
			json.Unmarshal(v, &p.Algorithm)
		}
		if v, ok := raw["healthcheck"]; ok {
			var hc bool
			if err := json.Unmarshal(v, &hc); err == nil {
				p.Healthcheck = &hc
			}
		}
		if v, ok := raw["attempts"]; ok {
			json.Unmarshal(v, &p.Attempts)
		}
		if v, ok := raw["delay"]; ok {
			json.Unmarshal(v, &p.Delay)
		}
	case routing.KindStatic, routing.KindUnknown, routing.KindNoHosts:
		if v, ok := raw["type"]; ok {
			json.Unmarshal(v, &p.Type)
		}
	case routing.KindRedirect:
		if v, ok := raw["redirect_to"]; ok {
			json.Unmarshal(v, &p.RedirectTo)
		}
	case routing.KindEmpty:
		if v, ok := raw["code"]; ok {
			json.Unmarshal(v, &p.Code)
		}
	case routing.KindAlias:
		if v, ok := raw["hostname"]; ok {
			json.Unmarshal(v, &p.Hostname)
		}
	case routing.KindSpin:
		if v, ok := raw["timeout"]; ok {
			json.Unmarshal(v, &p.Timeout)
		}
		if v, ok := raw["check_interval"]; ok {
			json.Unmarshal(v, &p.CheckInterval)
		}
	}

	return p, nil
}

func decodeBackends(raw json.RawMessage) ([]*backend.Backend, error) {
	var items []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}

	backends := make([]*backend.Backend, 0, len(items))
	for _, item := range items {
		tuple, ok := item["__backend__"]
		if !ok {
			continue
		}
		var pair [2]json.RawMessage
		if err := json.Unmarshal(tuple, &pair); err != nil {
			return nil, err
		}
		var host string
		var port int
		if err := json.Unmarshal(pair[0], &host); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(pair[1], &port); err != nil {
			return nil, err
		}
		backends = append(backends, backend.New(host, port))
	}
	return backends, nil
}

// WatchReload watches the directory containing path for external
// rewrites of the state file (an operator or collaborator editing it
// directly, bypassing the management API) and invokes onReload whenever
// the file changes. It supplements the management surface; it never
// replaces it. The returned watcher must be closed by the caller.
func WatchReload(path string, onReload func()) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					onReload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("state file watcher error")
			}
		}
	}()

	return watcher, nil
}
