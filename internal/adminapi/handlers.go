package adminapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/allaspects/confplane/internal/confcore"
	"github.com/allaspects/confplane/internal/version"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	names := s.dispatcher.Registry().Names()
	writeJSON(w, http.StatusOK, statusResponse{
		Version: version.Version,
		Uptime:  formatUptime(s.startTime),
		Modules: names,
	})
}

// moduleSummary is one entry of GET /modules.
type moduleSummary struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Generation uint64 `json:"generation"`
	FailedLoad bool   `json:"failed_load"`
	Updates    uint64 `json:"updates"`
}

func (s *Server) handleModules(w http.ResponseWriter, r *http.Request) {
	infos := s.dispatcher.Registry().All()
	summaries := make([]moduleSummary, 0, len(infos))
	for name, info := range infos {
		var generation uint64
		if cs, ok := s.dispatcher.Confset(name); ok {
			generation = cs.Generation()
		}
		summaries = append(summaries, moduleSummary{
			Name:       name,
			Path:       info.Path,
			Generation: generation,
			FailedLoad: info.FailedLoad(),
			Updates:    info.Updates(),
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

// segmentSummary is one entry of GET /modules/{name}/segments.
type segmentSummary struct {
	ID         uint32 `json:"id"`
	FailedLoad bool   `json:"failed_load"`
	Digest     string `json:"digest"`
	Version    float64 `json:"version,omitempty"`
}

func (s *Server) handleModuleSegments(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	cs, ok := s.dispatcher.Confset(name)
	if !ok {
		writeError(w, http.StatusNotFound, "module %q is not registered", name)
		return
	}

	snap := cs.Acquire()
	defer cs.Release(snap)

	ids := snap.SortedIDs()
	out := make([]segmentSummary, 0, len(ids))
	for _, id := range ids {
		seg := snap.Segments[id]
		out = append(out, segmentSummary{
			ID:         id,
			FailedLoad: seg.FailedLoad,
			Digest:     digestHex(seg.Digest),
			Version:    seg.Version,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleModuleSegmentByID serves GET /modules/{name}/segments/{id}, a
// single-segment lookup that goes through Confset.Lookup rather than
// acquiring and scanning the whole snapshot like handleModuleSegments
// does — the point being the hottest ids it's polled for come straight
// out of the module's HotCache instead of the full Acquire/Release path.
func (s *Server) handleModuleSegmentByID(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	idParam := chi.URLParam(r, "id")

	id, err := strconv.ParseUint(idParam, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid segment id %q", idParam)
		return
	}

	cs, ok := s.dispatcher.Confset(name)
	if !ok {
		writeError(w, http.StatusNotFound, "module %q is not registered", name)
		return
	}

	seg, ok := cs.Lookup(uint32(id))
	if !ok {
		writeError(w, http.StatusNotFound, "segment %d not found in module %q", id, name)
		return
	}

	writeJSON(w, http.StatusOK, segmentSummary{
		ID:         seg.ID,
		FailedLoad: seg.FailedLoad,
		Digest:     digestHex(seg.Digest),
		Version:    seg.Version,
	})
}

func digestHex(d confcore.Digest) string {
	return d.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
