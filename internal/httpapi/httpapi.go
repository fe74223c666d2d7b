package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/isparth/Distributed-Systems/raft-sim/internal/sim"
	"github.com/isparth/Distributed-Systems/raft-sim/internal/types"
)

// Simulator is the subset of sim.Simulation the HTTP layer needs.
type Simulator interface {
	Snapshot() types.ClusterSnapshot
	Events(since uint64) []types.Event
	Pause()
	Resume()
	Step()
	Reset()
	SetSpeed(multiplier float64) error
	KillNode(id types.NodeID) bool
	ReviveNode(id types.NodeID) bool
	InjectClientRequest() (types.NodeID, error)
	Subscribe() (<-chan types.ClusterSnapshot, func())
}

func handleHealthz() http.HandlerFunc {
	type resp struct {
		Status string `json:"status"`
		Time   string `json:"time"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, resp{
			Status: "ok",
			Time:   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func handleSnapshot(s Simulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

func handleEvents(s Simulator) http.HandlerFunc {
	type resp struct {
		Ok     bool          `json:"ok"`
		Events []types.Event `json:"events"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var since uint64
		if v := r.URL.Query().Get("since"); v != "" {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, types.ErrCodeBadRequest, "since must be a non-negative integer")
				return
			}
			since = n
		}
		events := s.Events(since)
		if events == nil {
			events = []types.Event{}
		}
		writeJSON(w, http.StatusOK, resp{Ok: true, Events: events})
	}
}

// handleCommand wraps a control command that cannot fail.
func handleCommand(cmd func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cmd()
		writeJSON(w, http.StatusOK, types.CommandResult{Ok: true, Applied: true})
	}
}

func handleSetSpeed(s Simulator) http.HandlerFunc {
	type req struct {
		Multiplier *float64 `json:"multiplier"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var body req
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, types.ErrCodeBadRequest, "invalid JSON")
			return
		}
		if body.Multiplier == nil {
			writeError(w, http.StatusBadRequest, types.ErrCodeBadRequest, "multiplier is required")
			return
		}
		if err := s.SetSpeed(*body.Multiplier); err != nil {
			if errors.Is(err, sim.ErrInvalidSpeed) {
				writeError(w, http.StatusBadRequest, types.ErrCodeInvalidSpeed, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, types.ErrCodeInternal, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.CommandResult{Ok: true, Applied: true})
	}
}

// handleNodeCommand runs kill or revive on the {id} URL param. Unknown ids
// are not an error.
func handleNodeCommand(cmd func(types.NodeID) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, types.ErrCodeBadRequest, "node id must be an integer")
			return
		}
		applied := cmd(types.NodeID(id))
		writeJSON(w, http.StatusOK, types.CommandResult{Ok: true, Applied: applied})
	}
}

func handleClientRequest(s Simulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		leader, err := s.InjectClientRequest()
		if err != nil {
			if errors.Is(err, sim.ErrNoLeaderElected) {
				writeError(w, http.StatusServiceUnavailable, types.ErrCodeNoLeader, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, types.ErrCodeInternal, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, types.ClientRequestResult{Ok: true, LeaderID: leader})
	}
}

// --- JSON helpers ---

func decodeJSON(r *http.Request, dst interface{}) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.ErrorResult{Ok: false, ErrCode: code, ErrMsg: msg})
}
