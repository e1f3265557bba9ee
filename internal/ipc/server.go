// Package ipc exposes the daemon's mutating and read-only surface over a
// small localhost HTTP API: offer snapshots, the approval queue, recent
// activity and earnings, plus the mutating operations an operator or
// companion app drives (approve/reject offers, switch mode, update policy,
// force a verification cycle, force a flag). Grounded on the teacher's
// cmd/explorer/server.go, which wraps gorilla/mux with a small routes()
// table and a shared writeJSON helper; mutating POST handlers and JSON
// body decoding are this package's addition, since the teacher's explorer
// is read-only.
package ipc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hvym/pinnerd/internal/hunter"
	"github.com/hvym/pinnerd/internal/ledgerclient"
	"github.com/hvym/pinnerd/internal/mode"
	"github.com/hvym/pinnerd/internal/store"
	"github.com/hvym/pinnerd/internal/types"
)

// Server exposes the aggregation/IPC surface over HTTP.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	store      *store.Store
	mode       *mode.Controller
	hunter     *hunter.Hunter
	ledger     ledgerclient.Client
	log        *logrus.Logger
}

// New constructs the router and bound HTTP server. hunter may be nil if the
// hunter subsystem is disabled, in which case verify_now/flag_now report
// 409. ledger is used to re-check slot liveness before an approval is
// honored.
func New(addr string, st *store.Store, modeCtl *mode.Controller, h *hunter.Hunter, ledger ledgerclient.Client, log *logrus.Logger) *Server {
	s := &Server{router: mux.NewRouter(), store: st, mode: modeCtl, hunter: h, ledger: ledger, log: log}
	s.routes()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	return s
}

// Start blocks serving until the listener errors or is closed.
func (s *Server) Start() error { return s.httpServer.ListenAndServe() }

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error { return s.httpServer.Shutdown(ctx) }

func (s *Server) routes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/api/offers/{status}", s.handleOffersByStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/api/approval_queue", s.handleApprovalQueue).Methods(http.MethodGet)
	s.router.HandleFunc("/api/activity", s.handleRecentActivity).Methods(http.MethodGet)
	s.router.HandleFunc("/api/earnings", s.handleEarnings).Methods(http.MethodGet)
	s.router.HandleFunc("/api/mode", s.handleGetMode).Methods(http.MethodGet)
	s.router.HandleFunc("/api/tracked_pins", s.handleTrackedPins).Methods(http.MethodGet)
	s.router.HandleFunc("/api/flag_history", s.handleFlagHistory).Methods(http.MethodGet)

	s.router.HandleFunc("/api/offers/{slot_id}/approve", s.handleApprove).Methods(http.MethodPost)
	s.router.HandleFunc("/api/offers/{slot_id}/reject", s.handleReject).Methods(http.MethodPost)
	s.router.HandleFunc("/api/mode", s.handleSetMode).Methods(http.MethodPost)
	s.router.HandleFunc("/api/policy", s.handleUpdatePolicy).Methods(http.MethodPost)
	s.router.HandleFunc("/api/hunter/verify_now", s.handleVerifyNow).Methods(http.MethodPost)
	s.router.HandleFunc("/api/hunter/flag_now/{pinner}", s.handleFlagNow).Methods(http.MethodPost)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Debug("ipc: request")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	http.Error(w, err.Error(), status)
}

// --- read-only snapshots ---------------------------------------------------

func (s *Server) handleOffersByStatus(w http.ResponseWriter, r *http.Request) {
	status := types.OfferStatus(mux.Vars(r)["status"])
	offers, err := s.store.GetOffersByStatus(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, offers)
}

func (s *Server) handleApprovalQueue(w http.ResponseWriter, r *http.Request) {
	offers, err := s.store.GetApprovalQueue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, offers)
}

func (s *Server) handleRecentActivity(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetRecentActivity(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	total, count, err := s.store.GetEarnings(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"total_earned": total, "claim_count": count})
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	m, err := s.mode.GetMode(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]string{"mode": string(m)})
}

func (s *Server) handleTrackedPins(w http.ResponseWriter, r *http.Request) {
	pins, err := s.store.GetTrackedPins(r.Context(), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, pins)
}

func (s *Server) handleFlagHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.GetFlagHistory(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, history)
}

// --- mutating operations -----------------------------------------------------

// handleApprove re-verifies the slot is still active on-chain before
// honoring the operator's approval: an offer can sit in awaiting_approval
// long enough for the slot to fill or expire underneath it, and approving
// it anyway would drive the executor against a slot that can no longer pay
// out.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	slotID := mux.Vars(r)["slot_id"]

	slot, err := s.ledger.GetSlot(r.Context(), slotID)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if slot.Expired || slot.PinsRemaining == 0 {
		if expErr := s.store.UpdateOfferStatus(r.Context(), slotID, types.StatusExpired, ""); expErr != nil {
			writeError(w, http.StatusConflict, expErr)
			return
		}
		writeError(w, http.StatusConflict, errSlotNoLongerActive)
		return
	}

	if err := s.store.UpdateOfferStatus(r.Context(), slotID, types.StatusApproved, ""); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, map[string]string{"status": "approved", "slot_id": slotID})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	slotID := mux.Vars(r)["slot_id"]
	if err := s.store.UpdateOfferStatus(r.Context(), slotID, types.StatusRejected, types.ReasonOperatorRejected); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, map[string]string{"status": "rejected", "slot_id": slotID})
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	m := types.Mode(req.Mode)
	if m != types.ModeAuto && m != types.ModeApprove {
		writeError(w, http.StatusBadRequest, errInvalidMode)
		return
	}
	if err := s.mode.SetMode(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]string{"mode": string(m)})
}

type updatePolicyRequest struct {
	MinPrice       *int64 `json:"min_price"`
	MaxContentSize *int64 `json:"max_content_size"`
}

func (s *Server) handleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var req updatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.SetDaemonConfig(r.Context(), nil, req.MinPrice, req.MaxContentSize); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	cfg, err := s.store.GetDaemonConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, cfg)
}

func (s *Server) handleVerifyNow(w http.ResponseWriter, r *http.Request) {
	if s.hunter == nil {
		writeError(w, http.StatusConflict, errHunterDisabled)
		return
	}
	cycle, err := s.hunter.RunCycle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, cycle)
}

func (s *Server) handleFlagNow(w http.ResponseWriter, r *http.Request) {
	if s.hunter == nil {
		writeError(w, http.StatusConflict, errHunterDisabled)
		return
	}
	pinner := mux.Vars(r)["pinner"]
	if err := s.hunter.ForceFlag(r.Context(), pinner); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]string{"status": "flagged", "pinner": pinner})
}
