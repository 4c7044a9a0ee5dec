package api

import (
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"github.com/confidentio/tdxid/pkg/registry"
)

// RegistryServer serves the registry service's HTTP API (spec.md §6):
// POST /register, GET /instance/{pubkey}, plus an internal
// POST /instance/{pubkey}/owner the identity service's registryclient
// calls for attach_owner.
type RegistryServer struct {
	ledger *registry.Ledger
	mux    *http.ServeMux
}

// NewRegistryServer builds the mux for ledger.
func NewRegistryServer(ledger *registry.Ledger) *RegistryServer {
	s := &RegistryServer{ledger: ledger, mux: http.NewServeMux()}

	s.mux.HandleFunc("POST /register", instrument("register", s.handleRegister))
	s.mux.HandleFunc("POST /instance/{pubkey}/owner", instrument("attach_owner", s.handleAttachOwner))
	s.mux.HandleFunc("GET /instance/{pubkey}", instrument("lookup", s.handleLookup))

	mountOps(s.mux, func() (bool, string) { return true, "" })
	return s
}

// ListenAndServe blocks serving on addr.
func (s *RegistryServer) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

type registerRequest struct {
	InstancePubkey []byte `json:"instance_pubkey"`
	Quote          []byte `json:"quote"`
	OperatorPubkey []byte `json:"operator_pubkey"`
	Signature      []byte `json:"signature"`
}

func (s *RegistryServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "config_invalid"})
		return
	}

	if err := s.ledger.Register(r.Context(), req.InstancePubkey, req.Quote, req.OperatorPubkey, req.Signature); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type attachOwnerRequest struct {
	OwnerPubkey []byte `json:"owner_pubkey"`
	Signature   []byte `json:"signature"`
}

func (s *RegistryServer) handleAttachOwner(w http.ResponseWriter, r *http.Request) {
	instancePubkey, err := decodeHexPathParam(r.PathValue("pubkey"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "config_invalid"})
		return
	}

	var req attachOwnerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "config_invalid"})
		return
	}

	if err := s.ledger.AttachOwner(r.Context(), instancePubkey, req.OwnerPubkey, req.Signature); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *RegistryServer) handleLookup(w http.ResponseWriter, r *http.Request) {
	instancePubkey, err := decodeHexPathParam(r.PathValue("pubkey"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "config_invalid"})
		return
	}

	entry, err := s.ledger.Lookup(instancePubkey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func decodeHexPathParam(raw string) ([]byte, error) {
	return hex.DecodeString(strings.TrimSpace(raw))
}
