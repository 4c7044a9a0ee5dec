package api

import (
	"net/http"
	"time"

	"github.com/confidentio/tdxid/pkg/identity"
	"github.com/confidentio/tdxid/pkg/types"
)

// IdentityServer serves the identity service's HTTP API (spec.md §6):
// GET /instance/pubkey, POST /operator/register, POST /owner/register,
// POST /workload/configure, POST /workload/expose - plus the ambient
// /health, /ready, /metrics trio.
type IdentityServer struct {
	machine *identity.Machine
	mux     *http.ServeMux
}

// NewIdentityServer builds the mux for machine.
func NewIdentityServer(machine *identity.Machine) *IdentityServer {
	s := &IdentityServer{machine: machine, mux: http.NewServeMux()}

	s.mux.HandleFunc("GET /instance/pubkey", instrument("instance_pubkey", s.handlePubkey))
	s.mux.HandleFunc("POST /operator/register", instrument("operator_register", s.handleRegisterOperator))
	s.mux.HandleFunc("POST /owner/register", instrument("owner_register", s.handleRegisterOwner))
	s.mux.HandleFunc("POST /workload/configure", instrument("workload_configure", s.handleConfigureWorkload))
	s.mux.HandleFunc("POST /workload/expose", instrument("workload_expose", s.handleExposeWorkload))

	mountOps(s.mux, func() (bool, string) { return true, "" })
	return s
}

// ListenAndServe blocks serving on addr.
func (s *IdentityServer) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

func (s *IdentityServer) handlePubkey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		InstancePubkey []byte `json:"instance_pubkey"`
	}{InstancePubkey: s.machine.GetInstancePubkey()})
}

type registerOperatorRequest struct {
	OperatorPubkey []byte `json:"operator_pubkey"`
	Signature      []byte `json:"signature"`
}

func (s *IdentityServer) handleRegisterOperator(w http.ResponseWriter, r *http.Request) {
	var req registerOperatorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "config_invalid"})
		return
	}

	token, err := s.machine.RegisterOperator(r.Context(), req.OperatorPubkey, req.Signature)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		OwnerToken []byte `json:"owner_token"`
	}{OwnerToken: token})
}

type registerOwnerRequest struct {
	OwnerPubkey []byte `json:"owner_pubkey"`
	OwnerToken  []byte `json:"owner_token"`
	Signature   []byte `json:"signature"`
}

func (s *IdentityServer) handleRegisterOwner(w http.ResponseWriter, r *http.Request) {
	var req registerOwnerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "config_invalid"})
		return
	}

	if err := s.machine.RegisterOwner(r.Context(), req.OwnerPubkey, req.OwnerToken, req.Signature); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type configureWorkloadRequest struct {
	Descriptor types.WorkloadDescriptor `json:"descriptor"`
	Signature  []byte                   `json:"signature"`
}

func (s *IdentityServer) handleConfigureWorkload(w http.ResponseWriter, r *http.Request) {
	var req configureWorkloadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "config_invalid"})
		return
	}

	if err := s.machine.ConfigureWorkload(r.Context(), &req.Descriptor, req.Signature); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type exposeWorkloadRequest struct {
	Signature []byte `json:"signature"`
}

func (s *IdentityServer) handleExposeWorkload(w http.ResponseWriter, r *http.Request) {
	var req exposeWorkloadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "config_invalid"})
		return
	}

	if err := s.machine.ExposeWorkload(r.Context(), req.Signature); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
