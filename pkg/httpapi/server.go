// Package httpapi exposes a sdk.TeeVerifier over HTTP, mirroring the
// provider/model/verify surface the CLI also drives.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/Phala-Network/private-ai-verifier/pkg/sdk"
	"github.com/Phala-Network/private-ai-verifier/pkg/types"
)

// Server serves the attestation verification API.
type Server struct {
	verifier   *sdk.TeeVerifier
	logger     *zap.Logger
	httpServer *http.Server
}

// NewServer builds a Server bound to addr (e.g. ":8000").
func NewServer(verifier *sdk.TeeVerifier, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{verifier: verifier, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/providers", s.handleListProviders)
	mux.HandleFunc("/models", s.handleListModels)
	mux.HandleFunc("/fetch-report", s.handleFetchReport)
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/verify-model", s.handleVerifyModel)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	return s
}

// ListenAndServe starts serving requests and blocks until the server
// stops or errors.
func (s *Server) ListenAndServe() error {
	s.logger.Sugar().Infow("starting attestation verifier API", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Close stops the server.
func (s *Server) Close() error {
	return s.httpServer.Close()
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.verifier.ListProviders())
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	providerName := r.URL.Query().Get("provider")
	if providerName == "" {
		writeError(w, http.StatusBadRequest, "missing provider query parameter")
		return
	}
	models, err := s.verifier.ListModels(r.Context(), providerName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) handleFetchReport(w http.ResponseWriter, r *http.Request) {
	providerName := r.URL.Query().Get("provider")
	modelID := r.URL.Query().Get("model_id")
	if providerName == "" || modelID == "" {
		writeError(w, http.StatusBadRequest, "missing provider or model_id query parameter")
		return
	}
	report, err := s.verifier.FetchReport(r.Context(), providerName, modelID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var report types.AttestationReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid attestation report: "+err.Error())
		return
	}
	result := s.verifier.Verify(r.Context(), &report)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVerifyModel(w http.ResponseWriter, r *http.Request) {
	providerName := r.URL.Query().Get("provider")
	modelID := r.URL.Query().Get("model_id")
	if providerName == "" || modelID == "" {
		writeError(w, http.StatusBadRequest, "missing provider or model_id query parameter")
		return
	}
	result := s.verifier.VerifyModel(r.Context(), providerName, modelID)
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"detail": message})
}
