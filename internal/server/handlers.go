package server

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/enjoyfamily583-dotcom/newredirect/api/schemas"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/classify"
	"github.com/enjoyfamily583-dotcom/newredirect/internal/verdict"
)

//go:embed pages/gate.html
var gatePage string

//go:embed pages/blocked.html
var blockedPage string

const assetPlaceholder = "%DETECTOR_SRC%"

// handleGate serves the interstitial. Hard-blocked visitors get the same
// page with no script reference and the same 200, so probing the response
// teaches an automated caller nothing.
func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	result := s.classifier.Inspect(classify.FromHTTP(r, ip))
	if result.HardBlock {
		s.log.Info("Hard blocked visitor",
			zap.String("ip", ip),
			zap.Int("score", result.Score.Total()),
			zap.Strings("signals", result.Score.Names()),
		)
		s.servePage(w, blockedPage)
		return
	}

	script, err := s.scripts.Issue()
	if err != nil {
		s.log.Error("Issuing detector script failed", zap.Error(err))
		s.servePage(w, blockedPage)
		return
	}
	s.servePage(w, strings.Replace(gatePage, assetPlaceholder, "/assets/"+script.Name, 1))
}

func (s *Server) servePage(w http.ResponseWriter, page string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(page)); err != nil {
		s.log.Debug("Writing page failed", zap.Error(err))
	}
}

func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "asset")
	script, ok := s.scripts.Lookup(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(script.Body); err != nil {
		s.log.Debug("Writing asset failed", zap.Error(err))
	}
}

func (s *Server) handleVerifyHuman(w http.ResponseWriter, r *http.Request) {
	var req schemas.VerifyHumanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Fingerprint == nil || req.Behaviors == nil {
		s.writeError(w, http.StatusBadRequest, "fingerprint and behaviors are required")
		return
	}

	ip := clientIP(r)
	inspection := s.classifier.Inspect(classify.FromHTTP(r, ip))
	decision := s.engine.Decide(inspection.Score, verdict.Submission{
		Fingerprint: req.Fingerprint,
		Behaviors:   req.Behaviors,
		ClientScore: req.ClientScore,
		Signals:     req.Signals,
		Checks:      req.Checks,
		URLParams:   req.URLParams,
	}, ip)

	resp := schemas.VerifyHumanResponse{
		Allowed: decision.Allowed,
		Verdict: string(decision.Verdict),
		Score:   decision.Score,
		Signals: decision.Signals,
	}
	if decision.RedirectURL != "" {
		resp.RedirectURL = &decision.RedirectURL
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := s.pow.Issue()
	if err != nil {
		s.log.Error("Issuing challenge failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "challenge generation failed")
		return
	}
	s.writeJSON(w, http.StatusOK, schemas.ChallengeResponse{
		Challenge:  challenge.Token,
		Difficulty: challenge.Difficulty,
		Timestamp:  challenge.IssuedAt,
	})
}

func (s *Server) handleVerifyPow(w http.ResponseWriter, r *http.Request) {
	var req schemas.PowVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Challenge == nil || req.Nonce == nil || req.Timestamp == nil {
		s.writeError(w, http.StatusBadRequest, "challenge, nonce and timestamp are required")
		return
	}

	valid, reason := s.pow.Verify(*req.Challenge, *req.Nonce, *req.Timestamp)
	s.writeJSON(w, http.StatusOK, schemas.PowVerifyResponse{Valid: valid, Reason: reason})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("Encoding response failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, schemas.ErrorResponse{Error: msg})
}
