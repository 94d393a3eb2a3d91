// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package web

import (
	"net/http"

	"github.com/medauth/medauth/internal/policy"
)

func (s *Server) handlePolicy(w http.ResponseWriter, _ *http.Request) {
	rules := policy.Rules()
	out := policyResponse{
		Rules:             policy.Requirements(),
		RuleDetails:       make([]policyRuleResponse, 0, len(rules)),
		MinLength:         policy.MinLength,
		SpecialCharacters: policy.SpecialCharacters,
	}
	for _, rule := range rules {
		out.RuleDetails = append(out.RuleDetails, policyRuleResponse{Code: rule.Code, Requirement: rule.Requirement})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res := policy.Evaluate(req.Password, req.Username)
	writeJSON(w, http.StatusOK, evaluateResponse{
		Score:      res.Score,
		Label:      res.Label,
		Valid:      res.Valid(),
		Violations: res.Violations,
		Warnings:   res.Warnings,
	})
}
