// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MedAuth Contributors

package auth

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts authentication events. A nil *Metrics records nothing.
type Metrics struct {
	logins          *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	revocations     *prometheus.CounterVec
	passwordChanges *prometheus.CounterVec
}

// NewMetrics creates and registers the auth counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medauth_logins_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medauth_token_refreshes_total",
			Help: "Refresh token rotations by outcome",
		}, []string{"outcome"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medauth_session_revocations_total",
			Help: "Sessions removed by reason",
		}, []string{"reason"}),
		passwordChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medauth_password_changes_total",
			Help: "Password changes by method",
		}, []string{"method"}),
	}
	reg.MustRegister(m.logins, m.refreshes, m.revocations, m.passwordChanges)
	return m
}

func (m *Metrics) login(outcome string) {
	if m != nil {
		m.logins.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) refresh(outcome string) {
	if m != nil {
		m.refreshes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) revoked(reason string, n int64) {
	if m != nil && n > 0 {
		m.revocations.WithLabelValues(reason).Add(float64(n))
	}
}

func (m *Metrics) passwordChanged(method string) {
	if m != nil {
		m.passwordChanges.WithLabelValues(method).Inc()
	}
}
