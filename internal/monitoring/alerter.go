package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pressassoc/dateline/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSnapshotStale AlertType = "snapshot_stale"
	AlertSyncFailure   AlertType = "sync_failure"
	AlertDriftVolume   AlertType = "drift_volume"
)

// Alert is one threshold breach headed for the ops webhook.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns metric snapshots into alerts and delivers them over the
// configured webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client

	now func() time.Time // injectable for tests
}

// NewAlerter creates an Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate compares one metrics snapshot against the configured thresholds.
func (a *Alerter) Evaluate(m *MetricsSnapshot) []Alert {
	var alerts []Alert
	for _, check := range []func(*MetricsSnapshot) *Alert{
		a.snapshotAlert,
		a.syncAlert,
		a.driftAlert,
	} {
		if alert := check(m); alert != nil {
			alerts = append(alerts, *alert)
		}
	}
	return alerts
}

// snapshotAlert flags a missing snapshot always, a stale one only when an
// age threshold is configured.
func (a *Alerter) snapshotAlert(m *MetricsSnapshot) *Alert {
	if m.SnapshotMissing {
		return &Alert{
			Type:      AlertSnapshotStale,
			Severity:  "high",
			Message:   "no readable gazetteer snapshot is published; resolvers cannot start",
			Timestamp: a.now().UTC(),
		}
	}
	if a.cfg.MaxSnapshotAgeHours <= 0 || m.SnapshotAgeHours <= float64(a.cfg.MaxSnapshotAgeHours) {
		return nil
	}
	return &Alert{
		Type:     AlertSnapshotStale,
		Severity: "high",
		Message: fmt.Sprintf("gazetteer snapshot v%d is %.0fh old, past the %dh rebuild window",
			m.SnapshotVersion, m.SnapshotAgeHours, a.cfg.MaxSnapshotAgeHours),
		Details: map[string]any{
			"version":       m.SnapshotVersion,
			"age_hours":     m.SnapshotAgeHours,
			"max_age_hours": a.cfg.MaxSnapshotAgeHours,
		},
		Timestamp: a.now().UTC(),
	}
}

func (a *Alerter) syncAlert(m *MetricsSnapshot) *Alert {
	if m.SyncFailed == 0 {
		return nil
	}
	return &Alert{
		Type:     AlertSyncFailure,
		Severity: "high",
		Message: fmt.Sprintf("%d snapshot build(s) failed in the last %dh",
			m.SyncFailed, m.LookbackHours),
		Details: map[string]any{
			"failed_count": m.SyncFailed,
			"total_builds": m.SyncTotal,
		},
		Timestamp: a.now().UTC(),
	}
}

func (a *Alerter) driftAlert(m *MetricsSnapshot) *Alert {
	if a.cfg.DriftAlertCount <= 0 || m.DriftNames < a.cfg.DriftAlertCount {
		return nil
	}
	return &Alert{
		Type:     AlertDriftVolume,
		Severity: "medium",
		Message: fmt.Sprintf("%d names missed the published snapshot in the last %dh (%d unknown to the authority)",
			m.DriftNames, m.LookbackHours, m.DriftUnmatched),
		Details: map[string]any{
			"drift_names":     m.DriftNames,
			"drift_unmatched": m.DriftUnmatched,
			"hit_rate":        m.DriftHitRate,
		},
		Timestamp: a.now().UTC(),
	}
}

// SendAlerts posts each alert to the webhook and reports how many were
// delivered. Without a configured webhook the alerts are logged and counted
// as undelivered.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	delivered := 0
	for _, alert := range alerts {
		log := zap.L().With(
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		if a.cfg.WebhookURL == "" {
			log.Warn("alert triggered with no webhook configured",
				zap.String("message", alert.Message),
			)
			continue
		}
		if err := a.post(ctx, alert); err != nil {
			log.Error("alert delivery failed", zap.Error(err))
			continue
		}
		log.Info("alert delivered")
		delivered++
	}
	return delivered
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: encode alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post alert")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook status %d", resp.StatusCode)
	}
	return nil
}
