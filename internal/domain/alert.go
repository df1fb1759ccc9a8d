// Package domain contains core domain types for the RCA console.
package domain

import (
	"fmt"
	"hash/fnv"
	"sort"
	"time"
)

// Alert is a single firing or resolved condition reported by the
// monitoring source. Alerts are immutable once stored.
type Alert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	ReceivedAt  time.Time         `json:"receivedAt,omitzero"`
}

// Name returns the alertname label.
func (a Alert) Name() string {
	return a.Labels["alertname"]
}

// Service returns the service label.
func (a Alert) Service() string {
	return a.Labels["service"]
}

// Severity returns the severity label.
func (a Alert) Severity() string {
	return a.Labels["severity"]
}

// Identity returns the session identity for the alert: alertname, service,
// and a stable hash over the full label set. Two firing alerts that share a
// name but differ in any label get distinct identities and can be
// investigated independently.
func (a Alert) Identity() string {
	keys := make([]string, 0, len(a.Labels))
	for k := range a.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New32a()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(a.Labels[k]))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%s:%s:%08x", a.Name(), a.Service(), h.Sum32())
}

// AlertGroup is the Alertmanager v4 webhook envelope sent to the RCA
// backend to trigger an investigation.
type AlertGroup struct {
	Version           string            `json:"version"`
	GroupKey          string            `json:"groupKey"`
	Status            string            `json:"status"`
	Receiver          string            `json:"receiver"`
	GroupLabels       map[string]string `json:"groupLabels"`
	CommonLabels      map[string]string `json:"commonLabels"`
	CommonAnnotations map[string]string `json:"commonAnnotations"`
	ExternalURL       string            `json:"externalURL"`
	Alerts            []Alert           `json:"alerts"`
}

// NewAlertGroup packages a single alert into the wire shape the RCA
// trigger endpoint expects.
func NewAlertGroup(alert Alert) AlertGroup {
	return AlertGroup{
		Version:           "4",
		GroupKey:          fmt.Sprintf("{}:{alertname=%q}", alert.Name()),
		Status:            alert.Status,
		Receiver:          "webhook-receiver",
		GroupLabels:       map[string]string{"alertname": alert.Name()},
		CommonLabels:      alert.Labels,
		CommonAnnotations: alert.Annotations,
		ExternalURL:       "",
		Alerts:            []Alert{alert},
	}
}
