package domain

import (
	"encoding/json"
	"testing"
)

func alertWith(labels map[string]string) Alert {
	return Alert{
		Status:      "firing",
		Labels:      labels,
		Annotations: map[string]string{"summary": "s"},
	}
}

func TestAlertIdentity(t *testing.T) {
	a := alertWith(map[string]string{"alertname": "HighCPU", "service": "billing", "severity": "critical"})
	b := alertWith(map[string]string{"severity": "critical", "service": "billing", "alertname": "HighCPU"})

	if a.Identity() != b.Identity() {
		t.Errorf("Identity must not depend on label map order: %q vs %q", a.Identity(), b.Identity())
	}

	c := alertWith(map[string]string{"alertname": "HighCPU", "service": "billing", "severity": "warning"})
	if a.Identity() == c.Identity() {
		t.Errorf("Alerts with different labels share identity %q", a.Identity())
	}

	d := alertWith(map[string]string{"alertname": "HighCPU", "service": "checkout", "severity": "critical"})
	if a.Identity() == d.Identity() {
		t.Error("Alerts for different services share an identity")
	}
}

func TestAlertIdentityShape(t *testing.T) {
	a := alertWith(map[string]string{"alertname": "DiskFull", "service": "storage"})

	id := a.Identity()
	const prefix = "DiskFull:storage:"
	if len(id) != len(prefix)+8 || id[:len(prefix)] != prefix {
		t.Errorf("Unexpected identity %q", id)
	}
}

func TestNewAlertGroupEncoding(t *testing.T) {
	a := alertWith(map[string]string{"alertname": "HighCPU", "service": "billing", "severity": "critical"})

	raw, err := json.Marshal(NewAlertGroup(a))
	if err != nil {
		t.Fatalf("Failed to marshal alert group: %v", err)
	}

	var got map[string]json.RawMessage
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Failed to unmarshal alert group: %v", err)
	}

	assertField := func(key, want string) {
		t.Helper()
		var v string
		if err := json.Unmarshal(got[key], &v); err != nil {
			t.Fatalf("Field %q: %v", key, err)
		}
		if v != want {
			t.Errorf("Field %q = %q, want %q", key, v, want)
		}
	}
	assertField("version", "4")
	assertField("receiver", "webhook-receiver")
	assertField("status", "firing")
	assertField("groupKey", `{}:{alertname="HighCPU"}`)
	assertField("externalURL", "")

	var groupLabels map[string]string
	if err := json.Unmarshal(got["groupLabels"], &groupLabels); err != nil {
		t.Fatalf("groupLabels: %v", err)
	}
	if len(groupLabels) != 1 || groupLabels["alertname"] != "HighCPU" {
		t.Errorf("groupLabels = %v, want only alertname", groupLabels)
	}

	var commonLabels map[string]string
	if err := json.Unmarshal(got["commonLabels"], &commonLabels); err != nil {
		t.Fatalf("commonLabels: %v", err)
	}
	if commonLabels["severity"] != "critical" || commonLabels["service"] != "billing" {
		t.Errorf("commonLabels = %v, want the alert's full label set", commonLabels)
	}

	var alerts []Alert
	if err := json.Unmarshal(got["alerts"], &alerts); err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Name() != "HighCPU" {
		t.Errorf("alerts = %+v, want the single source alert", alerts)
	}
}

func TestAlertAccessors(t *testing.T) {
	a := alertWith(map[string]string{"alertname": "HighCPU", "service": "billing", "severity": "critical"})
	if a.Name() != "HighCPU" || a.Service() != "billing" || a.Severity() != "critical" {
		t.Errorf("Unexpected accessors: %q %q %q", a.Name(), a.Service(), a.Severity())
	}

	empty := Alert{}
	if empty.Name() != "" || empty.Service() != "" || empty.Severity() != "" {
		t.Error("Accessors on an unlabeled alert must return empty strings")
	}
}
