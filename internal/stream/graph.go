package stream

import (
	"encoding/json"
)

// GraphSnapshot is a service-dependency structure extracted from a
// narrative payload: one or more services with their upstream and
// downstream neighbors. Snapshots are replaced wholesale, never merged.
type GraphSnapshot struct {
	Services []ServiceGraph `json:"services"`
}

// ServiceGraph describes one service and its immediate neighbors.
type ServiceGraph struct {
	Current    ServiceNode   `json:"current"`
	Upstream   []ServiceNode `json:"upstream"`
	Downstream []ServiceNode `json:"downstream"`
}

// ServiceNode is a single service in the dependency graph.
type ServiceNode struct {
	Name       string         `json:"name"`
	K8s        K8sMetadata    `json:"k8s"`
	Operation  string         `json:"operation,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// K8sMetadata locates a service inside the cluster.
type K8sMetadata struct {
	Namespace string `json:"namespace"`
	OwnerKind string `json:"owner_kind"`
	OwnerName string `json:"owner_name"`
	OwnerUID  string `json:"owner_uid"`
}

// ExtractGraph recognizes an embedded graph document in a narrative
// payload. It succeeds only when the text is JSON with a non-empty
// services array. Most narrative messages are plain prose, so absence of
// a graph is an expected, silent outcome.
func ExtractGraph(text string) (GraphSnapshot, bool) {
	var snap GraphSnapshot
	if err := json.Unmarshal([]byte(text), &snap); err != nil {
		return GraphSnapshot{}, false
	}
	if len(snap.Services) == 0 {
		return GraphSnapshot{}, false
	}
	return snap, true
}
