package serverclient

import "encoding/json"

// BasisRecord is the opaque-to-the-core persisted shape of a Basis. The
// core reads Name, ResourceID, and Path; Metadata is round-tripped
// unopened.
type BasisRecord struct {
	ResourceID string          `json:"resource_id"`
	Name       string          `json:"name"`
	Path       string          `json:"path"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// ProjectRecord is the opaque-to-the-core persisted shape of a Project. It
// additionally carries the resource IDs of its loaded Targets, matching
// the "records[].targets[]" field the core reads during LoadProject to
// eagerly load previously-known targets.
type ProjectRecord struct {
	ResourceID      string          `json:"resource_id"`
	BasisResourceID string          `json:"basis_resource_id"`
	Name            string          `json:"name"`
	Path            string          `json:"path"`
	Targets         []string        `json:"targets,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// TargetRecord is the opaque-to-the-core persisted shape of a Target. The
// connection attributes (Address/Port/User/KeyPath/Labels) are the
// supplemental fields pulled from original_source's host-inventory shape
// so a Target is concrete enough for the ssh-exec Command plugin to dial.
type TargetRecord struct {
	ResourceID        string            `json:"resource_id"`
	ProjectResourceID string            `json:"project_resource_id"`
	Name              string            `json:"name"`
	Address           string            `json:"address,omitempty"`
	Port              int               `json:"port,omitempty"`
	User              string            `json:"user,omitempty"`
	KeyPath           string            `json:"key_path,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	Metadata          json.RawMessage   `json:"metadata,omitempty"`
}
