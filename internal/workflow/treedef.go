// ABOUTME: YAML workflow-tree definitions (the static authoring format a run is instantiated from).
// ABOUTME: Grounded on the teacher's pipeline YAML loader (attractor/pipeline.go's stage/edge shape).
package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// TreeDefinition is the authoring format for a workflow tree: the static
// node/edge shape a run is instantiated from (§3's workflow_tree_id refers
// to one of these). It is intentionally flat YAML, mirroring the teacher's
// pipeline stage list rather than a nested tree.
type TreeDefinition struct {
	ID    string           `yaml:"id"`
	Nodes []TreeNodeDef     `yaml:"nodes"`
	Edges []TreeEdgeDef     `yaml:"edges"`
}

// TreeNodeDef authors one RunNode template. Role and Type default to
// "standard" and "agent" when omitted, the common case.
type TreeNodeDef struct {
	Key                  string `yaml:"key"`
	Role                 string `yaml:"role,omitempty"`
	Join                 string `yaml:"join,omitempty"` // for role=spawner: the key of its join node
	Type                 string `yaml:"type,omitempty"`
	Provider             string `yaml:"provider,omitempty"`
	Model                string `yaml:"model,omitempty"`
	MaxRetries           int    `yaml:"maxRetries,omitempty"`
	MaxChildren          int    `yaml:"maxChildren,omitempty"`
	ExecutionPermissions string `yaml:"executionPermissions,omitempty"`
	ErrorHandlerConfig   string `yaml:"errorHandlerConfig,omitempty"`
	Prompt               string `yaml:"prompt"`
	PromptContentType    string `yaml:"promptContentType,omitempty"`
}

// TreeEdgeDef authors one static RunEdge. RouteOn defaults to "success" and
// Auto defaults to true when no guard expression is given.
type TreeEdgeDef struct {
	From     string `yaml:"from"`
	To       string `yaml:"to"`
	RouteOn  string `yaml:"routeOn,omitempty"`
	Priority int    `yaml:"priority,omitempty"`
	Guard    string `yaml:"guard,omitempty"`
}

// ParseTreeDefinition parses a tree definition from YAML bytes and validates
// referential integrity (every edge endpoint names a declared node).
func ParseTreeDefinition(data []byte) (*TreeDefinition, error) {
	var def TreeDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse workflow tree: %w", err)
	}
	if def.ID == "" {
		return nil, NewErrInvalidRequest("workflow tree definition missing id")
	}
	if len(def.Nodes) == 0 {
		return nil, NewErrInvalidRequest("workflow tree definition has no nodes")
	}

	keys := make(map[string]bool, len(def.Nodes))
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.Key == "" {
			return nil, NewErrInvalidRequest("workflow tree node missing key")
		}
		if keys[n.Key] {
			return nil, NewErrInvalidRequest(fmt.Sprintf("duplicate node key %q", n.Key))
		}
		keys[n.Key] = true

		if n.Role == "" {
			n.Role = string(RoleStandard)
		}
		if n.Type == "" {
			n.Type = string(NodeTypeAgent)
		}
		if n.PromptContentType == "" {
			n.PromptContentType = "text/plain"
		}
		if n.MaxChildren == 0 && n.Role == string(RoleSpawner) {
			n.MaxChildren = 8
		}
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.Role != string(RoleSpawner) {
			continue
		}
		if n.Join == "" || !keys[n.Join] {
			return nil, NewErrInvalidRequest(fmt.Sprintf("spawner node %q must name a declared join node", n.Key))
		}
	}

	for i := range def.Edges {
		e := &def.Edges[i]
		if !keys[e.From] || !keys[e.To] {
			return nil, NewErrInvalidRequest(fmt.Sprintf("edge %s->%s references an undeclared node", e.From, e.To))
		}
		if e.RouteOn == "" {
			e.RouteOn = string(RouteSuccess)
		}
	}

	return &def, nil
}
