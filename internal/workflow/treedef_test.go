// ABOUTME: Tests for YAML tree-definition parsing and its validation/defaulting rules.
package workflow

import "testing"

func TestParseTreeDefinitionBasic(t *testing.T) {
	data := []byte(`
id: review-tree
nodes:
  - key: draft
    prompt: write a first draft
  - key: review
    prompt: review the draft
edges:
  - from: draft
    to: review
`)
	def, err := ParseTreeDefinition(data)
	if err != nil {
		t.Fatalf("ParseTreeDefinition: %v", err)
	}
	if def.ID != "review-tree" {
		t.Errorf("expected id 'review-tree', got %q", def.ID)
	}
	if len(def.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(def.Nodes))
	}
	if def.Nodes[0].Role != "standard" {
		t.Errorf("expected default role 'standard', got %q", def.Nodes[0].Role)
	}
	if def.Nodes[0].Type != "agent" {
		t.Errorf("expected default type 'agent', got %q", def.Nodes[0].Type)
	}
	if def.Nodes[0].PromptContentType != "text/plain" {
		t.Errorf("expected default prompt content type 'text/plain', got %q", def.Nodes[0].PromptContentType)
	}
	if len(def.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(def.Edges))
	}
	if def.Edges[0].RouteOn != "success" {
		t.Errorf("expected default routeOn 'success', got %q", def.Edges[0].RouteOn)
	}
}

func TestParseTreeDefinitionRejectsEmptyID(t *testing.T) {
	data := []byte(`
nodes:
  - key: a
`)
	if _, err := ParseTreeDefinition(data); err == nil {
		t.Error("expected an error for a tree definition with no id")
	}
}

func TestParseTreeDefinitionRejectsNoNodes(t *testing.T) {
	data := []byte(`id: empty-tree`)
	if _, err := ParseTreeDefinition(data); err == nil {
		t.Error("expected an error for a tree definition with no nodes")
	}
}

func TestParseTreeDefinitionRejectsDuplicateNodeKeys(t *testing.T) {
	data := []byte(`
id: dup-tree
nodes:
  - key: a
  - key: a
`)
	if _, err := ParseTreeDefinition(data); err == nil {
		t.Error("expected an error for duplicate node keys")
	}
}

func TestParseTreeDefinitionSpawnerRequiresJoin(t *testing.T) {
	data := []byte(`
id: spawner-tree
nodes:
  - key: spawner
    role: spawner
`)
	if _, err := ParseTreeDefinition(data); err == nil {
		t.Error("expected an error: a spawner node must name a join node")
	}
}

func TestParseTreeDefinitionSpawnerDefaultsMaxChildren(t *testing.T) {
	data := []byte(`
id: spawner-tree
nodes:
  - key: spawner
    role: spawner
    join: j
  - key: j
    role: join
`)
	def, err := ParseTreeDefinition(data)
	if err != nil {
		t.Fatalf("ParseTreeDefinition: %v", err)
	}
	if def.Nodes[0].MaxChildren != 8 {
		t.Errorf("expected default MaxChildren=8, got %d", def.Nodes[0].MaxChildren)
	}
}

func TestParseTreeDefinitionRejectsEdgeToUnknownNode(t *testing.T) {
	data := []byte(`
id: bad-edge-tree
nodes:
  - key: a
edges:
  - from: a
    to: missing
`)
	if _, err := ParseTreeDefinition(data); err == nil {
		t.Error("expected an error for an edge referencing an undeclared node")
	}
}
