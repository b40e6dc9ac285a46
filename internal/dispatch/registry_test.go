package dispatch

import (
	"context"
	"encoding/json"
	"testing"
)

func dummyHandler(ctx context.Context, tc *ToolContext, raw json.RawMessage) (any, error) {
	return nil, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()

	err := reg.Register(ToolDefinition{Name: "test.one"}, dummyHandler)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	def, handler, ok := reg.Get("test.one")
	if !ok {
		t.Fatal("expected tool to be found")
	}
	if def.Name != "test.one" {
		t.Errorf("expected name test.one, got %q", def.Name)
	}
	if handler == nil {
		t.Error("expected non-nil handler")
	}
}

func TestRegistryGetUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, _, ok := reg.Get("nonexistent")
	if ok {
		t.Fatal("expected unknown tool to not be found")
	}
}

func TestRegistryRegisterRejectsEmptyName(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(ToolDefinition{}, dummyHandler); err == nil {
		t.Fatal("expected error for empty tool name")
	}
}

func TestRegistryRegisterRejectsNilHandler(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(ToolDefinition{Name: "test.tool"}, nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestRegistryRegisterRejectsDuplicateName(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(ToolDefinition{Name: "test.tool"}, dummyHandler); err != nil {
		t.Fatalf("first registration failed: %v", err)
	}
	if err := reg.Register(ToolDefinition{Name: "test.tool"}, dummyHandler); err == nil {
		t.Fatal("expected error for duplicate registration")
	}
}

func TestRegistryMustRegisterPanicsOnDuplicate(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(ToolDefinition{Name: "test.tool"}, dummyHandler)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected MustRegister to panic on duplicate")
		}
	}()
	reg.MustRegister(ToolDefinition{Name: "test.tool"}, dummyHandler)
}

func TestRegistryListPreservesOrder(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(ToolDefinition{Name: "a"}, dummyHandler)
	reg.MustRegister(ToolDefinition{Name: "b"}, dummyHandler)
	reg.MustRegister(ToolDefinition{Name: "c"}, dummyHandler)

	defs := reg.List()
	if len(defs) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(defs))
	}
	want := []string{"a", "b", "c"}
	for i, name := range want {
		if defs[i].Name != name {
			t.Errorf("position %d: expected %q, got %q", i, name, defs[i].Name)
		}
	}
}
