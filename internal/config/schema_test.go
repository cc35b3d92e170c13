package config

import "testing"

func TestToRegistry_BuildsRegisteredTables(t *testing.T) {
	cfg := &Config{Schema: []TableSchema{
		{Table: "todos", Columns: []Column{
			{Name: "title", Type: "string"},
			{Name: "completed", Type: "boolean"},
		}},
	}}

	reg, err := cfg.ToRegistry()
	if err != nil {
		t.Fatalf("ToRegistry: %v", err)
	}
	ts, ok := reg.Get("todos")
	if !ok {
		t.Fatal("expected todos to be registered")
	}
	if !ts.HasColumn("title") || !ts.HasColumn("completed") {
		t.Fatalf("missing expected columns: %+v", ts)
	}
}

func TestToRegistry_RejectsUnknownColumnType(t *testing.T) {
	cfg := &Config{Schema: []TableSchema{
		{Table: "todos", Columns: []Column{{Name: "title", Type: "bogus"}}},
	}}

	if _, err := cfg.ToRegistry(); err == nil {
		t.Fatal("expected an error for an unknown column type")
	}
}
