package opstate

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "opstate_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// pureGoStore opens the store through the pure-Go driver.
func pureGoStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pure.db"))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	s, err := NewFromDB(db)
	if err != nil {
		db.Close()
		t.Fatalf("NewFromDB: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := testStore(t)

	val, err := s.Get("ns", "missing")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if val != "" {
		t.Errorf("Get() = %q, want empty string for missing key", val)
	}
}

func TestSetUpsert(t *testing.T) {
	for name, open := range map[string]func(*testing.T) *Store{
		"cgo":  testStore,
		"pure": pureGoStore,
	} {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			if err := s.Set("ns", "key", "v1"); err != nil {
				t.Fatalf("Set(v1) error: %v", err)
			}
			if err := s.Set("ns", "key", "v2"); err != nil {
				t.Fatalf("Set(v2) error: %v", err)
			}

			val, err := s.Get("ns", "key")
			if err != nil {
				t.Fatalf("Get() error: %v", err)
			}
			if val != "v2" {
				t.Errorf("Get() = %q, want %q after upsert", val, "v2")
			}
		})
	}
}

func TestDelete(t *testing.T) {
	s := testStore(t)

	if err := s.Set("ns", "key", "val"); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := s.Delete("ns", "key"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := s.Delete("ns", "nope"); err != nil {
		t.Errorf("Delete(missing) error: %v", err)
	}

	val, err := s.Get("ns", "key")
	if err != nil {
		t.Fatalf("Get() after delete error: %v", err)
	}
	if val != "" {
		t.Errorf("Get() = %q after delete, want empty", val)
	}
}

func TestList(t *testing.T) {
	s := pureGoStore(t)

	for k, v := range map[string]string{"a": "1", "b": "2"} {
		if err := s.Set("ns", k, v); err != nil {
			t.Fatalf("Set(%s) error: %v", k, err)
		}
	}
	if err := s.Set("other", "c", "3"); err != nil {
		t.Fatalf("Set(other) error: %v", err)
	}

	result, err := s.List("ns")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(result) != 2 || result["a"] != "1" || result["b"] != "2" {
		t.Errorf("List() = %v, want {a:1, b:2}", result)
	}

	empty, err := s.List("empty")
	if err != nil {
		t.Fatalf("List(empty) error: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("List(empty) = %v, want empty non-nil map", empty)
	}
}

func TestActiveModel_PersistAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "persist_test.db")

	s1, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(1): %v", err)
	}
	if got, _ := s1.ActiveModel(); got != "" {
		t.Errorf("ActiveModel on fresh store = %q, want empty", got)
	}
	if err := s1.SetActiveModel("Mistral:7b"); err != nil {
		t.Fatalf("SetActiveModel: %v", err)
	}
	s1.Close()

	s2, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(2): %v", err)
	}
	defer s2.Close()

	got, err := s2.ActiveModel()
	if err != nil {
		t.Fatalf("ActiveModel: %v", err)
	}
	if got != "Mistral:7b" {
		t.Errorf("ActiveModel = %q after reopen, want %q", got, "Mistral:7b")
	}
}

func TestNewStore_InvalidPath(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "db.sqlite")
	if _, err := NewStore(dbPath); err == nil {
		t.Error("NewStore() should fail when parent directory doesn't exist")
	}
}
