package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *RulesDatabase {
	t.Helper()
	rdb, err := NewRulesDatabase(filepath.Join(t.TempDir(), "data", "rules.db"))
	if err != nil {
		t.Fatalf("NewRulesDatabase: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRulesDatabase_SetAndList(t *testing.T) {
	rdb := openTestDB(t)
	ctx := context.Background()

	for _, r := range [][2]string{{"motd", "hello"}, {"discord", "example"}, {"region", "eu"}} {
		if err := rdb.SetRule(ctx, r[0], r[1]); err != nil {
			t.Fatalf("SetRule(%s): %v", r[0], err)
		}
	}
	if err := rdb.SetRule(ctx, "motd", "updated"); err != nil {
		t.Fatalf("SetRule update: %v", err)
	}

	rules, err := rdb.ListRules(ctx)
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	want := []struct{ name, value string }{
		{"motd", "updated"},
		{"discord", "example"},
		{"region", "eu"},
	}
	if len(rules) != len(want) {
		t.Fatalf("got %d rules, want %d", len(rules), len(want))
	}
	for i, w := range want {
		if rules[i].Name != w.name || rules[i].Value != w.value {
			t.Errorf("rule %d = %s=%s, want %s=%s", i, rules[i].Name, rules[i].Value, w.name, w.value)
		}
		if rules[i].UpdatedAt.IsZero() {
			t.Errorf("rule %d has zero updated_at", i)
		}
	}
}

func TestRulesDatabase_GetAndDelete(t *testing.T) {
	rdb := openTestDB(t)
	ctx := context.Background()

	if _, err := rdb.GetRule(ctx, "missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("GetRule missing: err = %v", err)
	}
	if err := rdb.SetRule(ctx, "motd", "hi"); err != nil {
		t.Fatal(err)
	}
	r, err := rdb.GetRule(ctx, "motd")
	if err != nil || r.Value != "hi" {
		t.Fatalf("GetRule = %+v, %v", r, err)
	}
	if err := rdb.DeleteRule(ctx, "motd"); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if err := rdb.DeleteRule(ctx, "motd"); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("second DeleteRule: err = %v", err)
	}
}

func TestRulesDatabase_InvalidName(t *testing.T) {
	rdb := openTestDB(t)
	for _, name := range []string{"", "a\x00b"} {
		if err := rdb.SetRule(context.Background(), name, "v"); !errors.Is(err, ErrInvalidRuleName) {
			t.Errorf("SetRule(%q) err = %v", name, err)
		}
	}
}

func TestRulesDatabase_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	rdb, err := NewRulesDatabase(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := rdb.SetRule(context.Background(), "persist", "yes"); err != nil {
		t.Fatal(err)
	}
	rdb.Close()

	rdb, err = NewRulesDatabase(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rdb.Close()
	r, err := rdb.GetRule(context.Background(), "persist")
	if err != nil || r.Value != "yes" {
		t.Fatalf("after reopen: %+v, %v", r, err)
	}
}
