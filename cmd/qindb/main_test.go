package main

import (
	"path/filepath"
	"testing"
)

func TestRunExecutesOneShotSQL(t *testing.T) {
	dir := t.TempDir()
	args := []string{
		"-data", dir,
		"-config", filepath.Join(dir, "missing.yaml"),
		"-cmd", "SHOW DATABASES;",
	}
	if err := run(args); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunRejectsServerFlag(t *testing.T) {
	dir := t.TempDir()
	err := run([]string{"-data", dir, "-server"})
	if err == nil {
		t.Fatalf("expected -server to be rejected without a transport")
	}
}

func TestSplitStatementsKeepsQuotedSemicolons(t *testing.T) {
	stmts := splitStatements(`INSERT INTO t VALUES ('a;b'); SELECT 1;`)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d: %+v", len(stmts), stmts)
	}
}
