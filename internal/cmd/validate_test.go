package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validDoc = `---
project_id: demo
---

## Task 1: Account object

**Type**: object

## Task 2: Billing service

**Type**: code
**Depends on**: 1
`

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestValidateDocumentsValid(t *testing.T) {
	path := writeDoc(t, "wbs.md", validDoc)

	var out bytes.Buffer
	if err := validateDocuments([]string{path}, &out); err != nil {
		t.Fatalf("validateDocuments error: %v", err)
	}
	if !strings.Contains(out.String(), "2 tasks") {
		t.Errorf("output = %q", out.String())
	}
	if !strings.Contains(out.String(), "data-model: 1 task(s)") {
		t.Errorf("phase summary missing: %q", out.String())
	}
}

func TestValidateDocumentsExpandsDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "wbs.md"), []byte(validDoc), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	var out bytes.Buffer
	if err := validateDocuments([]string{dir}, &out); err != nil {
		t.Fatalf("validateDocuments error: %v", err)
	}
	if !strings.Contains(out.String(), "wbs.md") {
		t.Errorf("output = %q", out.String())
	}
}

func TestValidateDocumentsInvalid(t *testing.T) {
	good := writeDoc(t, "good.md", validDoc)
	bad := writeDoc(t, "bad.md", "## Task 1: A\n\n**Type**: code\n**Depends on**: 9\n")

	var out bytes.Buffer
	err := validateDocuments([]string{good, bad}, &out)
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(out.String(), "unknown task") {
		t.Errorf("output = %q", out.String())
	}
}

func TestDecideRejectsBadInput(t *testing.T) {
	cmd := NewDecideCommand()
	cmd.SetArgs([]string{"e1", "styleguide", "approve"})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "unknown validation gate") {
		t.Errorf("error = %v", err)
	}

	cmd = NewDecideCommand()
	cmd.SetArgs([]string{"e1", "business-requirements", "maybe"})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "unknown decision") {
		t.Errorf("error = %v", err)
	}

	cmd = NewDecideCommand()
	cmd.SetArgs([]string{"e1", "business-requirements", "reject"})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "requires --notes") {
		t.Errorf("error = %v", err)
	}
}

func TestStartRejectsUnknownGate(t *testing.T) {
	cmd := NewStartCommand()
	cmd.SetArgs([]string{"demo", "--gate", "styleguide"})
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "unknown validation gate") {
		t.Errorf("error = %v", err)
	}
}
