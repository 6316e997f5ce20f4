package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_EmptySourceReturnsNoURIs(t *testing.T) {
	uris, err := Load(context.Background(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(uris) != 0 {
		t.Errorf("expected no URIs, got %v", uris)
	}
}

func TestLoad_FileWithCommentsAndBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "restore-list.txt")
	content := "# pinned projects\nfile:///a.qgs\n\nfile:///b.qgs\n# trailing comment\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	uris, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"file:///a.qgs", "file:///b.qgs"}
	if len(uris) != len(want) {
		t.Fatalf("expected %v, got %v", want, uris)
	}
	for i, u := range want {
		if uris[i] != u {
			t.Errorf("uris[%d] = %q, want %q", i, uris[i], u)
		}
	}
}

func TestLoad_CommandSource(t *testing.T) {
	uris, err := Load(context.Background(), "cmd:printf 'file:///c.qgs\\n'")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(uris) != 1 || uris[0] != "file:///c.qgs" {
		t.Fatalf("expected [file:///c.qgs], got %v", uris)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(context.Background(), "/nonexistent/restore-list.txt")
	if err == nil {
		t.Fatal("expected error for missing restore list file")
	}
}

func TestIsRemote(t *testing.T) {
	cases := map[string]bool{
		"https://example.com/list.txt": true,
		"git::https://example.com/r":    true,
		"/local/path":                   false,
		"cmd:echo hi":                   false,
	}
	for src, want := range cases {
		if got := isRemote(src); got != want {
			t.Errorf("isRemote(%q) = %v, want %v", src, got, want)
		}
	}
}
