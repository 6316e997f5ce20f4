// Package restore implements the restore-list side of spec component
// C8: "At startup the supervisor loads a list of pinned project URIs
// from a restore list and, after the first child reports Idle, issues
// Checkout(pull=true) for each URI on each child. Subsequent children
// spawned for self-healing replay the current pinned set." The format
// is newline-delimited URIs with `#`-prefixed comments; the source may
// be a local file, the stdout of an external command ("cmd:..."), or
// (SPEC_FULL.md supplemented feature) a go-getter remote reference.
package restore

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/hashicorp/go-getter"

	"github.com/3liz/qjazz/pkg/apperror"
)

// remoteSchemes are the go-getter source prefixes that indicate
// worker.restore_projects_source names a remote reference rather than
// a local path or "cmd:" invocation — gated explicitly so a bare local
// path is never accidentally treated as a URL.
var remoteSchemes = []string{
	"http://", "https://", "git::", "git@", "s3::", "gcs::", "hg::",
}

// Load resolves source into its list of pinned project URIs.
// An empty source yields an empty list, not an error (restore is optional).
func Load(ctx context.Context, source string) ([]string, error) {
	if strings.TrimSpace(source) == "" {
		return nil, nil
	}

	switch {
	case strings.HasPrefix(source, "cmd:"):
		return loadFromCommand(ctx, strings.TrimPrefix(source, "cmd:"))
	case isRemote(source):
		return loadFromRemote(ctx, source)
	default:
		return loadFromFile(source)
	}
}

func isRemote(source string) bool {
	for _, p := range remoteSchemes {
		if strings.HasPrefix(source, p) {
			return true
		}
	}
	return false
}

func loadFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to open restore list file")
	}
	defer f.Close()
	return parse(f)
}

func loadFromCommand(ctx context.Context, command string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	out, err := cmd.Output()
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "restore list command failed")
	}
	return parse(strings.NewReader(string(out)))
}

// loadFromRemote fetches a single remote file via go-getter into a
// temp directory before parsing it, per SPEC_FULL.md's go-getter
// enrichment of the restore-list source.
func loadFromRemote(ctx context.Context, source string) ([]string, error) {
	dir, err := os.MkdirTemp("", "qjazzd-restore-*")
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to create temp dir for restore list fetch")
	}
	defer os.RemoveAll(dir)

	dst := dir + "/restore-list"
	client := &getter.Client{
		Ctx:  ctx,
		Src:  source,
		Dst:  dst,
		Mode: getter.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to fetch remote restore list")
	}
	return loadFromFile(dst)
}

func parse(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	var uris []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		uris = append(uris, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to read restore list")
	}
	return uris, nil
}
