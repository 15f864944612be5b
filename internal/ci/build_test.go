package ci

import (
	"os"
	"path/filepath"
	"testing"
)

const testCommit = "0123456789abcdef0123456789abcdef01234567"

func TestImageTags(t *testing.T) {
	tags := ImageTags("123456789012.dkr.ecr.us-east-1.amazonaws.com", "team/app", testCommit, []string{"stable"})

	want := []string{
		"123456789012.dkr.ecr.us-east-1.amazonaws.com/team/app:latest",
		"123456789012.dkr.ecr.us-east-1.amazonaws.com/team/app:" + testCommit,
		"123456789012.dkr.ecr.us-east-1.amazonaws.com/team/app:stable",
	}
	if len(tags) != len(want) {
		t.Fatalf("ImageTags() = %v, want %v", tags, want)
	}
	for i := range want {
		if tags[i] != want[i] {
			t.Errorf("ImageTags()[%d] = %q, want %q", i, tags[i], want[i])
		}
	}
}

func TestImageTagsNoEndpoint(t *testing.T) {
	tags := ImageTags("", "app", testCommit, nil)
	if tags[0] != "app:latest" {
		t.Errorf("ImageTags()[0] = %q, want app:latest", tags[0])
	}
	if len(tags) != 2 {
		t.Errorf("len(tags) = %d, want 2", len(tags))
	}
}

func TestImageRefMatchesCommitTag(t *testing.T) {
	endpoint := "123456789012.dkr.ecr.us-east-1.amazonaws.com"
	ref := ImageRef(endpoint, "team/app", testCommit)
	tags := ImageTags(endpoint, "team/app", testCommit, nil)

	if ref != tags[1] {
		t.Errorf("ImageRef() = %q, not contained in tag set as %q", ref, tags[1])
	}
}

func TestResolveCacheDirsFirstBuild(t *testing.T) {
	root := t.TempDir()

	read, write, err := resolveCacheDirs(root, testCommit)
	if err != nil {
		t.Fatalf("resolveCacheDirs() error = %v", err)
	}
	if write != filepath.Join(root, testCommit) {
		t.Errorf("write = %q, want commit-keyed directory", write)
	}
	// No previous build means nothing to import.
	if read != "" {
		t.Errorf("read = %q, want empty on first build", read)
	}
}

func TestResolveCacheDirsFallback(t *testing.T) {
	root := t.TempDir()
	prev := "fedcba9876543210fedcba9876543210fedcba98"
	prevDir := filepath.Join(root, prev)
	if err := os.MkdirAll(prevDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(prevDir, "index.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := commitCacheLink(root, prev); err != nil {
		t.Fatalf("commitCacheLink() error = %v", err)
	}

	read, _, err := resolveCacheDirs(root, testCommit)
	if err != nil {
		t.Fatalf("resolveCacheDirs() error = %v", err)
	}
	resolved, err := filepath.EvalSymlinks(prevDir)
	if err != nil {
		t.Fatal(err)
	}
	if read != resolved {
		t.Errorf("read = %q, want fallback to %q", read, resolved)
	}
}

func TestResolveCacheDirsExactHit(t *testing.T) {
	root := t.TempDir()
	exact := filepath.Join(root, testCommit)
	if err := os.MkdirAll(exact, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(exact, "index.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	read, write, err := resolveCacheDirs(root, testCommit)
	if err != nil {
		t.Fatalf("resolveCacheDirs() error = %v", err)
	}
	if read != write {
		t.Errorf("read = %q, want exact hit %q", read, write)
	}
}

func TestCommitCacheLinkReplaces(t *testing.T) {
	root := t.TempDir()
	for _, sha := range []string{"aaaa", "bbbb"} {
		if err := os.MkdirAll(filepath.Join(root, sha), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := commitCacheLink(root, sha); err != nil {
			t.Fatalf("commitCacheLink(%s) error = %v", sha, err)
		}
	}

	target, err := os.Readlink(filepath.Join(root, lastCacheLink))
	if err != nil {
		t.Fatal(err)
	}
	if target != "bbbb" {
		t.Errorf("link target = %q, want bbbb", target)
	}
}
