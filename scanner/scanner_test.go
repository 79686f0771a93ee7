package scanner

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"mythicwp/logger"
	"mythicwp/utils"

	"golang.org/x/time/rate"
)

var (
	phpPattern = regexp.MustCompile(`\.(php|php[s0-9]|phtml)$`)
	anyPattern = regexp.MustCompile(`.*`)
)

func init() {
	logger.Init("error")
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
}

func TestScanUploadsExample(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a/b/evil.php":         "<?php system($_GET['c']);",
		"c/not_matching.txt":   "hello",
		"2024/01/photo.jpg":    "jpeg",
		"2024/01/shell.phtml":  "<?php",
		"2024/01/backup.php5":  "<?php",
		"2024/01/notphp.php.x": "x",
	})

	res, err := Scan(context.Background(), root, phpPattern, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	got := res.Map()
	want := map[string]string{
		"a/b/evil.php":        md5Hex("<?php system($_GET['c']);"),
		"2024/01/shell.phtml": md5Hex("<?php"),
		"2024/01/backup.php5": md5Hex("<?php"),
	}
	if len(got) != len(want) {
		t.Fatalf("unexpected result: %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: got %q want %q", k, got[k], v)
		}
	}
}

func TestScanNonRecursiveReturnsDirectChildrenOnly(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"index.php":             "index",
		"wp-config.php":         "config",
		"readme.html":           "readme",
		"wp-admin/admin.php":    "admin",
		"wp-includes/load.php":  "load",
		"wp-content/plugin.php": "plugin",
	})

	flat, err := Scan(context.Background(), root, anyPattern, false)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	deep, err := Scan(context.Background(), root, anyPattern, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if flat.Len() != 3 {
		t.Fatalf("expected 3 direct children, got %v", flat.Map())
	}
	for path := range flat.Map() {
		if filepath.Dir(path) != "." {
			t.Fatalf("non-recursive scan returned nested path %s", path)
		}
		if _, ok := deep.Lookup(path); !ok {
			t.Fatalf("recursive result should contain %s", path)
		}
	}
	if deep.Len() != 6 {
		t.Fatalf("expected 6 files recursively, got %v", deep.Map())
	}
	for path := range deep.Map() {
		if filepath.IsAbs(path) {
			t.Fatalf("path should be relative: %s", path)
		}
	}
}

func TestScanPatternMatchesFullPath(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"index.php":    "i",
		"wp-login.php": "l",
		"wp-cron.txt":  "c",
		"xmlrpc.php":   "x",
	})
	pattern := regexp.MustCompile(`(^|/)(index\.php|wp-[^/]*\.php)$`)
	res, err := Scan(context.Background(), root, pattern, false)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Len() != 2 {
		t.Fatalf("unexpected entries: %v", res.Map())
	}
	if _, ok := res.Lookup("wp-login.php"); !ok {
		t.Fatal("expected wp-login.php")
	}
}

func TestScanNotADirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	if _, err := Scan(context.Background(), missing, anyPattern, true); !errors.Is(err, ErrNotADirectory) {
		t.Fatalf("expected ErrNotADirectory, got %v", err)
	}

	file := filepath.Join(t.TempDir(), "file.txt")
	writeTree(t, filepath.Dir(file), map[string]string{"file.txt": "x"})
	if _, err := Scan(context.Background(), file, anyPattern, true); !errors.Is(err, ErrNotADirectory) {
		t.Fatalf("expected ErrNotADirectory for a file, got %v", err)
	}

	empty := t.TempDir()
	res, err := Scan(context.Background(), empty, anyPattern, true)
	if err != nil {
		t.Fatalf("empty dir should not fail: %v", err)
	}
	if res.Len() != 0 {
		t.Fatalf("expected empty result, got %v", res.Map())
	}
	data, _ := json.Marshal(res)
	if string(data) != "{}" {
		t.Fatalf("expected {}, got %s", data)
	}
}

func TestScanDeterministicAndDetectsSingleByteChange(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.php":     "aaaa",
		"b/b.php":   "bbbb",
		"b/c/c.php": "cccc",
	})

	first, err := Scan(context.Background(), root, anyPattern, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	second, err := Scan(context.Background(), root, anyPattern, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Fatalf("rescan differs:\n%s\n%s", a, b)
	}

	writeTree(t, root, map[string]string{"b/b.php": "bbbc"})
	third, err := Scan(context.Background(), root, anyPattern, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	before, after := first.Map(), third.Map()
	for path, sum := range before {
		changed := after[path] != sum
		if changed != (path == "b/b.php") {
			t.Fatalf("unexpected change state for %s: before %s after %s", path, sum, after[path])
		}
	}
}

func TestScanSortedOutput(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"z.txt": "z", "a.txt": "a", "m/n.txt": "n"})
	res, err := Scan(context.Background(), root, anyPattern, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	data, _ := json.Marshal(res)
	want := `{"a.txt":"` + md5Hex("a") + `","m/n.txt":"` + md5Hex("n") + `","z.txt":"` + md5Hex("z") + `"}`
	if string(data) != want {
		t.Fatalf("got %s want %s", data, want)
	}
}

func TestScanUnreadableEntryKeepsMarker(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"ok.php": "ok"})
	if err := os.Symlink(filepath.Join(root, "gone.php"), filepath.Join(root, "dangling.php")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	res, err := Scan(context.Background(), root, phpPattern, true)
	if err != nil {
		t.Fatalf("scan should not abort: %v", err)
	}
	if sum, _ := res.Lookup("dangling.php"); sum != UnreadableMarker {
		t.Fatalf("expected marker for dangling link, got %q", sum)
	}
	if sum, _ := res.Lookup("ok.php"); sum != md5Hex("ok") {
		t.Fatalf("readable file should still be hashed, got %q", sum)
	}
	if res.Unreadable != 1 {
		t.Fatalf("expected 1 unreadable entry, got %d", res.Unreadable)
	}
}

func TestScanSymlinkCycleTerminates(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"theme/style.css": "css"})
	if err := os.Symlink(root, filepath.Join(root, "theme", "loop")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	outside := t.TempDir()
	writeTree(t, outside, map[string]string{"secret.txt": "s"})
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	res, err := Scan(context.Background(), root, anyPattern, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Len() != 1 {
		t.Fatalf("expected only theme/style.css, got %v", res.Map())
	}
}

func TestScannerOptions(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"plugin/main.php":        "main",
		"plugin/cache/page.html": "cached",
		"plugin/.git/HEAD":       "ref",
	})

	var seen []string
	s := New(Options{
		Exclude:  utils.NewPatternMatcher(nil, []string{"cache", `(^|/)\.git(/|$)`}),
		Limiter:  rate.NewLimiter(rate.Inf, 1),
		Progress: func(rel string) { seen = append(seen, rel) },
	})
	res, err := s.Scan(context.Background(), root, anyPattern, true)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Len() != 1 {
		t.Fatalf("expected excludes to apply, got %v", res.Map())
	}
	if len(seen) != 1 || seen[0] != "plugin/main.php" {
		t.Fatalf("unexpected progress calls: %v", seen)
	}
	if s.Hashed() != 1 {
		t.Fatalf("expected hashed counter 1, got %d", s.Hashed())
	}
	if s.Active() {
		t.Fatal("scanner should be idle once Scan returns")
	}
}

func TestScannerActiveDuringScan(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.php": "a", "b.php": "b"})

	var during []bool
	var s *Scanner
	s = New(Options{Progress: func(string) { during = append(during, s.Active()) }})
	if s.Active() {
		t.Fatal("new scanner should be idle")
	}
	if _, err := s.Scan(context.Background(), root, phpPattern, true); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(during) != 2 || !during[0] || !during[1] {
		t.Fatalf("expected scanner to report active while hashing, got %v", during)
	}
	if s.Active() {
		t.Fatal("scanner should be idle after Scan")
	}
}

func TestScanCancelled(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Scan(ctx, root, anyPattern, true); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
