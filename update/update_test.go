package update

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestParseSemver(t *testing.T) {
	tests := []struct {
		input   string
		want    semver
		wantErr bool
	}{
		{"1.2.3", semver{1, 2, 3}, false},
		{"v0.1.5", semver{0, 1, 5}, false},
		{"v1.0.0-dirty", semver{1, 0, 0}, false},
		{"v2.3.4-rc1+build", semver{2, 3, 4}, false},
		{"dev", semver{}, true},
		{"", semver{}, true},
		{"1.2", semver{}, true},
	}

	for _, tt := range tests {
		got, err := parseSemver(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSemver(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("parseSemver(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestReleaseNewerThan(t *testing.T) {
	tests := []struct {
		release string
		current string
		want    bool
	}{
		{"v0.2.0", "v0.1.5", true},
		{"v0.1.5", "v0.1.5", false},
		{"v0.1.4", "v0.1.5", false},
		{"v1.0.0", "v0.9.9", true},
		{"v0.1.6", "v0.1.5-dirty", true},
		{"v0.1.5", "dev", false},
		{"invalid", "v0.1.5", false},
	}

	for _, tt := range tests {
		r := Release{Version: tt.release}
		got := r.NewerThan(tt.current)
		if got != tt.want {
			t.Errorf("Release{%q}.NewerThan(%q) = %v, want %v", tt.release, tt.current, got, tt.want)
		}
	}
}

func TestCacheWriteRead(t *testing.T) {
	dir := t.TempDir()

	// Write a release to cache
	rel := &Release{Version: "v0.2.0", AssetURL: "https://example.com/dikta", ChecksumURL: "https://example.com/checksums.txt"}
	writeCache(dir, rel)

	// Read it back
	got, ok := readCache(dir)
	if !ok {
		t.Fatal("readCache returned not ok")
	}
	if got == nil {
		t.Fatal("readCache returned nil release")
	}
	if got.Version != rel.Version || got.AssetURL != rel.AssetURL || got.ChecksumURL != rel.ChecksumURL {
		t.Errorf("readCache = %+v, want %+v", got, rel)
	}

	// Write nil (no update available)
	writeCache(dir, nil)
	got, ok = readCache(dir)
	if !ok {
		t.Fatal("readCache returned not ok for nil cache")
	}
	if got != nil {
		t.Errorf("readCache = %+v, want nil", got)
	}

	// Corrupt cache file
	_ = os.WriteFile(filepath.Join(dir, cacheFile), []byte("not json"), 0644)
	_, ok = readCache(dir)
	if ok {
		t.Error("readCache should return not ok for corrupt cache")
	}
}

func TestResolveAssets(t *testing.T) {
	g := ghRelease{
		TagName: "v0.3.0",
		Assets: []ghAsset{
			{Name: "checksums.txt", BrowserDownloadURL: "https://example.com/checksums.txt"},
			{Name: assetName(), BrowserDownloadURL: "https://example.com/bin"},
			{Name: "source.tar.gz", BrowserDownloadURL: "https://example.com/src"},
		},
	}
	rel, err := g.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rel.Version != "v0.3.0" || rel.AssetURL != "https://example.com/bin" || rel.ChecksumURL != "https://example.com/checksums.txt" {
		t.Errorf("resolve = %+v", rel)
	}

	g.Assets = g.Assets[:1] // checksums only, no platform binary
	if _, err := g.resolve(); err == nil {
		t.Error("resolve should fail when the platform asset is missing")
	}
}

func TestPublishedChecksum(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "aaaa1111  dikta_linux_amd64")
		fmt.Fprintln(w, "bbbb2222  dikta_darwin_arm64")
	}))
	defer srv.Close()

	sum, err := publishedChecksum(srv.URL, "dikta_darwin_arm64")
	if err != nil {
		t.Fatalf("publishedChecksum: %v", err)
	}
	if sum != "bbbb2222" {
		t.Errorf("sum = %q, want bbbb2222", sum)
	}

	if _, err := publishedChecksum(srv.URL, "dikta_windows_amd64"); err == nil {
		t.Error("publishedChecksum should fail for an unlisted file")
	}
}

func TestSwapReplacesBinary(t *testing.T) {
	dir := t.TempDir()
	cur := filepath.Join(dir, "dikta")
	tmp := filepath.Join(dir, ".dikta-update-1")
	if err := os.WriteFile(cur, []byte("old build"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tmp, []byte("new build"), 0755); err != nil {
		t.Fatal(err)
	}

	if err := swap(cur, tmp); err != nil {
		t.Fatalf("swap: %v", err)
	}
	data, err := os.ReadFile(cur)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "new build" {
		t.Errorf("binary contents = %q, want new build", data)
	}
	if _, err := os.Stat(cur + ".old"); !os.IsNotExist(err) {
		t.Error("backup .old file should be removed after a successful swap")
	}
	if _, err := os.Stat(tmp); !os.IsNotExist(err) {
		t.Error("temp file should be gone after a successful swap")
	}
}
