package update

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"dikta/log"
)

const (
	cacheFile     = "update_check.json"
	cacheTTL      = 24 * time.Hour
	checkInterval = 5 * time.Minute
)

// httpClient bounds every release-check request; background checks must
// never hang on a stalled connection.
var httpClient = &http.Client{Timeout: 15 * time.Second}

type ghRelease struct {
	TagName string    `json:"tag_name"`
	Assets  []ghAsset `json:"assets"`
}

type ghAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// resolve picks the platform binary and the checksums file out of the
// release's asset list.
func (g ghRelease) resolve() (*Release, error) {
	rel := &Release{Version: g.TagName}
	want := assetName()
	for _, a := range g.Assets {
		switch a.Name {
		case want:
			rel.AssetURL = a.BrowserDownloadURL
		case "checksums.txt":
			rel.ChecksumURL = a.BrowserDownloadURL
		}
	}
	if rel.AssetURL == "" {
		return nil, fmt.Errorf("no asset %q in release %s", want, g.TagName)
	}
	return rel, nil
}

// CheckLatest queries GitHub for the newest release. It returns nil when the
// running build is already current, or is a dev build that should never
// self-update.
func CheckLatest(currentVersion string) (*Release, error) {
	if currentVersion == "dev" {
		return nil, nil
	}

	url := fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", Repo)
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", BinaryName+"/"+currentVersion)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github api: %s", resp.Status)
	}

	var g ghRelease
	if err := json.NewDecoder(resp.Body).Decode(&g); err != nil {
		return nil, err
	}
	rel, err := g.resolve()
	if err != nil {
		return nil, err
	}
	if !rel.NewerThan(currentVersion) {
		return nil, nil
	}
	return rel, nil
}

// cachedCheck is the on-disk record of the last successful check. An empty
// Version means the check ran and found nothing newer.
type cachedCheck struct {
	Version     string    `json:"version"`
	AssetURL    string    `json:"asset_url"`
	ChecksumURL string    `json:"checksum_url"`
	CheckedAt   time.Time `json:"checked_at"`
}

func cachePath(cacheDir string) string {
	return filepath.Join(cacheDir, cacheFile)
}

func readCache(cacheDir string) (*Release, bool) {
	data, err := os.ReadFile(cachePath(cacheDir))
	if err != nil {
		return nil, false
	}
	var c cachedCheck
	if json.Unmarshal(data, &c) != nil {
		return nil, false
	}
	if time.Since(c.CheckedAt) > cacheTTL {
		return nil, false
	}
	if c.Version == "" {
		return nil, true
	}
	return &Release{Version: c.Version, AssetURL: c.AssetURL, ChecksumURL: c.ChecksumURL}, true
}

func writeCache(cacheDir string, rel *Release) {
	c := cachedCheck{CheckedAt: time.Now()}
	if rel != nil {
		c.Version = rel.Version
		c.AssetURL = rel.AssetURL
		c.ChecksumURL = rel.ChecksumURL
	}
	data, err := json.Marshal(c)
	if err != nil {
		return
	}
	_ = os.MkdirAll(cacheDir, 0755)
	_ = os.WriteFile(cachePath(cacheDir), data, 0644)
}

// CheckLatestCached is CheckLatest behind a day-long on-disk cache, so
// frequent launches do not hammer the GitHub API.
func CheckLatestCached(currentVersion, cacheDir string) (*Release, error) {
	if currentVersion == "dev" {
		return nil, nil
	}
	if rel, ok := readCache(cacheDir); ok {
		return rel, nil
	}
	rel, err := CheckLatest(currentVersion)
	if err != nil {
		return nil, err
	}
	writeCache(cacheDir, rel)
	return rel, nil
}

// StartBackgroundCheck polls for newer releases for the life of the process
// and invokes notify once per release found. Failures are logged when they
// first appear and retried on the next tick.
func StartBackgroundCheck(currentVersion, cacheDir string, notify func(Release)) {
	if currentVersion == "dev" {
		return
	}
	go pollLoop(currentVersion, cacheDir, notify)
}

func pollLoop(currentVersion, cacheDir string, notify func(Release)) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	var lastErr, notified string
	for {
		rel, err := CheckLatestCached(currentVersion, cacheDir)
		switch {
		case err != nil:
			if msg := err.Error(); msg != lastErr {
				log.Warnf("update check: %v", err)
				lastErr = msg
			}
		case rel != nil:
			lastErr = ""
			if rel.Version != notified {
				notified = rel.Version
				notify(*rel)
			}
		default:
			lastErr = ""
		}
		<-ticker.C
	}
}
