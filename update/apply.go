package update

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Apply downloads rel, verifies it against the release checksums file, and
// atomically replaces the running executable.
func Apply(rel *Release) error {
	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("resolve symlinks: %w", err)
	}

	// The temp file lives next to the binary so the final rename stays on
	// one filesystem.
	tmpPath, sum, err := download(rel.AssetURL, filepath.Dir(execPath))
	if err != nil {
		return err
	}
	defer os.Remove(tmpPath)

	if rel.ChecksumURL != "" {
		if err := verifyChecksum(rel.ChecksumURL, sum); err != nil {
			return err
		}
	}
	if err := os.Chmod(tmpPath, 0755); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	return swap(execPath, tmpPath)
}

// download streams the asset into a temp file in dir, hashing as it writes,
// and returns the temp path and the hex SHA-256 of its contents.
func download(url, dir string) (path, sum string, err error) {
	tmp, err := os.CreateTemp(dir, ".dikta-update-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	resp, err := http.Get(url)
	if err != nil {
		return "", "", fmt.Errorf("download binary: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("download binary: %s", resp.Status)
	}

	hasher := sha256.New()
	src := io.Reader(io.TeeReader(resp.Body, hasher))
	if resp.ContentLength > 0 {
		src = &progressReader{r: src, total: resp.ContentLength}
	}
	if _, err = io.Copy(tmp, src); err != nil {
		return "", "", fmt.Errorf("write binary: %w", err)
	}
	if resp.ContentLength > 0 {
		fmt.Fprintln(os.Stderr)
	}
	return tmp.Name(), hex.EncodeToString(hasher.Sum(nil)), nil
}

// verifyChecksum fetches the published checksums and compares the entry for
// this platform's asset against the downloaded hash.
func verifyChecksum(url, sum string) error {
	want, err := publishedChecksum(url, assetName())
	if err != nil {
		return fmt.Errorf("fetch checksums: %w", err)
	}
	if sum != want {
		return fmt.Errorf("checksum mismatch: got %s, want %s", short(sum), short(want))
	}
	return nil
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// publishedChecksum scans "<hash>  <filename>" lines for the named file.
func publishedChecksum(url, filename string) (string, error) {
	resp, err := httpClient.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("checksums: %s", resp.Status)
	}

	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 2 && fields[1] == filename {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("no checksum for %s", filename)
}

// swap retires the running binary to .old, moves the new one into place,
// and rolls back if the install rename fails.
func swap(execPath, tmpPath string) error {
	oldPath := execPath + ".old"
	if err := os.Rename(execPath, oldPath); err != nil {
		return fmt.Errorf("backup current binary: %w", err)
	}
	if err := os.Rename(tmpPath, execPath); err != nil {
		_ = os.Rename(oldPath, execPath)
		return fmt.Errorf("install new binary: %w", err)
	}
	_ = os.Remove(oldPath)
	return nil
}

// progressReader prints a download progress line, at most every 100ms so a
// fast transfer does not flood the terminal.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	lastAt time.Time
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if now := time.Now(); now.Sub(p.lastAt) >= 100*time.Millisecond || p.read == p.total {
		p.lastAt = now
		pct := float64(p.read) / float64(p.total) * 100
		fmt.Fprintf(os.Stderr, "\r  %.0f%% (%d / %d KB)", pct, p.read/1024, p.total/1024)
	}
	return n, err
}
