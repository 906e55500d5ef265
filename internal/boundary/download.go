package boundary

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// sourceExts are the boundary formats readRecords understands, in the order
// they are preferred when an archive holds more than one.
var sourceExts = []string{".geojson", ".json", ".shp"}

// resolveSource returns a readable boundary file path. An existing local path
// wins; otherwise the URL is fetched into cacheDir.
func resolveSource(ctx context.Context, localPath, rawURL, cacheDir string) (string, error) {
	if localPath != "" {
		if info, err := os.Stat(localPath); err == nil && !info.IsDir() {
			return localPath, nil
		}
	}
	if rawURL == "" {
		return "", eris.Wrapf(ErrNotFound, "%s (download it from the ONS Open Geography Portal or set boundary.url)", localPath)
	}
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "wardseg")
	}
	return Fetch(ctx, http.DefaultClient, rawURL, cacheDir)
}

// Fetch downloads a boundary dataset into destDir, skipping the download when
// a non-empty copy is already cached. ZIP archives are extracted and the
// first boundary file inside is returned.
func Fetch(ctx context.Context, client *http.Client, rawURL, destDir string) (string, error) {
	log := zap.L().With(
		zap.String("component", "boundary.fetch"),
		zap.String("url", rawURL),
	)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrap(err, "boundary: create cache dir")
	}

	name, err := fileNameFromURL(rawURL)
	if err != nil {
		return "", err
	}

	var dest string
	if hasSourceExt(name) {
		dest = filepath.Join(destDir, name)
		if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
			log.Debug("boundary file cached, skipping download", zap.String("path", dest))
		} else {
			log.Info("downloading boundary file")
			if _, err := downloadFile(ctx, client, rawURL, dest); err != nil {
				return "", eris.Wrap(err, "boundary: download")
			}
		}
	} else {
		// API links such as .../items/<id>/geojson?layers=0 carry no
		// extension; the format comes from the response instead.
		base := name + "-" + urlKey(rawURL)
		if cached := findCached(destDir, base); cached != "" {
			log.Debug("boundary file cached, skipping download", zap.String("path", cached))
			dest = cached
		} else {
			log.Info("downloading boundary file")
			dest, err = downloadDetected(ctx, client, rawURL, filepath.Join(destDir, base))
			if err != nil {
				return "", err
			}
		}
	}

	if !strings.EqualFold(filepath.Ext(dest), ".zip") {
		return dest, nil
	}

	extractDir := strings.TrimSuffix(dest, filepath.Ext(dest))
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", eris.Wrap(err, "boundary: create extract dir")
	}
	if err := extractZIP(dest, extractDir); err != nil {
		return "", eris.Wrap(err, "boundary: extract ZIP")
	}

	for _, ext := range sourceExts {
		if p, err := findFileByExt(extractDir, ext); err == nil {
			return p, nil
		}
	}
	return "", eris.Errorf("boundary: no boundary file found in %s", extractDir)
}

// downloadDetected downloads rawURL next to base and renames it with the
// extension its headers or leading bytes indicate.
func downloadDetected(ctx context.Context, client *http.Client, rawURL, base string) (string, error) {
	tmp := base + ".part"
	header, err := downloadFile(ctx, client, rawURL, tmp)
	if err != nil {
		return "", eris.Wrap(err, "boundary: download")
	}

	ext, err := detectExt(tmp, header)
	if err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	dest := base + ext
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return "", eris.Wrap(err, "boundary: store download")
	}
	return dest, nil
}

// detectExt picks a file extension from Content-Disposition, then the
// leading bytes, then Content-Type.
func detectExt(path string, header http.Header) (string, error) {
	if _, params, err := mime.ParseMediaType(header.Get("Content-Disposition")); err == nil {
		if name := params["filename"]; hasSourceExt(name) {
			return strings.ToLower(filepath.Ext(name)), nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrap(err, "boundary: open download")
	}
	defer f.Close() //nolint:errcheck
	buf := make([]byte, 512)
	n, _ := io.ReadFull(f, buf)
	head := bytes.TrimLeft(bytes.TrimPrefix(buf[:n], []byte("\xef\xbb\xbf")), " \t\r\n")
	switch {
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return ".zip", nil
	case bytes.HasPrefix(head, []byte("{")):
		return ".geojson", nil
	}

	ct, _, _ := mime.ParseMediaType(header.Get("Content-Type"))
	switch {
	case ct == "application/zip" || ct == "application/x-zip-compressed":
		return ".zip", nil
	case strings.Contains(ct, "json"):
		return ".geojson", nil
	}
	return "", eris.Errorf("boundary: cannot determine format of download (content type %q)", header.Get("Content-Type"))
}

func hasSourceExt(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == ".zip" {
		return true
	}
	for _, e := range sourceExts {
		if ext == e {
			return true
		}
	}
	return false
}

// urlKey distinguishes cached downloads whose paths share a last segment,
// such as the same item requested with different layers.
func urlKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:12]
}

// findCached returns a non-empty cached download for base, whatever
// extension it was stored with.
func findCached(dir, base string) string {
	for _, ext := range append([]string{".zip"}, sourceExts...) {
		p := filepath.Join(dir, base+ext)
		if info, err := os.Stat(p); err == nil && info.Size() > 0 {
			return p
		}
	}
	return ""
}

func fileNameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", eris.Wrapf(err, "boundary: parse url %s", rawURL)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", eris.Errorf("boundary: cannot derive file name from %s", rawURL)
	}
	return name, nil
}

// downloadFile downloads a URL to a local file. A partial file is removed on
// failure so it is not mistaken for a cached copy.
func downloadFile(ctx context.Context, client *http.Client, rawURL, dest string) (header http.Header, err error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "build request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "download")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return nil, eris.Wrap(err, "create file")
	}
	defer func() {
		_ = f.Close()
		if err != nil {
			_ = os.Remove(dest)
		}
	}()

	if _, err = io.Copy(f, resp.Body); err != nil {
		return nil, eris.Wrap(err, "write file")
	}
	return resp.Header, nil
}

// extractZIP extracts a ZIP archive into destDir, flattening directories.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		destPath := filepath.Join(destDir, filepath.Base(f.Name))

		rc, err := f.Open()
		if err != nil {
			return eris.Wrapf(err, "open zip entry %s", f.Name)
		}

		outFile, err := os.Create(destPath)
		if err != nil {
			_ = rc.Close()
			return eris.Wrapf(err, "create %s", destPath)
		}

		if _, err := io.Copy(outFile, rc); err != nil {
			_ = outFile.Close()
			_ = rc.Close()
			return eris.Wrapf(err, "extract %s", f.Name)
		}
		_ = outFile.Close()
		_ = rc.Close()
	}

	return nil
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("no %s file found in %s", ext, dir)
}
