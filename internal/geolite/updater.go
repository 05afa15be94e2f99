package geolite

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	CountryEdition = "GeoLite2-Country"
	userAgent      = "subgate-geolite-updater/1.0"
)

var (
	maxMindDownloadURL = "https://download.maxmind.com/app/geoip_download"

	updateGroup singleflight.Group
	httpClient  = &http.Client{Timeout: 2 * time.Minute}
)

var (
	// ErrNoAPIKey indicates that the GeoLite API key has not been configured.
	ErrNoAPIKey = errors.New("geolite: api key is not configured")
)

// UpdateDatabase downloads the country edition into the resolver's path,
// reloads it and publishes it to other instances when redis distribution is
// enabled. Concurrent calls share one download.
func UpdateDatabase(ctx context.Context, resolver *Resolver, apiKey string) (bool, error) {
	result, err, _ := updateGroup.Do("update", func() (interface{}, error) {
		apiKey := strings.TrimSpace(apiKey)
		if apiKey == "" {
			return false, ErrNoAPIKey
		}
		destPath := resolver.Path()
		if destPath == "" {
			return false, ErrNoDatabase
		}

		if err := downloadEdition(ctx, apiKey, CountryEdition, destPath); err != nil {
			return false, err
		}
		if err := resolver.Reload(destPath); err != nil {
			return false, fmt.Errorf("reload geolite: %w", err)
		}

		if err := PublishDatabase(ctx); err != nil && !errors.Is(err, errDistributionDisabled) {
			log.Warn("Failed to publish GeoLite database to redis", "error", err)
		}

		return true, nil
	})

	if err != nil {
		return false, err
	}

	updated, _ := result.(bool)
	return updated, nil
}

func downloadEdition(ctx context.Context, apiKey, edition, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, buildDownloadURL(apiKey, edition), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", edition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("download %s: unexpected status %d: %s", edition, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return extractDatabase(resp.Body, edition+".mmdb", destPath)
}

// extractDatabase copies the member named filename out of a tar.gz archive.
func extractDatabase(archive io.Reader, filename, destPath string) error {
	gzipReader, err := gzip.NewReader(archive)
	if err != nil {
		return fmt.Errorf("%s: open gzip: %w", filename, err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: read tar: %w", filename, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if filepath.Base(header.Name) != filename {
			continue
		}

		if err := writeToFile(destPath, tarReader); err != nil {
			return fmt.Errorf("%s: write file: %w", filename, err)
		}
		return nil
	}

	return fmt.Errorf("%s: mmdb file not found in archive", filename)
}

// writeToFile replaces destPath atomically through a temp file in the same
// directory.
func writeToFile(destPath string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), destPath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}

	return nil
}

func buildDownloadURL(apiKey, edition string) string {
	query := url.Values{}
	query.Set("edition_id", edition)
	query.Set("license_key", apiKey)
	query.Set("suffix", "tar.gz")
	return maxMindDownloadURL + "?" + query.Encode()
}
