// Package geoip downloads, refreshes and reads MaxMind GeoLite2 country databases.
package geoip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// EnsureDB checks if the GeoIP database exists at path and is younger than maxAge.
// A missing or outdated file is downloaded from url. An empty url only checks presence.
func EnsureDB(ctx context.Context, client *http.Client, path, url string, maxAge time.Duration) error {
	info, err := os.Stat(path)

	switch {
	case err == nil:
		if url == "" || time.Since(info.ModTime()) < maxAge {
			log.Debug().Str("path", path).Msg("GeoIP database is up to date")
			return nil
		}
		log.Info().Str("path", path).Msg("GeoIP database is outdated, updating")
	case os.IsNotExist(err):
		if url == "" {
			return err
		}
		log.Info().Str("path", path).Msg("GeoIP database missing, downloading")
	default:
		return err
	}

	if client == nil {
		client = http.DefaultClient
	}

	return downloadFile(ctx, client, path, url)
}

// downloadFile writes url to a temporary file next to path and renames it into place.
func downloadFile(ctx context.Context, client *http.Client, path, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}

	tmpPath := path + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	if err := out.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, path)
}
