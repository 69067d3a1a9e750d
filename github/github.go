// Package github harvests .deb artifacts from GitHub release assets.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Asset is one downloadable release artifact.
type Asset struct {
	Name        string
	Tag         string
	DownloadURL string
}

type release struct {
	ID      int64  `json:"id"`
	TagName string `json:"tag_name"`
	Assets  []struct {
		ID                 int64  `json:"id"`
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// apiBase is swappable in tests.
var apiBase = "https://api.github.com"

// ReleaseAssets lists the .deb assets across all releases of a repository,
// newest release first as the API returns them. The token is optional and
// only raises the API rate limit.
func ReleaseAssets(ctx context.Context, client *http.Client, owner, repo, token string) ([]Asset, error) {
	if client == nil {
		client = http.DefaultClient
	}

	url := fmt.Sprintf("%s/repos/%s/%s/releases", apiBase, owner, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "token "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github api status %d for %s/%s", resp.StatusCode, owner, repo)
	}

	var releases []release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("decoding releases: %w", err)
	}

	var assets []Asset
	for _, rel := range releases {
		for _, a := range rel.Assets {
			if !strings.HasSuffix(a.Name, ".deb") {
				continue
			}
			assets = append(assets, Asset{
				Name:        a.Name,
				Tag:         rel.TagName,
				DownloadURL: a.BrowserDownloadURL,
			})
		}
	}
	return assets, nil
}
