package update

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// maxJSONResponseBytes bounds the release metadata response size.
const maxJSONResponseBytes = 10 << 20

// githubRelease is the JSON wire format of a "latest release" response.
type githubRelease struct {
	TagName     string        `json:"tag_name"`
	Name        string        `json:"name"`
	Body        string        `json:"body"`
	HTMLURL     string        `json:"html_url"`
	PublishedAt string        `json:"published_at"`
	ZipballURL  string        `json:"zipball_url"`
	TarballURL  string        `json:"tarball_url"`
	Assets      []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// ReleaseResolver queries the release metadata endpoint.
type ReleaseResolver struct {
	metadataURL string
	fallbackURL string
	httpClient  *http.Client
	token       string
	userAgent   string
	timeout     time.Duration
	logger      *log.Logger
}

// NewReleaseResolver creates a resolver for metadataURL. fallbackURL is the
// artifact offered when metadata is unobtainable.
func NewReleaseResolver(metadataURL, fallbackURL string, opts ...Option) *ReleaseResolver {
	o := buildOptions(opts)
	return &ReleaseResolver{
		metadataURL: metadataURL,
		fallbackURL: fallbackURL,
		httpClient:  o.httpClient,
		token:       o.token,
		userAgent:   o.userAgent,
		timeout:     o.timeout,
		logger:      o.logger,
	}
}

// Resolve compares the latest release against current. It never fails: when
// the request fails, times out, returns a non-success status or an unusable
// body, a degraded result reporting an available "latest" release is
// returned instead.
func (r *ReleaseResolver) Resolve(ctx context.Context, current string) *VersionInfo {
	current = NormalizeVersion(current)

	release, err := r.fetch(ctx)
	if err != nil {
		r.logger.Warn("release metadata unavailable, assuming update available", "err", err)
		return r.degraded(current)
	}

	tag := release.TagName
	if strings.TrimSpace(tag) == "" {
		tag = release.Name
	}
	remote := NormalizeVersion(tag)
	if remote == "" {
		r.logger.Warn("release metadata has no version tag, assuming update available")
		return r.degraded(current)
	}

	info := &VersionInfo{
		Available:      remote != current,
		CurrentVersion: current,
		RemoteVersion:  remote,
		DownloadURL:    r.artifactURL(release),
		ReleaseNotes:   release.Body,
		ReleaseURL:     release.HTMLURL,
		Newer:          IsNewer(remote, current),
	}
	if t, err := time.Parse(time.RFC3339, release.PublishedAt); err == nil {
		info.PublishedAt = &t
	}

	r.logger.Debug("release resolved", "current", current, "remote", remote, "available", info.Available)
	return info
}

func (r *ReleaseResolver) degraded(current string) *VersionInfo {
	return &VersionInfo{
		Available:      true,
		CurrentVersion: current,
		RemoteVersion:  LatestSentinel,
		DownloadURL:    r.fallbackURL,
		Degraded:       true,
	}
}

// artifactURL picks the source archive, then the first archive asset, then
// the static fallback.
func (r *ReleaseResolver) artifactURL(release *githubRelease) string {
	if release.ZipballURL != "" {
		return release.ZipballURL
	}
	for _, a := range release.Assets {
		name := strings.ToLower(a.Name)
		if a.BrowserDownloadURL != "" && (strings.HasSuffix(name, ".zip") || strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz")) {
			return a.BrowserDownloadURL
		}
	}
	if release.TarballURL != "" {
		return release.TarballURL
	}
	return r.fallbackURL
}

func (r *ReleaseResolver) fetch(ctx context.Context) (*githubRelease, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.metadataURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", r.userAgent)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release metadata %s: unexpected status %d", redactURL(r.metadataURL), resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&release); err != nil {
		return nil, fmt.Errorf("decoding release metadata: %w", err)
	}
	return &release, nil
}

// redactURL strips query parameters and fragments for safe logging.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil
	return u.String()
}
