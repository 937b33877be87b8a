package util

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrNoRelease is returned when the release endpoint reports no tag.
var ErrNoRelease = errors.New("no release tag published")

const defaultUpdateTimeout = 10 * time.Second

// Release is the subset of the GitHub release document used by the checker.
type Release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
	Name    string `json:"name"`
}

// Version returns the tag with a leading "v" removed.
func (r Release) Version() string {
	return strings.TrimPrefix(strings.TrimSpace(r.TagName), "v")
}

// Updater checks a GitHub "latest release" endpoint against the running version.
type Updater struct {
	releaseURL string
	current    string
	client     *http.Client
}

// NewUpdater creates a new updater for the given release URL.
func NewUpdater(releaseURL, currentVersion string) *Updater {
	return &Updater{
		releaseURL: releaseURL,
		current:    strings.TrimPrefix(currentVersion, "v"),
		client:     &http.Client{Timeout: defaultUpdateTimeout},
	}
}

// CurrentVersion returns the running version without a "v" prefix.
func (u *Updater) CurrentVersion() string {
	return u.current
}

// Latest fetches the latest release document.
func (u *Updater) Latest(ctx context.Context) (Release, error) {
	var rel Release

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.releaseURL, nil)
	if err != nil {
		return rel, fmt.Errorf("failed to build release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", AppName+"/"+u.current)

	resp, err := u.client.Do(req)
	if err != nil {
		return rel, fmt.Errorf("failed to fetch release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rel, fmt.Errorf("release endpoint returned %s", resp.Status)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rel); err != nil {
		return rel, fmt.Errorf("failed to decode release: %w", err)
	}
	if rel.Version() == "" {
		return rel, ErrNoRelease
	}
	return rel, nil
}

// CheckForUpdate reports whether the latest published version differs from
// the running one. Any difference counts, not only newer versions.
func (u *Updater) CheckForUpdate(ctx context.Context) (bool, Release, error) {
	rel, err := u.Latest(ctx)
	if err != nil {
		return false, rel, err
	}
	return rel.Version() != u.current, rel, nil
}
