// Package update checks for a newer agent release.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ReleaseURL is the latest-release endpoint for the agent.
const ReleaseURL = "https://api.github.com/repos/mythic-beasts/mythic-wp/releases/latest"

type Release struct {
	Version string
	Notes   string
	Newer   bool
}

// Security reports whether the release notes mention a security fix.
func (r Release) Security() bool {
	return strings.Contains(strings.ToLower(r.Notes), "security")
}

type releaseInfo struct {
	TagName string `json:"tag_name"`
	Body    string `json:"body"`
}

// Check fetches the latest release from url and compares it with current.
// Development builds never report an update.
func Check(ctx context.Context, url, current string) (Release, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Release{}, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Release{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Release{}, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var info releaseInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Release{}, err
	}
	rel := Release{Version: strings.TrimPrefix(info.TagName, "v")}
	if current != "dev" && rel.Version != "" && rel.Version != strings.TrimPrefix(current, "v") {
		rel.Newer = true
		rel.Notes = info.Body
	}
	return rel, nil
}
