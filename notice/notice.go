// Package notice selects the status notices shown to site administrators.
package notice

import (
	"slices"
	"time"
)

type Level string

const (
	LevelError   Level = "error"
	LevelSuccess Level = "success"
)

// StaleAfter is how long after the last served report a site is considered
// no longer managed.
const StaleAfter = 7 * 24 * time.Hour

const (
	ServiceURL  = "https://www.mythic-beasts.com/apps/wordpress"
	SupportLink = "mailto:support@mythic-beasts.com"
)

var (
	dashboardPages = []string{"index.php", "plugins.php", "update-core.php"}
	updatePages    = []string{"plugins.php", "update-core.php"}
)

type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
	Link    string `json:"link,omitempty"`
}

// Select returns the notices for an admin page given the last served report
// time in unix seconds. A lastQuery of zero means never queried.
func Select(lastQuery int64, now time.Time, page string) []Notice {
	if lastQuery == 0 {
		return []Notice{{
			Level: LevelError,
			Message: "This site is not currently managed. It may be you do not have Managed WordPress Hosting, " +
				"or the plugin was only just activated.",
			Link: ServiceURL,
		}}
	}

	last := time.Unix(lastQuery, 0)
	if now.Sub(last) >= StaleAfter {
		return []Notice{{
			Level: LevelError,
			Message: "This site is not currently managed. It was last checked on " + last.UTC().Format("2006-01-02") +
				". If this is unexpected, please contact support.",
			Link: SupportLink,
		}}
	}

	var out []Notice
	if slices.Contains(dashboardPages, page) {
		out = append(out, Notice{
			Level: LevelSuccess,
			Message: "This WordPress site is managed. Site security, upgrades, 24/7 monitoring and daily backups " +
				"are all handled automatically.",
			Link: SupportLink,
		})
	}
	if slices.Contains(updatePages, page) {
		out = append(out, Notice{
			Level: LevelError,
			Message: "WordPress upgrades are being handled automatically. We'll keep them up to date for you " +
				"and get in touch if there are any issues.",
		})
	}
	return out
}

