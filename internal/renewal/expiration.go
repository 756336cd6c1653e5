// Package renewal decides when the VPS lease should be renewed.
package renewal

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/width"

	"vpsrenew/internal/logging"
)

// ExpirationLayout is the panel's timestamp format.
const ExpirationLayout = "2006-01-02 15:04"

var expirationPattern = regexp.MustCompile(`(\d{4}-\d{2}-\d{2})\s+(\d{2}:\d{2})`)

// ParseExpiration scans fragments in order and returns the first timestamp that
// both matches the panel format and is a real calendar time in loc.
// Look-alikes such as "2025-13-40 10:00" are logged and skipped.
func ParseExpiration(fragments []string, loc *time.Location) (*time.Time, bool) {
	if loc == nil {
		loc = time.Local
	}
	log := logging.Get(logging.CategoryRenewal)

	for i, fragment := range fragments {
		text := width.Fold.String(fragment)
		for _, m := range expirationPattern.FindAllStringSubmatch(text, -1) {
			ts, err := time.ParseInLocation(ExpirationLayout, m[1]+" "+m[2], loc)
			if err != nil {
				log.Warn("fragment %d: %q looks like an expiration but does not parse: %v", i, strings.TrimSpace(m[0]), err)
				continue
			}
			log.Debug("fragment %d: expiration %s", i, ts.Format(ExpirationLayout))
			return &ts, true
		}
	}
	return nil, false
}
