package insights

import (
	"strings"

	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
)

// AdName is the structured form of an ad's display name. Managed ads encode
// launch date, creator, creative and landing page as slash-separated segments;
// the landing page segment keys ledger lookups.
type AdName struct {
	LaunchDate      string
	Creator         string
	CreativeName    string
	LandingPageName string
}

// ParseAdName splits a managed ad display name. Names with fewer than four
// segments disqualify the ad from evaluation; the caller folds the error into
// a skip verdict rather than retrying.
func ParseAdName(name string) (AdName, error) {
	segments := strings.Split(strings.TrimSpace(name), "/")
	if len(segments) < 4 {
		return AdName{}, pkgerrors.New(pkgerrors.CodeDataQuality, "ad name missing segments").
			WithDetails(map[string]any{"ad_name": name, "segments": len(segments)})
	}

	return AdName{
		LaunchDate:      strings.TrimSpace(segments[0]),
		Creator:         strings.TrimSpace(segments[1]),
		CreativeName:    strings.TrimSpace(segments[2]),
		LandingPageName: strings.TrimSpace(segments[3]),
	}, nil
}
