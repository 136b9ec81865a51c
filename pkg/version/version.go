package version

import (
	goversion "github.com/hashicorp/go-version"

	"github.com/sidkik/pairsync/pkg/errors"
)

// EmptyValue is the value we use when running a version that wasn't compiled
// by `make`. This is helpful for telling when we're running in a unit test.
const EmptyValue = "set-by-make"

// Version is the latest tag on git for releases. On non-release commits, it may
// include additional information such as the most recent commit hash.
var Version = EmptyValue

// Compatible returns whether peers running versions `a` and `b` can sync.
// The container format and token scheme only change in minor releases, so
// versions are compatible if their major and minor versions match.
// Development builds are compatible with everything.
func Compatible(a, b string) (bool, error) {
	if a == EmptyValue || b == EmptyValue {
		return true, nil
	}

	aVersion, err := goversion.NewVersion(a)
	if err != nil {
		return false, errors.WithContext(err, "parse version")
	}

	bVersion, err := goversion.NewVersion(b)
	if err != nil {
		return false, errors.WithContext(err, "parse version")
	}

	aSegments, bSegments := aVersion.Segments(), bVersion.Segments()
	return aSegments[0] == bSegments[0] && aSegments[1] == bSegments[1], nil
}
