//go:build windows

package export

import (
	"os"

	"github.com/hpungsan/callcoach/internal/errors"
)

// openFileNoFollow has no O_NOFOLLOW on Windows; ValidatePath already rejected symlinks.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return f, nil
}
