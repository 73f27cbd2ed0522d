//go:build !unix

package reactor

import (
	"time"
)

func pollFDs([]int, []Events, time.Duration) ([]Events, error) {
	return nil, ErrUnsupported
}
