//go:build !linux

package rtask

import (
	"errors"
	"time"
)

var stubEpoch = time.Now()

func readMonotonic() (int64, error) {
	return int64(time.Since(stubEpoch)), nil
}

func waitAbsolute(deadline int64) error {
	now := int64(time.Since(stubEpoch))
	if d := deadline - now; d > 0 {
		time.Sleep(time.Duration(d))
	}
	return nil
}

func applyRealtime(priority int) error {
	return errors.New("real-time scheduling unsupported on this platform")
}

func releaseRealtime() {}
