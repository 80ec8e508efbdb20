//go:build !linux

package worker

import "errors"

func setAffinity(int) error {
	return errors.New("thread affinity is not supported on this platform")
}
