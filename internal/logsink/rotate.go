package logsink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

const (
	rotationLayout      = "20060102-150405"
	maxRotationSuffixes = 99
)

var errNoRotationName = errors.New("no free rotation name")

// rotate moves the current file aside and reopens a fresh one. If the fresh
// file cannot be opened the sink stops writing for good.
func (s *Sink) rotate() {
	if err := s.file.Close(); err != nil {
		fmt.Fprintf(s.errOut, "logsink: close %s: %v\n", s.cfg.Path, err)
	}
	s.file = nil

	target, err := rotationName(s.cfg.Path, s.now())
	if err == nil {
		err = os.Rename(s.cfg.Path, target)
	}
	renamed := err == nil
	if renamed {
		s.rotations.Add(1)
	} else {
		fmt.Fprintf(s.errOut, "logsink: rotate %s: %v\n", s.cfg.Path, err)
	}

	if err := s.open(); err != nil {
		fmt.Fprintf(s.errOut, "logsink: %v; logging disabled\n", err)
		s.disabled.Store(true)
		return
	}
	if !renamed {
		// The old content is still in place. Count from zero so the next
		// attempt happens after another MaxFileSize bytes.
		s.size = 0
	}
}

// rotationName returns <path>.<timestamp>, or <path>.<timestamp>.N when that
// name is taken.
func rotationName(path string, now time.Time) (string, error) {
	base := path + "." + now.Format(rotationLayout)
	if !exists(base) {
		return base, nil
	}
	for i := 1; i <= maxRotationSuffixes; i++ {
		candidate := fmt.Sprintf("%s.%d", base, i)
		if !exists(candidate) {
			return candidate, nil
		}
	}
	return "", errNoRotationName
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return !errors.Is(err, fs.ErrNotExist)
}
