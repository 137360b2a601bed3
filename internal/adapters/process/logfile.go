package process

import (
	"fmt"
	"os"
	"path/filepath"
)

func openLog(dir, command string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %q: %w", dir, err)
	}
	name := filepath.Base(command) + ".log"
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %q: %w", name, err)
	}
	return f, nil
}
