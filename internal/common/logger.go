package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the process logger. Output goes to stdout and, when logDir
// is set, to <logDir>/<name>_<timestamp>.log as well.
func NewLogger(name string, level string, logDir string) (hclog.Logger, io.Closer, error) {
	var output io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0777); err != nil {
			return nil, nil, fmt.Errorf("could not create log directory: %w", err)
		}

		fileName := filepath.Join(logDir, fmt.Sprintf("%s_%s.log", name, time.Now().Format("20060102_150405")))
		logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("could not open log file: %w", err)
		}

		output = io.MultiWriter(os.Stdout, logFile)
		closer = logFile
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   fmt.Sprintf("fl-%s", name),
		Level:  hclog.LevelFromString(level),
		Output: output,
	})

	return logger, closer, nil
}
