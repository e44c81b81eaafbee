package florch

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/MansoorButt/kube-infra/internal/model"
)

// resultsWriter persists every accepted update next to a CSV summary.
type resultsWriter struct {
	dir     string
	roundId string
	mu      sync.Mutex
}

func newResultsWriter(dir string, roundId string) (*resultsWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create results dir %s: %w", dir, err)
	}
	return &resultsWriter{dir: dir, roundId: roundId}, nil
}

func (w *resultsWriter) ModelFileName(participantId string) string {
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.model", w.roundId, participantId))
}

func (w *resultsWriter) SummaryFileName() string {
	return filepath.Join(w.dir, fmt.Sprintf("results_%s.csv", w.roundId))
}

func (w *resultsWriter) Write(submission model.Submission, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.WriteFile(w.ModelFileName(submission.ParticipantId), payload, 0644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}

	file, err := os.OpenFile(w.SummaryFileName(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open results file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	record := []string{w.roundId, submission.ParticipantId, strconv.Itoa(submission.Size),
		submission.ReceivedAt.Format(time.RFC3339Nano)}
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	writer.Flush()
	return writer.Error()
}
