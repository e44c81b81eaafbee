package common

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

func ReadCsvFile(filePath string) ([][]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("unable to read input file %s: %w", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("unable to parse file as CSV for %s: %w", filePath, err)
	}

	return records, nil
}

func GetParticipantId(ordinal int) string {
	return fmt.Sprintf("%s%d", PARTICIPANT_ID_PREFIX, ordinal)
}

func GetParticipantJoinedNotice(count int) string {
	return fmt.Sprintf("New User has joined the Training Session. Current clients: %d", count)
}

func GetParticipantConnectedNotice(participantId string) string {
	return fmt.Sprintf("Client %s connected, Will be sending you the Training Algo", participantId)
}

func GetCohortFormedNotice(cohortSize int) string {
	return fmt.Sprintf("Ok we Have %d clients, We can start FL-Training, Sending Null Model", cohortSize)
}

func GetServerAddress(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}

// ParseHeaderLine strips the trailing delimiter (and a stray carriage return)
// from a text header.
func ParseHeaderLine(line string) string {
	return strings.TrimRight(line, "\r\n")
}
