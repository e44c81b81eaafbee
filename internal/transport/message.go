package transport

import (
	"strconv"
	"strings"
)

type MessageKind int

const (
	ControlMessage MessageKind = iota
	ArtifactHeader
)

func (k MessageKind) String() string {
	switch k {
	case ControlMessage:
		return "MESSAGE"
	case ArtifactHeader:
		return "MODEL"
	default:
		return "UNKNOWN"
	}
}

// Message is one decoded server header.
type Message struct {
	Kind MessageKind
	Text string
	Size int
}

func parseSize(s string) (int, error) {
	size, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if size < 0 {
		return 0, strconv.ErrRange
	}
	return size, nil
}
