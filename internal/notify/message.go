package notify

import (
	"fmt"
	"strings"

	"github.com/slaclab/bsastream/internal/pulse"
)

// FormatInitFailure creates an init-failure notification body.
func FormatInitFailure(channel, beamline string, err error) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Channel: %s\n", channel))
	sb.WriteString(fmt.Sprintf("Beamline: %s\n", beamline))
	if err != nil {
		sb.WriteString(fmt.Sprintf("Error: %v", err))
	}

	return sb.String()
}

// FormatGapMessage creates a missed-pulse burst notification body.
func FormatGapMessage(channel string, missed int, from, to pulse.ID) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Channel: %s\n", channel))
	sb.WriteString(fmt.Sprintf("Missed: %d pulses\n", missed))
	sb.WriteString(fmt.Sprintf("Pulse ID: %d -> %d", from, to))

	return sb.String()
}
