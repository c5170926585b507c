package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spounge-ai/auditgate/internal/domain"
)

const (
	ColorGreen  = "\033[0;32m"
	ColorRed    = "\033[0;31m"
	ColorYellow = "\033[0;33m"
	ColorGray   = "\033[0;90m"
	ColorBold   = "\033[1m"
	ColorReset  = "\033[0m"
)

// Reads audit events as NDJSON from stdin, either an audit file or the output
// of GET /v1/events, and prints them grouped by session.
func main() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	var currentGroup string

	for scanner.Scan() {
		line := scanner.Text()
		var event domain.AuditEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			fmt.Println(line)
			continue
		}
		printEvent(event, &currentGroup)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "read: %v\n", err)
		os.Exit(1)
	}
}

func printEvent(e domain.AuditEvent, currentGroup *string) {
	group := "session " + e.SessionID
	switch e.Kind {
	case domain.EventAlertDispatched, domain.EventAlertDispatchFailure:
		group = "ALERTS"
	}
	if e.SessionID == "" && group != "ALERTS" {
		group = "OTHER"
	}
	printGroupHeader(currentGroup, group)

	subject := string(e.Kind)
	if e.Operation != "" {
		subject += " " + e.Operation
	}
	var details []string
	if e.Resource != "" {
		details = append(details, e.Resource)
	}
	if e.Duration > 0 {
		details = append(details, e.Duration.Round(time.Millisecond).String())
	}
	if e.ErrorKind != "" {
		details = append(details, string(e.ErrorKind))
	}
	if e.ErrorCode != "" {
		details = append(details, e.ErrorCode)
	}
	if rule := e.Payload["rule"]; rule != "" {
		details = append(details, "rule="+rule, "channel="+e.Payload["channel"])
	}

	color, symbol := ColorGreen, "✓"
	switch e.Outcome {
	case domain.OutcomeClientError:
		color, symbol = ColorYellow, "!"
	case domain.OutcomeTransportError, domain.OutcomeUnexpectedError:
		color, symbol = ColorRed, "✗"
	}

	ts := e.Timestamp.Format(time.TimeOnly)
	if len(details) > 0 {
		fmt.Printf("  %s%s%s %s%s%s %s %s(%s)%s\n", color, symbol, ColorReset, ColorGray, ts, ColorReset,
			subject, ColorGray, strings.Join(details, ", "), ColorReset)
	} else {
		fmt.Printf("  %s%s%s %s%s%s %s\n", color, symbol, ColorReset, ColorGray, ts, ColorReset, subject)
	}
}

func printGroupHeader(currentGroup *string, group string) {
	if *currentGroup != group {
		separator := strings.Repeat("─", 10)
		fmt.Printf("\n%s%s %s %s%s\n", ColorGray, separator, ColorBold+group, separator, ColorReset)
		*currentGroup = group
	}
}
