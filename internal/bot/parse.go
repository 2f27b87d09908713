package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCountArg reads an optional positive count from command arguments.
// An empty argument yields def; larger values are capped at limit.
func ParseCountArg(args string, def, limit int) (int, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.Fields(s)[0])
	if err != nil || n < 1 {
		return 0, fmt.Errorf("count must be a positive number, got %q", s)
	}
	if n > limit {
		n = limit
	}
	return n, nil
}

// ParseHistoryCallback parses "history:<offset>:<count>" button data.
func ParseHistoryCallback(data string) (offset, count int, err error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != cmdHistory {
		return 0, 0, fmt.Errorf("unknown callback %q", data)
	}
	offset, err = strconv.Atoi(parts[1])
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("invalid offset %q", parts[1])
	}
	count, err = strconv.Atoi(parts[2])
	if err != nil || count < 1 || count > maxHistoryCount {
		return 0, 0, fmt.Errorf("invalid count %q", parts[2])
	}
	return offset, count, nil
}
