package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Color helpers for user-facing status lines. They honor color.NoColor,
// which --no-color, --json, and non-terminal stdout all set.
var (
	boldRed    = color.New(color.FgRed, color.Bold).SprintFunc()
	boldGreen  = color.New(color.FgGreen, color.Bold).SprintFunc()
	boldYellow = color.New(color.FgYellow, color.Bold).SprintFunc()
	boldCyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	faint      = color.New(color.Faint).SprintFunc()
)

func printSuccess(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "%s %s\n", boldGreen("ok"), fmt.Sprintf(format, args...))
}

func printWarning(w io.Writer, format string, args ...interface{}) {
	fmt.Fprintf(w, "%s %s\n", boldYellow("warning:"), fmt.Sprintf(format, args...))
}

func printSection(w io.Writer, title string) {
	fmt.Fprintln(w, boldCyan("==> "+title))
}

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// FormatPortsList converts host ports into a sorted, comma-separated
// string. Returns "-" for an empty list.
//
// Example:
//
//	[15432, 3000] → "3000,15432"
//	[]            → "-"
func FormatPortsList(ports []int) string {
	if len(ports) == 0 {
		return "-"
	}

	sorted := append([]int(nil), ports...)
	// Numeric order; a string sort would put "15432" before "3000".
	sort.Ints(sorted)

	out := make([]string, 0, len(sorted))
	for _, p := range sorted {
		out = append(out, strconv.Itoa(p))
	}
	return strings.Join(out, ",")
}

// FormatPortRanges compacts sorted ports into ranges, e.g.
// [2200 2201 2202 2210] → "2200-2202,2210". Returns "-" for an empty list.
func FormatPortRanges(ports []int) string {
	if len(ports) == 0 {
		return "-"
	}

	sorted := append([]int(nil), ports...)
	sort.Ints(sorted)

	var parts []string
	start, prev := sorted[0], sorted[0]
	flush := func() {
		if start == prev {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, prev))
		}
	}
	for _, p := range sorted[1:] {
		if p == prev {
			continue
		}
		if p == prev+1 {
			prev = p
			continue
		}
		flush()
		start, prev = p, p
	}
	flush()
	return strings.Join(parts, ",")
}
