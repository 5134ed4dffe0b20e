package validation

import (
	"bufio"
	"strconv"
	"strings"
)

// CoverageMarker separates test output from the coverage profile on the
// sandbox's stdout.
const CoverageMarker = "@@TOOLSMITH_COVERAGE_PROFILE@@"

// ParseProfile reads a Go coverage profile and returns statement
// coverage in [0,1]. Blocks listed more than once count once, covered if
// any listing has a non-zero count. A profile with no blocks, or one that
// cannot be read, yields 0.
func ParseProfile(profile string) float64 {
	type block struct {
		stmts   int
		covered bool
	}
	blocks := make(map[string]*block)

	sc := bufio.NewScanner(strings.NewReader(profile))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	sawMode := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "mode:") {
			sawMode = true
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 || !strings.Contains(fields[0], ":") {
			return 0
		}
		stmts, err := strconv.Atoi(fields[1])
		if err != nil || stmts < 0 {
			return 0
		}
		count, err := strconv.Atoi(fields[2])
		if err != nil {
			return 0
		}
		b, ok := blocks[fields[0]]
		if !ok {
			b = &block{stmts: stmts}
			blocks[fields[0]] = b
		}
		if count > 0 {
			b.covered = true
		}
	}
	if !sawMode || sc.Err() != nil {
		return 0
	}

	var total, covered int
	for _, b := range blocks {
		total += b.stmts
		if b.covered {
			covered += b.stmts
		}
	}
	if total == 0 {
		return 0
	}
	return float64(covered) / float64(total)
}

// splitOutput separates the test log from the profile printed after
// CoverageMarker.
func splitOutput(stdout string) (testLog, profile string) {
	idx := strings.Index(stdout, CoverageMarker)
	if idx < 0 {
		return stdout, ""
	}
	return stdout[:idx], strings.TrimLeft(stdout[idx+len(CoverageMarker):], "\r\n")
}
