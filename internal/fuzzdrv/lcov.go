package fuzzdrv

import (
	"bufio"
	"bytes"
	"regexp"
	"runtime"
	"strconv"
	"strings"

	"github.com/zjy-dev/defuzz-harness/internal/covmodel"
)

func runtimeNumCPU() int {
	return runtime.NumCPU()
}

// parseLCOV parses llvm-cov-style lcov output (SF:/FN:/FNDA:/DA: records)
// into a Coverage value. When itself is true, only records belonging to
// target's source file are kept (harness-self coverage); otherwise all
// records except target's are kept (library coverage). An empty target
// keeps every record, which is the common case for fakes and tests.
func parseLCOV(data []byte, itself bool, target string) (*covmodel.Coverage, error) {
	cov := covmodel.New()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var currentFile string
	var currentFn string
	include := true

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "SF:"):
			currentFile = strings.TrimPrefix(line, "SF:")
			if target != "" {
				isTarget := strings.Contains(currentFile, target)
				include = isTarget == itself
			}
		case strings.HasPrefix(line, "FN:"):
			parts := strings.SplitN(strings.TrimPrefix(line, "FN:"), ",", 2)
			if len(parts) == 2 {
				currentFn = parts[1]
			}
		case strings.HasPrefix(line, "FNDA:"):
			if !include {
				continue
			}
			parts := strings.SplitN(strings.TrimPrefix(line, "FNDA:"), ",", 2)
			if len(parts) != 2 {
				continue
			}
			count, err := strconv.ParseInt(parts[0], 10, 64)
			if err != nil {
				continue
			}
			fn := parts[1]
			if fn == "" {
				fn = currentFn
			}
			cov.AddBranchHit(fn, covmodel.BranchID(0, 0, 0), count)
		case strings.HasPrefix(line, "DA:"):
			if !include {
				continue
			}
			parts := strings.SplitN(strings.TrimPrefix(line, "DA:"), ",", 2)
			if len(parts) != 2 {
				continue
			}
			lineno, err := strconv.Atoi(parts[0])
			if err != nil {
				continue
			}
			count, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				continue
			}
			cov.AddLineHit(currentFile, lineno, count)
		}
	}
	return cov, scanner.Err()
}

var covSummaryRe = regexp.MustCompile(`cov:\s*(\d+)`)

// parseCovSummary extracts libFuzzer's periodic "cov: N" log marker, the
// scalar signal Track uses for growth-based early termination. Returns 0 if
// no marker is found.
func parseCovSummary(data []byte) int64 {
	matches := covSummaryRe.FindAllSubmatch(data, -1)
	if len(matches) == 0 {
		return 0
	}
	last := matches[len(matches)-1]
	n, err := strconv.ParseInt(string(last[1]), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
