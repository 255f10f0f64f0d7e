package annotations

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"

	"tadeval/internal/fileutil"
)

// ReadClassMap reads one label per line. Blank lines are skipped; the line
// order defines the class index.
func ReadClassMap(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read class map: %w", err)
	}
	defer f.Close()

	var classes []string
	seen := make(map[string]int)
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		label := strings.TrimSpace(scanner.Text())
		if label == "" {
			continue
		}
		if first, dup := seen[label]; dup {
			return nil, fmt.Errorf("read class map: %q on line %d already defined on line %d", label, line, first)
		}
		seen[label] = line
		classes = append(classes, label)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read class map: %w", err)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("read class map: %s lists no classes", path)
	}
	return classes, nil
}

// WriteClassMap writes classes one per line.
func WriteClassMap(path string, classes []string) error {
	if len(classes) == 0 {
		return fmt.Errorf("write class map: no classes")
	}
	var buf bytes.Buffer
	for _, c := range classes {
		c = strings.TrimSpace(c)
		if c == "" || strings.ContainsAny(c, "\r\n") {
			return fmt.Errorf("write class map: invalid label %q", c)
		}
		buf.WriteString(c)
		buf.WriteByte('\n')
	}
	if err := fileutil.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write class map: %w", err)
	}
	return nil
}

// Thumos14Classes are the 20 THUMOS-14 action classes in index order.
var Thumos14Classes = []string{
	"BaseballPitch", "BasketballDunk", "Billiards", "CleanAndJerk",
	"CliffDiving", "CricketBowling", "CricketShot", "Diving",
	"FrisbeeCatch", "GolfSwing", "HammerThrow", "HighJump",
	"JavelinThrow", "LongJump", "PoleVault", "Shotput",
	"SoccerPenalty", "TennisSwing", "ThrowDiscus", "VolleyballSpiking",
}
