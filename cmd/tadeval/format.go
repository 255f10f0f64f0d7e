package main

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// formatClock renders seconds as m:ss, truncating fractions.
func formatClock(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		return "-"
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 1, 64)
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', 4, 64)
}

// frameIndex truncates like the clock, so a frame and its m:ss agree.
func frameIndex(seconds, fps float64) string {
	if fps <= 0 {
		return "-"
	}
	return strconv.Itoa(int(seconds * fps))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(100 * time.Millisecond).String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

