package nms

import (
	"fmt"
	"strings"

	"tadeval/internal/evalerr"
)

// Mode selects how overlapping candidates are treated.
type Mode string

const (
	// ModeHard removes overlapping candidates.
	ModeHard Mode = "hard"
	// ModeSoft decays overlapping candidates with a Gaussian of their IoU.
	ModeSoft Mode = "soft"
)

// ParseMode maps a config value onto a Mode.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeHard:
		return ModeHard, nil
	case ModeSoft:
		return ModeSoft, nil
	default:
		return "", fmt.Errorf("unknown nms mode %q", value)
	}
}

// Config controls candidate selection and suppression for one video.
type Config struct {
	Mode         Mode
	Sigma        float64
	IoUThreshold float64
	// MinScore drops soft-decayed candidates that fall below it.
	MinScore  float64
	MaxSegNum int
	// Multiclass expands every segment into one candidate per class score.
	Multiclass bool
	// ClassAware restricts suppression to candidates sharing a label.
	ClassAware           bool
	VotingThresh         float64
	PreNMSScoreThreshold float64
	PreNMSTopK           int
}

// DefaultConfig mirrors the evaluation defaults used for THUMOS-style runs.
func DefaultConfig() Config {
	return Config{
		Mode:                 ModeSoft,
		Sigma:                0.7,
		IoUThreshold:         0.1,
		MinScore:             0.001,
		MaxSegNum:            2000,
		Multiclass:           true,
		VotingThresh:         0.7,
		PreNMSScoreThreshold: 0.001,
		PreNMSTopK:           2000,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	var reason string
	switch {
	case c.Mode != ModeHard && c.Mode != ModeSoft:
		reason = fmt.Sprintf("mode must be hard or soft, got %q", c.Mode)
	case c.Mode == ModeSoft && !(c.Sigma > 0):
		reason = fmt.Sprintf("sigma must be positive, got %g", c.Sigma)
	case !inUnit(c.IoUThreshold):
		reason = fmt.Sprintf("iou_threshold must be within [0,1], got %g", c.IoUThreshold)
	case c.MaxSegNum <= 0:
		reason = fmt.Sprintf("max_seg_num must be positive, got %d", c.MaxSegNum)
	case !inUnit(c.VotingThresh):
		reason = fmt.Sprintf("voting_thresh must be within [0,1], got %g", c.VotingThresh)
	case !inUnit(c.PreNMSScoreThreshold):
		reason = fmt.Sprintf("pre_nms_thresh must be within [0,1], got %g", c.PreNMSScoreThreshold)
	case c.PreNMSTopK <= 0:
		reason = fmt.Sprintf("pre_nms_topk must be positive, got %d", c.PreNMSTopK)
	case c.MinScore < 0:
		reason = fmt.Sprintf("min_score must be non-negative, got %g", c.MinScore)
	}
	if reason == "" {
		return nil
	}
	return evalerr.Wrap(evalerr.ErrConfiguration, "nms", "validate", reason, nil)
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}
