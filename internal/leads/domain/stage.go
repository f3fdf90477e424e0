// Package domain provides core business rules for the leads bounded context.
package domain

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StageNew       = "new"
	StageCall      = "call"
	StageMeeting   = "meeting"
	StageSiteVisit = "site_visit"
	StageClosing   = "closing"

	StatusFailed = "failed"
	StatusClosed = "closed"
)

// StagePolicy defines the manual progression order and which stages carry an
// SLA deadline. Stage sets are tenant-configured elsewhere in the system, so
// the policy is injected rather than hard-coded at call sites.
type StagePolicy struct {
	// Ordinals maps a stage code to its position in the manual progression.
	// Two codes may share an ordinal (an alias such as new/call).
	Ordinals map[string]int

	// Trackable lists stage codes that open an SLA deadline on entry.
	Trackable map[string]bool

	// SLAWindow is the deadline window opened when a lead enters a trackable stage.
	SLAWindow time.Duration
}

// DefaultStagePolicy returns the built-in progression:
// new/call -> meeting -> site_visit -> closing, each with a 7 day SLA window.
func DefaultStagePolicy() StagePolicy {
	return StagePolicy{
		Ordinals: map[string]int{
			StageNew:       0,
			StageCall:      0,
			StageMeeting:   1,
			StageSiteVisit: 2,
			StageClosing:   3,
		},
		Trackable: map[string]bool{
			StageNew:       true,
			StageCall:      true,
			StageMeeting:   true,
			StageSiteVisit: true,
			StageClosing:   true,
		},
		SLAWindow: 7 * 24 * time.Hour,
	}
}

// Ordinal returns the progression index for a stage code.
func (p StagePolicy) Ordinal(code string) (int, bool) {
	ord, ok := p.Ordinals[code]
	return ord, ok
}

// IsTrackable reports whether entering the stage opens an SLA deadline.
func (p StagePolicy) IsTrackable(code string) bool {
	return p.Trackable[code]
}

// CanAdvance reports whether a manual single-step transition from one stage
// code to another is allowed: the target must sit exactly one position after
// the current stage.
func (p StagePolicy) CanAdvance(from, to string) bool {
	fromOrd, ok := p.Ordinals[from]
	if !ok {
		return false
	}
	toOrd, ok := p.Ordinals[to]
	if !ok {
		return false
	}
	return toOrd == fromOrd+1
}

// IsTerminalStatus reports whether a lead status allows no further transitions.
func IsTerminalStatus(status string) bool {
	return status == StatusFailed || status == StatusClosed
}

type policyFile struct {
	Ordinals  map[string]int `yaml:"ordinals"`
	Trackable []string       `yaml:"trackable"`
	SLAWindow string         `yaml:"slaWindow"`
}

// LoadStagePolicy reads a YAML policy file and overlays it onto the defaults.
// Missing fields keep their default values. An empty path returns the defaults.
func LoadStagePolicy(path string) (StagePolicy, error) {
	policy := DefaultStagePolicy()
	if path == "" {
		return policy, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return StagePolicy{}, err
	}

	var file policyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return StagePolicy{}, err
	}

	if len(file.Ordinals) > 0 {
		policy.Ordinals = file.Ordinals
	}
	if len(file.Trackable) > 0 {
		policy.Trackable = make(map[string]bool, len(file.Trackable))
		for _, code := range file.Trackable {
			policy.Trackable[code] = true
		}
	}
	if file.SLAWindow != "" {
		window, err := time.ParseDuration(file.SLAWindow)
		if err != nil {
			return StagePolicy{}, err
		}
		if window > 0 {
			policy.SLAWindow = window
		}
	}

	return policy, nil
}
