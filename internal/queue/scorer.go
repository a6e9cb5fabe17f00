// Package queue implements the priority queue for sessions awaiting a human
// agent: a pure priority scorer, a per-partition heap, and the scheduler that
// ties them to agent assignment and wait-time estimation.
package queue

import (
	"strings"
	"time"

	sessionmodels "github.com/playdesk/playdesk/internal/session/models"
	ticketmodels "github.com/playdesk/playdesk/internal/ticket/models"
)

const (
	// urgencyBoost is added when AI triage classified the session URGENT.
	urgencyBoost = 20.0

	// agingMax is the cap on the wait-time bonus.
	agingMax = 30.0
	// agingWindow is the wait after which the aging bonus saturates.
	agingWindow = 30 * time.Minute

	scoreMin = 0.0
	scoreMax = 100.0
)

// ScoreInput carries everything the scorer needs. It is a snapshot: the
// scorer never reads shared state.
type ScoreInput struct {
	IssueTypeWeights []int
	Priority         ticketmodels.TicketPriority
	AIUrgency        sessionmodels.AIUrgency
	Description      string
	GameID           string
	Rules            []*ticketmodels.UrgencyRule
	QueuedAt         time.Time
	Now              time.Time
}

// BaseScore computes the time-invariant part of the priority score: the max
// of the issue-type weight, declared priority weight, and the best matching
// urgency rule, plus the AI urgency boost.
func BaseScore(in ScoreInput) float64 {
	base := in.Priority.Weight()
	for _, w := range in.IssueTypeWeights {
		if float64(w) > base {
			base = float64(w)
		}
	}
	if w, ok := bestRuleWeight(in); ok && w > base {
		base = w
	}
	if in.AIUrgency == sessionmodels.UrgencyUrgent {
		base += urgencyBoost
	}
	return base
}

// Aging returns the wait-time bonus: linear up to agingMax over agingWindow.
func Aging(queuedAt, now time.Time) float64 {
	if now.Before(queuedAt) {
		return 0
	}
	waited := now.Sub(queuedAt)
	if waited >= agingWindow {
		return agingMax
	}
	return agingMax * float64(waited) / float64(agingWindow)
}

// Score computes the effective priority of a queued session at the given
// instant, clamped to [0, 100]. Pure function of its inputs.
func Score(in ScoreInput) float64 {
	return clamp(BaseScore(in) + Aging(in.QueuedAt, in.Now))
}

// bestRuleWeight returns the highest priority weight among enabled rules
// whose non-empty conditions all hold for this session.
func bestRuleWeight(in ScoreInput) (float64, bool) {
	best := 0.0
	matched := false
	for _, rule := range in.Rules {
		if !rule.Enabled {
			continue
		}
		if !ruleMatches(rule, in) {
			continue
		}
		if w := float64(rule.PriorityWeight); !matched || w > best {
			best = w
			matched = true
		}
	}
	return best, matched
}

func ruleMatches(rule *ticketmodels.UrgencyRule, in ScoreInput) bool {
	if rule.Keyword == "" && rule.GameID == "" && rule.TicketPriority == "" {
		return false
	}
	if rule.Keyword != "" &&
		!strings.Contains(strings.ToLower(in.Description), strings.ToLower(rule.Keyword)) {
		return false
	}
	if rule.GameID != "" && rule.GameID != in.GameID {
		return false
	}
	if rule.TicketPriority != "" && rule.TicketPriority != in.Priority {
		return false
	}
	return true
}

func clamp(score float64) float64 {
	if score < scoreMin {
		return scoreMin
	}
	if score > scoreMax {
		return scoreMax
	}
	return score
}
