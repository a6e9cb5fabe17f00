package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	sessionmodels "github.com/playdesk/playdesk/internal/session/models"
	ticketmodels "github.com/playdesk/playdesk/internal/ticket/models"
)

func TestScoreDeclaredPriority(t *testing.T) {
	now := time.Now()
	tests := []struct {
		priority ticketmodels.TicketPriority
		want     float64
	}{
		{ticketmodels.PriorityLow, 0},
		{ticketmodels.PriorityNormal, 25},
		{ticketmodels.PriorityHigh, 60},
		{ticketmodels.PriorityUrgent, 90},
	}
	for _, tt := range tests {
		got := Score(ScoreInput{Priority: tt.priority, QueuedAt: now, Now: now})
		assert.Equal(t, tt.want, got, "priority %s", tt.priority)
	}
}

func TestScoreTakesMaxOfBaseComponents(t *testing.T) {
	now := time.Now()
	// Issue type weight 70 beats declared NORMAL (25).
	got := Score(ScoreInput{
		IssueTypeWeights: []int{10, 70},
		Priority:         ticketmodels.PriorityNormal,
		QueuedAt:         now,
		Now:              now,
	})
	assert.Equal(t, 70.0, got)
}

func TestScoreAIUrgencyBoost(t *testing.T) {
	now := time.Now()
	got := Score(ScoreInput{
		Priority:  ticketmodels.PriorityHigh,
		AIUrgency: sessionmodels.UrgencyUrgent,
		QueuedAt:  now,
		Now:       now,
	})
	assert.Equal(t, 80.0, got)

	got = Score(ScoreInput{
		Priority:  ticketmodels.PriorityHigh,
		AIUrgency: sessionmodels.UrgencyNonUrgent,
		QueuedAt:  now,
		Now:       now,
	})
	assert.Equal(t, 60.0, got)
}

func TestScoreAging(t *testing.T) {
	queuedAt := time.Now().Add(-15 * time.Minute)
	now := queuedAt.Add(15 * time.Minute)

	// 15 of 30 minutes waited: half the aging cap.
	got := Score(ScoreInput{Priority: ticketmodels.PriorityNormal, QueuedAt: queuedAt, Now: now})
	assert.InDelta(t, 40.0, got, 0.001)

	// Saturates at +30.
	got = Score(ScoreInput{Priority: ticketmodels.PriorityNormal, QueuedAt: queuedAt, Now: queuedAt.Add(2 * time.Hour)})
	assert.Equal(t, 55.0, got)
}

func TestScoreAgingIsMonotonic(t *testing.T) {
	queuedAt := time.Now()
	in := ScoreInput{Priority: ticketmodels.PriorityHigh, QueuedAt: queuedAt}

	prev := -1.0
	for _, waited := range []time.Duration{0, time.Minute, 10 * time.Minute, 30 * time.Minute, time.Hour} {
		in.Now = queuedAt.Add(waited)
		score := Score(in)
		assert.GreaterOrEqual(t, score, prev)
		prev = score
	}
}

func TestScoreClampedToHundred(t *testing.T) {
	queuedAt := time.Now().Add(-time.Hour)
	got := Score(ScoreInput{
		Priority:  ticketmodels.PriorityUrgent,
		AIUrgency: sessionmodels.UrgencyUrgent,
		QueuedAt:  queuedAt,
		Now:       time.Now(),
	})
	assert.Equal(t, 100.0, got)
}

func TestUrgencyRuleMatching(t *testing.T) {
	now := time.Now()
	rules := []*ticketmodels.UrgencyRule{
		{Name: "payment", Keyword: "recharge", PriorityWeight: 85, Enabled: true},
		{Name: "vip game", GameID: "g-vip", PriorityWeight: 95, Enabled: true},
		{Name: "disabled", Keyword: "recharge", PriorityWeight: 99, Enabled: false},
	}

	// Keyword match, case-insensitive.
	got := Score(ScoreInput{
		Priority:    ticketmodels.PriorityLow,
		Description: "My Recharge did not arrive",
		GameID:      "g1",
		Rules:       rules,
		QueuedAt:    now,
		Now:         now,
	})
	assert.Equal(t, 85.0, got)

	// No condition matches: declared priority wins.
	got = Score(ScoreInput{
		Priority:    ticketmodels.PriorityLow,
		Description: "cannot log in",
		GameID:      "g1",
		Rules:       rules,
		QueuedAt:    now,
		Now:         now,
	})
	assert.Equal(t, 0.0, got)

	// Game match picks the heavier rule.
	got = Score(ScoreInput{
		Priority:    ticketmodels.PriorityLow,
		Description: "recharge missing",
		GameID:      "g-vip",
		Rules:       rules,
		QueuedAt:    now,
		Now:         now,
	})
	assert.Equal(t, 95.0, got)
}

func TestUrgencyRuleAllConditionsMustHold(t *testing.T) {
	now := time.Now()
	rule := &ticketmodels.UrgencyRule{
		Name:           "urgent-payment-g1",
		Keyword:        "payment",
		GameID:         "g1",
		TicketPriority: ticketmodels.PriorityUrgent,
		PriorityWeight: 99,
		Enabled:        true,
	}

	in := ScoreInput{
		Priority:    ticketmodels.PriorityUrgent,
		Description: "payment lost",
		GameID:      "g1",
		Rules:       []*ticketmodels.UrgencyRule{rule},
		QueuedAt:    now,
		Now:         now,
	}
	assert.Equal(t, 99.0, Score(in))

	// Wrong game: rule does not apply, declared URGENT (90) remains.
	in.GameID = "g2"
	assert.Equal(t, 90.0, Score(in))
}
