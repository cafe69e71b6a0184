package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunCounts_Add(t *testing.T) {
	var c RunCounts
	for _, o := range []Outcome{
		OutcomeProcessed,
		OutcomeProcessed,
		OutcomeResolutionFailure,
		OutcomePersistenceFailure,
		OutcomeOtherFailure,
		Outcome(42),
	} {
		c.Add(o)
	}

	assert.Equal(t, RunCounts{
		Total:               6,
		Processed:           2,
		ResolutionFailures:  1,
		PersistenceFailures: 1,
		OtherFailures:       2,
	}, c)
	assert.True(t, c.Balanced())
}

func TestRunCounts_Unbalanced(t *testing.T) {
	c := RunCounts{Total: 3, Processed: 1}
	assert.False(t, c.Balanced())
}

func TestOutcomeString(t *testing.T) {
	tests := []struct {
		o    Outcome
		want string
	}{
		{OutcomeProcessed, "processed"},
		{OutcomeResolutionFailure, "resolution_failure"},
		{OutcomePersistenceFailure, "persistence_failure"},
		{OutcomeOtherFailure, "other_failure"},
		{Outcome(-1), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.o.String())
		})
	}
}
