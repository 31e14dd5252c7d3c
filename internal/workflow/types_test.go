package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNewState_ActivePhasesPerScale(t *testing.T) {
	tests := []struct {
		scale  Scale
		active []Phase
	}{
		{ScaleQuick, []Phase{PhaseExecution, PhaseValidation}},
		{ScaleSmall, []Phase{PhasePlanning, PhaseExecution, PhaseValidation}},
		{ScaleMedium, []Phase{PhasePlanning, PhaseReview, PhaseExecution, PhaseValidation}},
		{ScaleLarge, AllPhases},
	}

	for _, tt := range tests {
		t.Run(tt.scale.String(), func(t *testing.T) {
			st, err := NewState("x", tt.scale, testNow)
			require.NoError(t, err)

			assert.Equal(t, tt.active[0], st.CurrentPhase)
			for _, p := range AllPhases {
				ps := st.Phases[p]
				require.NotNil(t, ps, "phase %s", p)
				switch {
				case p == tt.active[0]:
					assert.Equal(t, StatusInProgress, ps.Status)
					require.NotNil(t, ps.StartedAt)
				case tt.scale.IsActive(p):
					assert.Equal(t, StatusPending, ps.Status)
				default:
					assert.Equal(t, StatusSkipped, ps.Status)
				}
			}
			require.Len(t, st.History, 1)
			assert.Equal(t, ActionStarted, st.History[0].Action)
			assert.Len(t, st.InProgress(), 1)
		})
	}
}

func TestNewState_Medium(t *testing.T) {
	st, err := NewState("x", ScaleMedium, testNow)
	require.NoError(t, err)

	assert.Equal(t, PhasePlanning, st.CurrentPhase)
	assert.Equal(t, StatusSkipped, st.Phases[PhaseCompletion].Status)
	assert.Equal(t, []Phase{PhasePlanning, PhaseReview, PhaseExecution, PhaseValidation}, st.Scale.ActivePhases())
}

func TestNewState_EmptyName(t *testing.T) {
	_, err := NewState("  ", ScaleSmall, testNow)
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestState_NextActivePhase(t *testing.T) {
	st, err := NewState("x", ScaleSmall, testNow)
	require.NoError(t, err)

	next, ok, err := st.NextActivePhase()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, PhaseExecution, next)

	st.CurrentPhase = PhaseValidation
	_, ok, err = st.NextActivePhase()
	require.NoError(t, err)
	assert.False(t, ok)

	st.CurrentPhase = PhaseReview
	_, _, err = st.NextActivePhase()
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestState_IsComplete(t *testing.T) {
	st, err := NewState("x", ScaleQuick, testNow)
	require.NoError(t, err)
	assert.False(t, st.IsComplete())

	st.Phases[PhaseExecution].Status = StatusCompleted
	st.Phases[PhaseValidation].Status = StatusCompleted
	assert.True(t, st.IsComplete())
}

func TestState_Validate(t *testing.T) {
	st, err := NewState("x", ScaleLarge, testNow)
	require.NoError(t, err)
	require.NoError(t, st.Validate())

	st.Phases[PhaseReview].Status = StatusInProgress
	assert.ErrorIs(t, st.Validate(), ErrInvalidState)
}

func TestState_CloneIsDeep(t *testing.T) {
	st, err := NewState("x", ScaleLarge, testNow)
	require.NoError(t, err)

	c := st.Clone()
	c.Phases[PhasePlanning].Outputs = append(c.Phases[PhasePlanning].Outputs, "run-1")
	c.Phases[PhasePlanning].Status = StatusCompleted

	assert.Empty(t, st.Phases[PhasePlanning].Outputs)
	assert.Equal(t, StatusInProgress, st.Phases[PhasePlanning].Status)
}

func TestParseScale(t *testing.T) {
	s, err := ParseScale("medium")
	require.NoError(t, err)
	assert.Equal(t, ScaleMedium, s)

	s, err = ParseScale("3")
	require.NoError(t, err)
	assert.Equal(t, ScaleLarge, s)

	_, err = ParseScale("HUGE")
	assert.ErrorIs(t, err, ErrUnknownScale)
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("validation")
	require.NoError(t, err)
	assert.Equal(t, PhaseValidation, p)

	p, err = ParsePhase("r")
	require.NoError(t, err)
	assert.Equal(t, PhaseReview, p)

	_, err = ParsePhase("X")
	assert.ErrorIs(t, err, ErrUnknownPhase)
}

func TestScale_OrdinalsIncrease(t *testing.T) {
	assert.Less(t, int(ScaleQuick), int(ScaleSmall))
	assert.Less(t, int(ScaleSmall), int(ScaleMedium))
	assert.Less(t, int(ScaleMedium), int(ScaleLarge))
	assert.Equal(t, 3, int(ScaleLarge))
}
