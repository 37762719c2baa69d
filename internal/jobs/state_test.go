package jobs

import (
	"testing"

	"github.com/kubilitics/anomaly-platform/internal/models"
	"github.com/stretchr/testify/require"
)

func TestIsTransitionAllowed_PendingTransitions(t *testing.T) {
	require.True(t, IsTransitionAllowed(models.StatusPending, models.StatusRunning))
	require.True(t, IsTransitionAllowed(models.StatusPending, models.StatusCancelled))
	require.True(t, IsTransitionAllowed(models.StatusPending, models.StatusFailed))
	require.True(t, IsTransitionAllowed(models.StatusPending, models.StatusPending))
}

func TestIsTransitionAllowed_RunningTransitions(t *testing.T) {
	require.True(t, IsTransitionAllowed(models.StatusRunning, models.StatusCompleted))
	require.True(t, IsTransitionAllowed(models.StatusRunning, models.StatusFailed))
	require.True(t, IsTransitionAllowed(models.StatusRunning, models.StatusCancelled))
}

func TestIsTransitionAllowed_PendingRejectsDirectTerminalSkip(t *testing.T) {
	require.False(t, IsTransitionAllowed(models.StatusPending, models.StatusCompleted))
}

func TestIsTransitionAllowed_TerminalStatesRejectEverythingButSelf(t *testing.T) {
	for _, terminal := range []models.Status{models.StatusCompleted, models.StatusFailed, models.StatusCancelled} {
		require.True(t, IsTransitionAllowed(terminal, terminal))
		require.False(t, IsTransitionAllowed(terminal, models.StatusRunning))
		require.False(t, IsTransitionAllowed(terminal, models.StatusPending))
		for _, other := range []models.Status{models.StatusCompleted, models.StatusFailed, models.StatusCancelled} {
			if other != terminal {
				require.False(t, IsTransitionAllowed(terminal, other))
			}
		}
	}
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(models.StatusCompleted))
	require.True(t, IsTerminal(models.StatusFailed))
	require.True(t, IsTerminal(models.StatusCancelled))
	require.False(t, IsTerminal(models.StatusPending))
	require.False(t, IsTerminal(models.StatusRunning))
}
