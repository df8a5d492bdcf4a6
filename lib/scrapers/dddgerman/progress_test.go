package dddgerman

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProgress(t *testing.T) {
	client, platform := setupClient(t, nil)
	platform.seed(storedResponse{
		Id: 1, UserId: "42", Kapitel: 1, Thema: 1,
		FormId: "exercise-1", SlideId: 101,
		FormData:    `{"answer":"Hallo"}`,
		Correct:     boolPtr(true),
		DateCreated: "2024-04-30T09:00:00Z",
	})

	summary, err := client.Progress(context.Background(), "42")
	require.NoError(t, err)

	require.Equal(t, 2, summary.TotalChapters)
	require.Equal(t, 3, summary.TotalThemes)
	require.Equal(t, 3, summary.TotalSlides)

	require.Equal(t, 2, summary.Overall.TotalForms)
	require.Equal(t, 1, summary.Overall.Attempted)
	require.Equal(t, 1, summary.Overall.Correct)
	require.InDelta(t, 50.0, summary.Overall.Percent(), 0.001)

	require.Equal(t, ProgressCount{TotalForms: 2, Attempted: 1, Correct: 1}, summary.Chapters[1])
	require.Equal(t, ProgressCount{}, summary.Chapters[2])

	require.Equal(t, ProgressCount{TotalForms: 2, Attempted: 1, Correct: 1}, summary.Themes["1_1"])
	require.Equal(t, ProgressCount{}, summary.Themes["1_2"])
}

func TestProgressPercentEmpty(t *testing.T) {
	require.Equal(t, 0.0, ProgressCount{}.Percent())
}
