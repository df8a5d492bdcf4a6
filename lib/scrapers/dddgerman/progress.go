package dddgerman

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
)

// ProgressCount tallies the forms of one slice of the content tree.
type ProgressCount struct {
	TotalForms int
	// forms with at least one saved response
	Attempted int
	// forms whose latest grading came back correct
	Correct int
}

// Percent is the attempted share of total forms, 0 when the slice has
// no forms at all.
func (c ProgressCount) Percent() float64 {
	if c.TotalForms == 0 {
		return 0
	}
	return float64(c.Attempted) / float64(c.TotalForms) * 100
}

// ProgressSummary aggregates a user's attempt coverage over the whole
// content tree.
type ProgressSummary struct {
	UserId string

	TotalChapters int
	TotalThemes   int
	TotalSlides   int

	Overall ProgressCount
	// keyed by chapter id
	Chapters map[int]ProgressCount
	// keyed by "kapitel_thema"
	Themes map[string]ProgressCount
}

func themeKey(kapitel, thema int) string {
	return fmt.Sprintf("%d_%d", kapitel, thema)
}

// Progress walks every chapter, theme and slide, parses the forms each
// slide embeds and matches them against the user's saved responses. A
// form counts as attempted when a response exists for its (form id,
// slide id) pair. Themes that fail to fetch are skipped with a warning
// so one broken theme doesn't sink the whole summary.
func (c *Client) Progress(ctx context.Context, userId string) (ProgressSummary, error) {
	ctx, span := tracer.Start(ctx, "Progress")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userId))

	chapters, err := c.Chapters(ctx)
	if err != nil {
		return ProgressSummary{}, err
	}

	summary := ProgressSummary{
		UserId:        userId,
		TotalChapters: len(chapters),
		Chapters:      map[int]ProgressCount{},
		Themes:        map[string]ProgressCount{},
	}

	for _, chapter := range chapters {
		themes, err := c.ThemesForChapter(ctx, chapter.Kapitel)
		if err != nil {
			return ProgressSummary{}, err
		}
		summary.TotalThemes += len(themes)

		chapterCount := ProgressCount{}
		for _, theme := range themes {
			themeCount, slideCount, err := c.themeProgress(ctx, userId, theme)
			if err != nil {
				slog.WarnContext(ctx, "skipping theme during progress walk",
					"kapitel", theme.Kapitel, "thema", theme.Thema, "err", err)
				continue
			}
			summary.TotalSlides += slideCount
			summary.Themes[themeKey(theme.Kapitel, theme.Thema)] = themeCount

			chapterCount.TotalForms += themeCount.TotalForms
			chapterCount.Attempted += themeCount.Attempted
			chapterCount.Correct += themeCount.Correct
		}

		summary.Chapters[chapter.Kapitel] = chapterCount
		summary.Overall.TotalForms += chapterCount.TotalForms
		summary.Overall.Attempted += chapterCount.Attempted
		summary.Overall.Correct += chapterCount.Correct
	}

	span.SetAttributes(
		attribute.Int("total_forms", summary.Overall.TotalForms),
		attribute.Int("attempted_forms", summary.Overall.Attempted),
	)
	return summary, nil
}

type formSlidePair struct {
	formId  string
	slideId int
}

func (c *Client) themeProgress(ctx context.Context, userId string, theme Theme) (ProgressCount, int, error) {
	slides, err := c.Slides(ctx, theme.Kapitel, theme.Thema)
	if err != nil {
		return ProgressCount{}, 0, err
	}
	responses, err := c.UserResponses(ctx, userId, theme.Kapitel, theme.Thema)
	if err != nil {
		return ProgressCount{}, 0, err
	}

	attempted := map[formSlidePair]bool{}
	correct := map[formSlidePair]bool{}
	for _, resp := range responses {
		if resp.FormId == "" {
			continue
		}
		pair := formSlidePair{resp.FormId, resp.SlideId}
		attempted[pair] = true
		if resp.Correct != nil && *resp.Correct {
			correct[pair] = true
		}
	}

	count := ProgressCount{}
	for _, slide := range slides {
		forms, err := ParseForms(ctx, slide.ContentHtml)
		if err != nil {
			slog.WarnContext(ctx, "skipping unparseable slide during progress walk",
				"slide_id", slide.Id, "err", err)
			continue
		}
		count.TotalForms += len(forms)
		for _, form := range forms {
			pair := formSlidePair{form.Id, slide.Id}
			if attempted[pair] {
				count.Attempted++
			}
			if correct[pair] {
				count.Correct++
			}
		}
	}
	return count, len(slides), nil
}
