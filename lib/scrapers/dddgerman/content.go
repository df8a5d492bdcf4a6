package dddgerman

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Chapter (Kapitel) is the top level of the platform's content tree.
type Chapter struct {
	Kapitel          int
	Name             string
	QuizletEmbedCode string
}

// Theme (Thema) is a section within a chapter.
type Theme struct {
	Kapitel          int
	Thema            int
	Name             string
	RenderVocab      bool
	QuizletEmbedCode string
}

// Slide is one content page within a theme. ContentHtml may embed
// exercise forms, see ParseForms.
type Slide struct {
	Id            int
	Kapitel       int
	Thema         int
	Title         string
	ContentHtml   string
	InstitutionId int
}

// SlideOrder fixes the position of a slide within its theme.
type SlideOrder struct {
	Id      int
	Kapitel int
	Thema   int
	SlideId int
	Order   int
}

type VocabularyItem struct {
	Id      int
	Kapitel int
	Thema   int
	German  string
	English string
}

// fetchListing returns the raw body of a GET listing endpoint, served
// from the scrape cache when a fresh copy exists.
func (c *Client) fetchListing(ctx context.Context, endpoint string, lifetime int64) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "fetchListing")
	defer span.End()
	span.SetAttributes(attribute.String("endpoint", endpoint))

	payload, err := c.cache.get(ctx, c.UserId, endpoint)
	if err == nil {
		span.SetStatus(codes.Ok, "CACHE HIT")
		return payload, nil
	}
	if err != errRecordNotFound {
		span.RecordError(err)
	}

	res, err := c.Http.R().
		SetContext(ctx).
		Get(endpoint)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch")
		return nil, err
	}
	if err := statusError(res); err != nil {
		return nil, err
	}

	err = c.cache.set(ctx, c.UserId, endpoint, res.Body(), lifetime)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to cache response")
	}

	return res.Body(), nil
}

// decodeListing unmarshals a JSON array entry by entry so a single
// off-shape record (the platform mixes role metadata into some
// listings) doesn't discard the rest.
func decodeListing[T any](ctx context.Context, endpoint string, payload []byte) ([]T, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s is not a list: %v", ErrParsing, endpoint, err)
	}

	out := make([]T, 0, len(raw))
	for i, entry := range raw {
		var item T
		if err := json.Unmarshal(entry, &item); err != nil {
			slog.DebugContext(ctx, "skipping malformed listing entry",
				"endpoint", endpoint, "index", i, "err", err)
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

type chapterRecord struct {
	Kapitel          *int    `json:"kapitel"`
	Name             *string `json:"name"`
	QuizletEmbedCode string  `json:"quizletEmbedCode"`
}

// Chapters lists every chapter in the order the platform returns them.
func (c *Client) Chapters(ctx context.Context) ([]Chapter, error) {
	ctx, span := tracer.Start(ctx, "Chapters")
	defer span.End()

	payload, err := c.fetchListing(ctx, "/kapitels", themeListLifetime)
	if err != nil {
		return nil, err
	}

	records, err := decodeListing[chapterRecord](ctx, "kapitels", payload)
	if err != nil {
		// the chapter listing is the root of everything; treat a
		// payload we can't read at all the same as a missing one
		return nil, fmt.Errorf("%w: chapter listing: %v", ErrNotFound, err)
	}

	var chapters []Chapter
	for _, r := range records {
		if r.Kapitel == nil || r.Name == nil {
			// role metadata shows up in this listing for some accounts
			slog.DebugContext(ctx, "skipping chapter entry without kapitel/name keys")
			continue
		}
		chapters = append(chapters, Chapter{
			Kapitel:          *r.Kapitel,
			Name:             *r.Name,
			QuizletEmbedCode: r.QuizletEmbedCode,
		})
	}

	if len(chapters) == 0 {
		span.SetStatus(codes.Error, "empty chapter listing")
		return nil, fmt.Errorf("%w: platform returned no chapters", ErrNotFound)
	}
	return chapters, nil
}

type themeRecord struct {
	Kapitel          *int   `json:"kapitel"`
	Thema            *int   `json:"thema"`
	Name             string `json:"name"`
	RenderVocab      bool   `json:"renderVocab"`
	QuizletEmbedCode string `json:"quizletEmbedCode"`
}

// Themes lists every theme across all chapters, in payload order.
func (c *Client) Themes(ctx context.Context) ([]Theme, error) {
	ctx, span := tracer.Start(ctx, "Themes")
	defer span.End()

	payload, err := c.fetchListing(ctx, "/themas", themeListLifetime)
	if err != nil {
		return nil, err
	}

	records, err := decodeListing[themeRecord](ctx, "themas", payload)
	if err != nil {
		return nil, err
	}

	var themes []Theme
	for _, r := range records {
		if r.Kapitel == nil || r.Thema == nil {
			slog.DebugContext(ctx, "skipping theme entry without kapitel/thema keys")
			continue
		}
		themes = append(themes, Theme{
			Kapitel:          *r.Kapitel,
			Thema:            *r.Thema,
			Name:             r.Name,
			RenderVocab:      r.RenderVocab,
			QuizletEmbedCode: r.QuizletEmbedCode,
		})
	}
	return themes, nil
}

// ThemesForChapter filters the global theme listing down to one
// chapter, preserving order.
func (c *Client) ThemesForChapter(ctx context.Context, kapitel int) ([]Theme, error) {
	themes, err := c.Themes(ctx)
	if err != nil {
		return nil, err
	}
	var out []Theme
	for _, t := range themes {
		if t.Kapitel == kapitel {
			out = append(out, t)
		}
	}
	return out, nil
}

// Theme fetches a single theme by its chapter and theme ids.
func (c *Client) Theme(ctx context.Context, kapitel, thema int) (Theme, error) {
	themes, err := c.Themes(ctx)
	if err != nil {
		return Theme{}, err
	}
	for _, t := range themes {
		if t.Kapitel == kapitel && t.Thema == thema {
			return t, nil
		}
	}
	return Theme{}, fmt.Errorf("%w: theme %d/%d", ErrNotFound, kapitel, thema)
}

type slideRecord struct {
	Id            *int   `json:"id"`
	Kapitel       int    `json:"kapitel"`
	Thema         int    `json:"thema"`
	Title         string `json:"title"`
	Content       string `json:"content"`
	InstitutionId int    `json:"institutionId"`
}

// Slides lists the slides of a theme in payload order.
func (c *Client) Slides(ctx context.Context, kapitel, thema int) ([]Slide, error) {
	ctx, span := tracer.Start(ctx, "Slides")
	defer span.End()

	endpoint := fmt.Sprintf("/slides/%d/%d?includeAllInstitutions=false", kapitel, thema)
	payload, err := c.fetchListing(ctx, endpoint, slideListLifetime)
	if err != nil {
		return nil, err
	}

	records, err := decodeListing[slideRecord](ctx, "slides", payload)
	if err != nil {
		return nil, err
	}

	var slides []Slide
	for _, r := range records {
		if r.Id == nil {
			slog.DebugContext(ctx, "skipping slide entry without id key",
				"kapitel", kapitel, "thema", thema)
			continue
		}
		title := r.Title
		if title == "" {
			title = "Untitled Slide"
		}
		k, t := r.Kapitel, r.Thema
		if k == 0 {
			k = kapitel
		}
		if t == 0 {
			t = thema
		}
		slides = append(slides, Slide{
			Id:            *r.Id,
			Kapitel:       k,
			Thema:         t,
			Title:         title,
			ContentHtml:   r.Content,
			InstitutionId: r.InstitutionId,
		})
	}
	return slides, nil
}

// Slide fetches one slide by id out of its theme's listing.
func (c *Client) Slide(ctx context.Context, kapitel, thema, slideId int) (Slide, error) {
	slides, err := c.Slides(ctx, kapitel, thema)
	if err != nil {
		return Slide{}, err
	}
	for _, s := range slides {
		if s.Id == slideId {
			return s, nil
		}
	}
	return Slide{}, fmt.Errorf("%w: slide %d in theme %d/%d", ErrNotFound, slideId, kapitel, thema)
}

type slideOrderRecord struct {
	Id      *int `json:"id"`
	Kapitel int  `json:"kapitel"`
	Thema   int  `json:"thema"`
	SlideId *int `json:"slideId"`
	Order   *int `json:"order"`
}

// SlideOrders returns the display positions of a theme's slides.
func (c *Client) SlideOrders(ctx context.Context, kapitel, thema int) ([]SlideOrder, error) {
	ctx, span := tracer.Start(ctx, "SlideOrders")
	defer span.End()

	endpoint := fmt.Sprintf("/slideOrders/%d/%d", kapitel, thema)
	payload, err := c.fetchListing(ctx, endpoint, slideListLifetime)
	if err != nil {
		return nil, err
	}

	records, err := decodeListing[slideOrderRecord](ctx, "slideOrders", payload)
	if err != nil {
		return nil, err
	}

	var orders []SlideOrder
	for _, r := range records {
		if r.Id == nil || r.SlideId == nil || r.Order == nil {
			continue
		}
		orders = append(orders, SlideOrder{
			Id:      *r.Id,
			Kapitel: r.Kapitel,
			Thema:   r.Thema,
			SlideId: *r.SlideId,
			Order:   *r.Order,
		})
	}
	return orders, nil
}

// the platform has shipped both key spellings for vocabulary entries
type vocabRecord struct {
	Id          *int    `json:"id"`
	Kapitel     int     `json:"kapitel"`
	Thema       int     `json:"thema"`
	German      *string `json:"german"`
	Word        *string `json:"word"`
	English     *string `json:"english"`
	Translation *string `json:"translation"`
}

func (c *Client) vocabulary(ctx context.Context, endpoint string, kapitel, thema int) ([]VocabularyItem, error) {
	payload, err := c.fetchListing(ctx, endpoint, themeListLifetime)
	if err != nil {
		return nil, err
	}

	records, err := decodeListing[vocabRecord](ctx, "vocab", payload)
	if err != nil {
		return nil, err
	}

	var items []VocabularyItem
	for _, r := range records {
		german := r.German
		if german == nil {
			german = r.Word
		}
		english := r.English
		if english == nil {
			english = r.Translation
		}
		if r.Id == nil || german == nil || english == nil {
			slog.WarnContext(ctx, "skipping vocabulary entry with missing keys",
				"endpoint", endpoint)
			continue
		}
		k := r.Kapitel
		if k == 0 {
			k = kapitel
		}
		t := r.Thema
		if t == 0 {
			t = thema
		}
		items = append(items, VocabularyItem{
			Id:      *r.Id,
			Kapitel: k,
			Thema:   t,
			German:  *german,
			English: *english,
		})
	}
	return items, nil
}

// ChapterVocabulary lists every vocabulary item of a chapter.
func (c *Client) ChapterVocabulary(ctx context.Context, kapitel int) ([]VocabularyItem, error) {
	ctx, span := tracer.Start(ctx, "ChapterVocabulary")
	defer span.End()

	return c.vocabulary(ctx, fmt.Sprintf("/vocab/%d", kapitel), kapitel, 0)
}

// ThemeVocabulary lists the vocabulary items specific to one theme.
func (c *Client) ThemeVocabulary(ctx context.Context, kapitel, thema int) ([]VocabularyItem, error) {
	ctx, span := tracer.Start(ctx, "ThemeVocabulary")
	defer span.End()

	return c.vocabulary(ctx, fmt.Sprintf("/vocab/%d/%d", kapitel, thema), kapitel, thema)
}
