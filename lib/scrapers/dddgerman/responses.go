package dddgerman

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// UserResponse is one saved answer submission.
type UserResponse struct {
	Id      int
	UserId  string
	Kapitel int
	Thema   int
	FormId  string
	SlideId int
	// raw JSON object mapping field names to submitted values
	FormData string
	// legacy plain-text answer, older records only
	Response string
	// grading info, present only when the platform grades the form
	Correct  *bool
	Feedback string

	CreatedAt string
	UpdatedAt string
}

// Values parses the submitted field mapping out of FormData. Records
// whose FormData isn't a JSON object yield an empty map.
func (r UserResponse) Values() map[string]string {
	if r.FormData == "" {
		return map[string]string{}
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(r.FormData), &values); err != nil {
		return map[string]string{}
	}
	return values
}

// Text flattens the response to a single display string. Graded and
// free-form submissions usually carry their answer under the "answer"
// key; older records carry a bare Response string instead.
func (r UserResponse) Text() string {
	if answer, ok := r.Values()["answer"]; ok {
		return answer
	}
	if r.FormData != "" {
		return r.FormData
	}
	return r.Response
}

// the platform's response records have drifted across API generations:
// userId flips between number and string, and both timestamp spellings
// are live
type userResponseRecord struct {
	Id           *int            `json:"id"`
	UserId       json.RawMessage `json:"userId"`
	Kapitel      int             `json:"kapitel"`
	Thema        int             `json:"thema"`
	FormId       string          `json:"formId"`
	SlideId      *int            `json:"slideId"`
	FormData     string          `json:"formData"`
	Response     string          `json:"response"`
	Correct      *bool           `json:"correct"`
	Feedback     string          `json:"feedback"`
	DateCreated  string          `json:"dateCreated"`
	CreatedAt    string          `json:"createdAt"`
	DateModified string          `json:"dateModified"`
	UpdatedAt    string          `json:"updatedAt"`
}

func rawIdString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func (r userResponseRecord) toResponse() UserResponse {
	resp := UserResponse{
		UserId:    rawIdString(r.UserId),
		Kapitel:   r.Kapitel,
		Thema:     r.Thema,
		FormId:    r.FormId,
		FormData:  r.FormData,
		Response:  r.Response,
		Correct:   r.Correct,
		Feedback:  r.Feedback,
		CreatedAt: r.DateCreated,
		UpdatedAt: r.DateModified,
	}
	if r.Id != nil {
		resp.Id = *r.Id
	} else {
		resp.Id = -1
	}
	if r.SlideId != nil {
		resp.SlideId = *r.SlideId
	}
	if resp.CreatedAt == "" {
		resp.CreatedAt = r.CreatedAt
	}
	if resp.UpdatedAt == "" {
		resp.UpdatedAt = r.UpdatedAt
	}
	return resp
}

// UserResponses lists the answers a user has saved within one theme.
func (c *Client) UserResponses(ctx context.Context, userId string, kapitel, thema int) ([]UserResponse, error) {
	ctx, span := tracer.Start(ctx, "UserResponses")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", userId),
		attribute.Int("kapitel", kapitel),
		attribute.Int("thema", thema),
	)

	endpoint := fmt.Sprintf("/responses?userId=%s&kapitel=%d&thema=%d",
		url.QueryEscape(userId), kapitel, thema)
	payload, err := c.fetchListing(ctx, endpoint, slideListLifetime)
	if err != nil {
		return nil, err
	}

	records, err := decodeListing[userResponseRecord](ctx, "responses", payload)
	if err != nil {
		return nil, err
	}

	responses := make([]UserResponse, 0, len(records))
	for _, r := range records {
		responses = append(responses, r.toResponse())
	}
	return responses, nil
}

// Submission is one answer payload bound for the responses endpoint.
type Submission struct {
	Kapitel int
	Thema   int
	SlideId int
	FormId  string
	// field name to value mapping, sent JSON-encoded as formData
	Values map[string]string
}

// SubmitForm posts a full field mapping for one form and returns the
// record the platform saved. Submissions always go to the wire;
// nothing about them is cached.
func (c *Client) SubmitForm(ctx context.Context, sub Submission) (UserResponse, error) {
	ctx, span := tracer.Start(ctx, "SubmitForm")
	defer span.End()
	span.SetAttributes(
		attribute.Int("kapitel", sub.Kapitel),
		attribute.Int("thema", sub.Thema),
		attribute.Int("slide_id", sub.SlideId),
		attribute.String("form_id", sub.FormId),
	)

	formData, err := json.Marshal(sub.Values)
	if err != nil {
		return UserResponse{}, err
	}

	// older accounts carry numeric ids, newer ones emails; the
	// endpoint wants whichever shape the token encoded
	var userId any = c.UserId
	if n, err := strconv.Atoi(c.UserId); err == nil {
		userId = n
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"userId":   userId,
			"kapitel":  sub.Kapitel,
			"thema":    sub.Thema,
			"formId":   sub.FormId,
			"formData": string(formData),
			"slideId":  sub.SlideId,
		}).
		Post("/responses")
	if err != nil {
		span.SetStatus(codes.Error, "failed to post submission")
		return UserResponse{}, err
	}
	if err := statusError(res); err != nil {
		span.RecordError(err)
		return UserResponse{}, err
	}

	var record userResponseRecord
	if err := json.Unmarshal(res.Body(), &record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode saved response")
		return UserResponse{}, fmt.Errorf("%w: saved response: %v", ErrParsing, err)
	}

	saved := record.toResponse()
	if saved.UserId == "" {
		saved.UserId = c.UserId
	}
	if saved.Kapitel == 0 {
		saved.Kapitel = sub.Kapitel
	}
	if saved.Thema == 0 {
		saved.Thema = sub.Thema
	}
	if saved.FormId == "" {
		saved.FormId = sub.FormId
	}
	if saved.SlideId == 0 {
		saved.SlideId = sub.SlideId
	}
	if saved.FormData == "" && saved.Response == "" {
		saved.FormData = string(formData)
	}
	return saved, nil
}

// SubmissionResult is the outcome of a single-field answer submission.
type SubmissionResult struct {
	Submitted UserResponse
	// nil when the platform doesn't grade this form
	Correct  *bool
	Feedback string
}

// SubmitAnswer fills one field of a slide's form and submits it. The
// value is checked against the field's option set before touching the
// wire, so an impossible choice fails locally the same way the server
// would reject it.
func (c *Client) SubmitAnswer(ctx context.Context, kapitel, thema, slideId int, fieldName, value string) (SubmissionResult, error) {
	ctx, span := tracer.Start(ctx, "SubmitAnswer")
	defer span.End()
	span.SetAttributes(
		attribute.Int("slide_id", slideId),
		attribute.String("field_name", fieldName),
	)

	slide, forms, err := c.SlideContent(ctx, kapitel, thema, slideId)
	if err != nil {
		return SubmissionResult{}, err
	}

	var target *FormData
	var field *FormField
	for i := range forms {
		if f, ok := forms[i].Field(fieldName); ok {
			target = &forms[i]
			field = f
			break
		}
	}
	if target == nil {
		return SubmissionResult{}, fmt.Errorf("%w: no form on slide %d has a field named %q",
			ErrNotFound, slideId, fieldName)
	}

	if len(field.Options) > 0 {
		valid := false
		for _, option := range field.Options {
			if option.Value == value {
				valid = true
				break
			}
		}
		if !valid {
			return SubmissionResult{}, fmt.Errorf("%w: %q is not an option of field %q",
				ErrValidation, value, fieldName)
		}
	}

	values := target.Values()
	values[fieldName] = value

	saved, err := c.SubmitForm(ctx, Submission{
		Kapitel: kapitel,
		Thema:   thema,
		SlideId: slide.Id,
		FormId:  target.Id,
		Values:  values,
	})
	if err != nil {
		return SubmissionResult{}, err
	}

	return SubmissionResult{
		Submitted: saved,
		Correct:   saved.Correct,
		Feedback:  saved.Feedback,
	}, nil
}

// ResponseRecord is one exported answer joined against the content
// tree it belongs to.
type ResponseRecord struct {
	UserId       string
	Kapitel      int
	ChapterName  string
	Thema        int
	ThemeName    string
	SlideId      int
	SlideTitle   string
	FormId       string
	Question     string
	ResponseText string
	FormData     string
	CreatedAt    string
	UpdatedAt    string
}

// ExportResponses walks the whole content tree and collects every
// answer the user has saved, enriched with chapter, theme, slide and
// question context. A theme that fails to fetch is skipped with a
// warning so one broken corner of the tree doesn't lose the rest of
// the export.
func (c *Client) ExportResponses(ctx context.Context, userId string) ([]ResponseRecord, error) {
	ctx, span := tracer.Start(ctx, "ExportResponses")
	defer span.End()
	span.SetAttributes(attribute.String("user_id", userId))

	chapters, err := c.Chapters(ctx)
	if err != nil {
		return nil, err
	}

	var records []ResponseRecord
	seen := map[int]bool{}
	for _, chapter := range chapters {
		themes, err := c.ThemesForChapter(ctx, chapter.Kapitel)
		if err != nil {
			return nil, err
		}
		for _, theme := range themes {
			responses, err := c.UserResponses(ctx, userId, theme.Kapitel, theme.Thema)
			if err != nil {
				slog.WarnContext(ctx, "skipping theme during export",
					"kapitel", theme.Kapitel, "thema", theme.Thema, "err", err)
				continue
			}

			for _, resp := range responses {
				if resp.Id >= 0 && seen[resp.Id] {
					continue
				}
				if resp.Id >= 0 {
					seen[resp.Id] = true
				}

				record := ResponseRecord{
					UserId:       resp.UserId,
					Kapitel:      chapter.Kapitel,
					ChapterName:  chapter.Name,
					Thema:        theme.Thema,
					ThemeName:    theme.Name,
					SlideId:      resp.SlideId,
					FormId:       resp.FormId,
					ResponseText: resp.Text(),
					FormData:     resp.FormData,
					CreatedAt:    resp.CreatedAt,
					UpdatedAt:    resp.UpdatedAt,
				}

				slide, forms, err := c.SlideContent(ctx, theme.Kapitel, theme.Thema, resp.SlideId)
				if err == nil {
					record.SlideTitle = slide.Title
					for _, form := range forms {
						if form.Id == resp.FormId {
							record.Question = form.QuestionText
							break
						}
					}
				}

				records = append(records, record)
			}
		}
	}

	span.SetAttributes(attribute.Int("record_count", len(records)))
	return records, nil
}
