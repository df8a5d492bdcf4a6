package dddgerman

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"dddgerman-client/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type FormFieldType int

const (
	FieldText FormFieldType = iota
	FieldTextarea
	FieldRadio
	FieldCheckbox
	FieldSelect
)

func (t FormFieldType) String() string {
	switch t {
	case FieldText:
		return "text"
	case FieldTextarea:
		return "textarea"
	case FieldRadio:
		return "radio"
	case FieldCheckbox:
		return "checkbox"
	case FieldSelect:
		return "select"
	}
	return "unknown"
}

// FormOption is one selectable value of a radio, checkbox or select
// field.
type FormOption struct {
	Value string
	Label string
}

// FormField is one answerable input extracted from slide markup. Name
// doubles as the submission key, so it is unique within a form.
type FormField struct {
	Name     string
	Type     FormFieldType
	Label    string
	Value    string
	Required bool
	// populated for radio, checkbox and select fields
	Options []FormOption
}

// FormData is one exercise form found in a slide's content.
type FormData struct {
	Id           string
	QuestionText string
	Fields       []FormField
}

// Field looks up a field by its submission name.
func (f *FormData) Field(name string) (*FormField, bool) {
	for i := range f.Fields {
		if f.Fields[i].Name == name {
			return &f.Fields[i], true
		}
	}
	return nil, false
}

// Values flattens the form into the name to value mapping the
// submission endpoint expects.
func (f *FormData) Values() map[string]string {
	values := make(map[string]string, len(f.Fields))
	for _, field := range f.Fields {
		values[field.Name] = field.Value
	}
	return values
}

// input types that map onto a plain text answer. The platform's slide
// editor emits several of these for what is semantically one free-form
// blank.
var textInputTypes = map[string]bool{
	"":               true,
	"text":           true,
	"password":       true,
	"email":          true,
	"number":         true,
	"hidden":         true,
	"search":         true,
	"tel":            true,
	"url":            true,
	"date":           true,
	"datetime-local": true,
	"month":          true,
	"week":           true,
	"time":           true,
}

// form controls that never carry an answer
var controlInputTypes = map[string]bool{
	"submit": true,
	"button": true,
	"reset":  true,
	"file":   true,
	"image":  true,
}

type formFragment struct {
	id string
	// nearest ancestor div, kept so question text living next to the
	// form is still reachable
	scope *goquery.Selection
	// the form element itself, or scope again for form-less fragments
	root *goquery.Selection
}

// ParseForms extracts every exercise form embedded in a slide's HTML.
// Extraction is best-effort: fragments it can't interpret are skipped
// and logged rather than failing the slide, since the platform edits
// its markup without notice. Only HTML that can't be parsed at all is
// an error.
func ParseForms(ctx context.Context, content string) ([]FormData, error) {
	ctx, span := tracer.Start(ctx, "ParseForms")
	defer span.End()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse slide html")
		return nil, fmt.Errorf("%w: slide content: %v", ErrParsing, err)
	}

	fragments := extractFragments(doc)
	span.SetAttributes(attribute.Int("fragment_count", len(fragments)))

	forms := make([]FormData, 0, len(fragments))
	for _, fragment := range fragments {
		forms = append(forms, parseForm(ctx, fragment))
	}
	return forms, nil
}

func classContains(sel *goquery.Selection, substrings ...string) bool {
	class, ok := sel.Attr("class")
	if !ok {
		return false
	}
	class = strings.ToLower(class)
	for _, sub := range substrings {
		if strings.Contains(class, sub) {
			return true
		}
	}
	return false
}

// extractFragments finds the form-like regions of a slide. Explicit
// form tags with ids win; form tags without ids get synthetic ones;
// slides authored without form tags at all fall back to divs that look
// like they hold inputs.
func extractFragments(doc *goquery.Document) []formFragment {
	var fragments []formFragment

	doc.Find("form").Each(func(_ int, form *goquery.Selection) {
		id, _ := form.Attr("id")
		if id == "" {
			return
		}
		fragments = append(fragments, formFragment{
			id:    id,
			scope: divContext(form),
			root:  form,
		})
	})
	if len(fragments) > 0 {
		return fragments
	}

	doc.Find("form").Each(func(i int, form *goquery.Selection) {
		fragments = append(fragments, formFragment{
			id:    fmt.Sprintf("form-%d", i+1),
			scope: divContext(form),
			root:  form,
		})
	})
	if len(fragments) > 0 {
		return fragments
	}

	doc.Find("div").Each(func(_ int, div *goquery.Selection) {
		if !classContains(div, "form", "input", "question") {
			return
		}
		if div.Find("input, textarea, select").Length() == 0 {
			return
		}
		fragments = append(fragments, formFragment{
			id:    fmt.Sprintf("synthetic-form-%d", len(fragments)+1),
			scope: div,
			root:  div,
		})
	})
	if len(fragments) > 0 {
		return fragments
	}

	doc.Find("div").Each(func(_ int, div *goquery.Selection) {
		if div.Find("input, textarea, select").Length() == 0 {
			return
		}
		fragments = append(fragments, formFragment{
			id:    fmt.Sprintf("div-form-%d", len(fragments)+1),
			scope: div,
			root:  div,
		})
	})
	return fragments
}

func divContext(form *goquery.Selection) *goquery.Selection {
	parent := form.Closest("div")
	if parent.Length() == 0 {
		return form
	}
	return parent
}

func parseForm(ctx context.Context, fragment formFragment) FormData {
	form := FormData{Id: fragment.id}

	fragment.root.Find("input").Each(func(_ int, input *goquery.Selection) {
		name, _ := input.Attr("name")
		if name == "" {
			slog.DebugContext(ctx, "skipping input without a name attribute",
				"form", fragment.id)
			return
		}

		inputType, _ := input.Attr("type")
		inputType = strings.ToLower(inputType)
		switch {
		case inputType == "radio" || inputType == "checkbox":
			parseChoiceInput(&form, fragment, input, name, inputType)
		case textInputTypes[inputType]:
			if _, exists := form.Field(name); exists {
				slog.DebugContext(ctx, "skipping input with duplicate name",
					"form", fragment.id, "name", name)
				return
			}
			id, _ := input.Attr("id")
			value, _ := input.Attr("value")
			_, required := input.Attr("required")
			form.Fields = append(form.Fields, FormField{
				Name:     name,
				Type:     FieldText,
				Label:    findLabel(fragment.root, name, id, nil),
				Value:    value,
				Required: required,
			})
		case controlInputTypes[inputType]:
			// submit buttons and friends carry no answer
		default:
			slog.DebugContext(ctx, "skipping input with unrecognized type",
				"form", fragment.id, "name", name, "type", inputType)
		}
	})

	fragment.root.Find("textarea").Each(func(_ int, textarea *goquery.Selection) {
		name, _ := textarea.Attr("name")
		if name == "" {
			return
		}
		if _, exists := form.Field(name); exists {
			slog.DebugContext(ctx, "skipping textarea with duplicate name",
				"form", fragment.id, "name", name)
			return
		}
		id, _ := textarea.Attr("id")
		_, required := textarea.Attr("required")
		form.Fields = append(form.Fields, FormField{
			Name:     name,
			Type:     FieldTextarea,
			Label:    findLabel(fragment.root, name, id, nil),
			Value:    textarea.Text(),
			Required: required,
		})
	})

	fragment.root.Find("select").Each(func(_ int, sel *goquery.Selection) {
		name, _ := sel.Attr("name")
		if name == "" {
			return
		}
		if _, exists := form.Field(name); exists {
			slog.DebugContext(ctx, "skipping select with duplicate name",
				"form", fragment.id, "name", name)
			return
		}
		id, _ := sel.Attr("id")
		_, required := sel.Attr("required")
		field := FormField{
			Name:     name,
			Type:     FieldSelect,
			Label:    findLabel(fragment.root, name, id, nil),
			Required: required,
		}
		sel.Find("option").Each(func(_ int, option *goquery.Selection) {
			label := htmlutil.SelectionText(option)
			value, ok := option.Attr("value")
			if !ok {
				value = label
			}
			field.Options = append(field.Options, FormOption{
				Value: value,
				Label: label,
			})
			if _, selected := option.Attr("selected"); selected {
				field.Value = value
			}
		})
		form.Fields = append(form.Fields, field)
	})

	form.QuestionText = questionText(fragment, form)
	return form
}

// parseChoiceInput appends a radio/checkbox option, merging inputs that
// share a name into a single field.
func parseChoiceInput(form *FormData, fragment formFragment, input *goquery.Selection, name, inputType string) {
	value, _ := input.Attr("value")
	optionLabel := findLabel(fragment.root, name, "", &value)
	if optionLabel == "" {
		optionLabel = value
	}
	option := FormOption{Value: value, Label: optionLabel}

	if existing, ok := form.Field(name); ok {
		existing.Options = append(existing.Options, option)
		return
	}

	fieldType := FieldRadio
	if inputType == "checkbox" {
		fieldType = FieldCheckbox
	}
	id, _ := input.Attr("id")
	_, required := input.Attr("required")
	form.Fields = append(form.Fields, FormField{
		Name:     name,
		Type:     fieldType,
		Label:    findLabel(fragment.root, name, id, nil),
		Required: required,
		Options:  []FormOption{option},
	})
}

// findLabel resolves the human label of a field. optionValue narrows
// the search to one radio/checkbox option when set.
func findLabel(root *goquery.Selection, name, id string, optionValue *string) string {
	if id != "" {
		label := root.Find(fmt.Sprintf("label[for=%q]", id))
		if label.Length() > 0 {
			return htmlutil.SelectionText(label.First())
		}
	}

	if optionValue != nil {
		input := root.Find(fmt.Sprintf("input[name=%q][value=%q]", name, *optionValue)).First()
		if input.Length() > 0 {
			if inputId, ok := input.Attr("id"); ok && inputId != "" {
				label := root.Find(fmt.Sprintf("label[for=%q]", inputId))
				if label.Length() > 0 {
					return htmlutil.SelectionText(label.First())
				}
			}
			sibling := input.Next()
			if sibling.Length() > 0 && goquery.NodeName(sibling) == "label" {
				return htmlutil.SelectionText(sibling)
			}
			parent := input.Closest("label")
			if parent.Length() > 0 {
				return htmlutil.SelectionText(parent)
			}
		}
	}

	label := root.Find(fmt.Sprintf("label[for=%q]", name))
	if label.Length() > 0 {
		return htmlutil.SelectionText(label.First())
	}

	input := root.Find(fmt.Sprintf("input[name=%q]", name)).First()
	if input.Length() > 0 {
		parent := input.Parent()
		if goquery.NodeName(parent) == "label" {
			return htmlutil.SelectionText(parent)
		}
	}
	return ""
}

// questionText recovers the prompt or instruction a form belongs to.
// The platform's slide editor has gone through several markup
// generations, so this walks a ladder of increasingly loose heuristics
// and settles for a label digest when nothing else matches.
func questionText(fragment formFragment, form FormData) string {
	for _, class := range []string{"rs-exercise-prompt", "rs-exercise-instruction", "rs-exercise-question"} {
		text := ""
		fragment.scope.Find("div."+class).EachWithBreak(func(_ int, div *goquery.Selection) bool {
			text = htmlutil.SelectionText(div)
			return text == ""
		})
		if text != "" {
			return text
		}
	}

	text := ""
	fragment.scope.Find("div").EachWithBreak(func(_ int, div *goquery.Selection) bool {
		if !classContains(div, "exercise") {
			return true
		}
		candidate := htmlutil.SelectionText(div)
		if len(candidate) > 5 && len(candidate) < 500 {
			text = candidate
			return false
		}
		return true
	})
	if text != "" {
		return text
	}

	fragment.scope.Find("div, p").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if !classContains(el, "question", "prompt", "instruction") {
			return true
		}
		text = htmlutil.SelectionText(el)
		return text == ""
	})
	if text != "" {
		return text
	}

	fragment.scope.Find("p, h1, h2, h3, h4, h5, h6").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		candidate := htmlutil.SelectionText(el)
		if len(candidate) > 5 && len(candidate) < 500 {
			text = candidate
			return false
		}
		return true
	})
	if text != "" {
		return text
	}

	legend := fragment.root.Find("legend").First()
	if legend.Length() > 0 {
		if text := htmlutil.SelectionText(legend); text != "" {
			return text
		}
	}

	fragment.root.Find("div").EachWithBreak(func(_ int, div *goquery.Selection) bool {
		if !classContains(div, "form-group", "field-group") {
			return true
		}
		heading := div.Find("label, h3, h4, p").First()
		if heading.Length() > 0 {
			text = htmlutil.SelectionText(heading)
		}
		return text == ""
	})
	if text != "" {
		return text
	}

	if title, ok := fragment.root.Attr("title"); ok && title != "" {
		return title
	}
	if label, ok := fragment.root.Attr("aria-label"); ok && label != "" {
		return label
	}

	var labels []string
	for _, field := range form.Fields {
		if len(field.Label) > 3 {
			labels = append(labels, field.Label)
		}
	}
	if len(labels) > 0 {
		digest := strings.Join(labels[:min(3, len(labels))], " / ")
		if len(labels) > 3 {
			digest += " ..."
		}
		return digest
	}

	placeholder := ""
	fragment.root.Find("input").EachWithBreak(func(_ int, input *goquery.Selection) bool {
		candidate, _ := input.Attr("placeholder")
		if len(candidate) > 3 {
			placeholder = candidate
			return false
		}
		return true
	})
	if placeholder != "" {
		return "Input: " + placeholder
	}

	if goquery.NodeName(fragment.root) == "form" {
		if id, ok := fragment.root.Attr("id"); ok && id != "" {
			return "Exercise " + id
		}
	}
	return ""
}

// SlideContent fetches a slide and parses the exercise forms embedded
// in its markup.
func (c *Client) SlideContent(ctx context.Context, kapitel, thema, slideId int) (Slide, []FormData, error) {
	ctx, span := tracer.Start(ctx, "SlideContent")
	defer span.End()
	span.SetAttributes(
		attribute.Int("kapitel", kapitel),
		attribute.Int("thema", thema),
		attribute.Int("slide_id", slideId),
	)

	slide, err := c.Slide(ctx, kapitel, thema, slideId)
	if err != nil {
		return Slide{}, nil, err
	}

	forms, err := ParseForms(ctx, slide.ContentHtml)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse slide forms")
		return Slide{}, nil, err
	}
	span.SetAttributes(attribute.Int("form_count", len(forms)))
	return slide, forms, nil
}
