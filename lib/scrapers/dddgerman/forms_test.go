package dddgerman

import (
	"context"
	"testing"

	"dddgerman-client/lib/telemetry"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, content string) []FormData {
	cleanup := telemetry.SetupForTesting("scrapers/dddgerman")
	t.Cleanup(cleanup)

	forms, err := ParseForms(context.Background(), content)
	require.NoError(t, err)
	return forms
}

func TestParseFormsSkipsUnrecognizedFragments(t *testing.T) {
	forms := parse(t, `
<div>
	<form id="mixed">
		<input type="text" name="vorname" />
		<textarea name="kommentar"></textarea>
		<input type="radio" name="artikel" value="der" />
		<input type="radio" name="artikel" value="die" />

		<input type="range" name="slider" min="0" max="10" />
		<input type="text" value="no name attribute" />
		<input type="text" name="vorname" placeholder="duplicate name" />
		<input type="submit" value="Los" />
	</form>
</div>`)

	require.Len(t, forms, 1)
	form := forms[0]
	require.Equal(t, "mixed", form.Id)

	// three recognized fields survive, every odd fragment is dropped
	var names []string
	for _, field := range form.Fields {
		names = append(names, field.Name)
	}
	require.Equal(t, []string{"vorname", "artikel", "kommentar"}, names)

	artikel, ok := form.Field("artikel")
	require.True(t, ok)
	require.Equal(t, FieldRadio, artikel.Type)
	require.Len(t, artikel.Options, 2)
}

func TestParseFormsFieldTypes(t *testing.T) {
	forms := parse(t, `
<div>
	<form id="typen">
		<label for="stadt-input">Deine Stadt</label>
		<input type="text" name="stadt" id="stadt-input" value="Berlin" required />

		<input type="checkbox" name="sprachen" value="de" id="de" />
		<label for="de">Deutsch</label>
		<input type="checkbox" name="sprachen" value="en" id="en" />
		<label for="en">Englisch</label>

		<select name="niveau">
			<option value="a1">Anfänger</option>
			<option value="b2" selected>Mittelstufe</option>
			<option>Ohne Wert</option>
		</select>
	</form>
</div>`)

	require.Len(t, forms, 1)
	form := forms[0]

	stadt, ok := form.Field("stadt")
	require.True(t, ok)
	require.Equal(t, FieldText, stadt.Type)
	require.Equal(t, "Deine Stadt", stadt.Label)
	require.Equal(t, "Berlin", stadt.Value)
	require.True(t, stadt.Required)

	sprachen, ok := form.Field("sprachen")
	require.True(t, ok)
	require.Equal(t, FieldCheckbox, sprachen.Type)
	expected := []FormOption{
		{Value: "de", Label: "Deutsch"},
		{Value: "en", Label: "Englisch"},
	}
	if diff := cmp.Diff(expected, sprachen.Options); diff != "" {
		t.Fatal(diff)
	}

	niveau, ok := form.Field("niveau")
	require.True(t, ok)
	require.Equal(t, FieldSelect, niveau.Type)
	require.Equal(t, "b2", niveau.Value)
	require.Len(t, niveau.Options, 3)
	// a value-less option falls back to its text
	require.Equal(t, "Ohne Wert", niveau.Options[2].Value)
}

func TestParseFormsSyntheticIds(t *testing.T) {
	t.Run("form tags without ids", func(t *testing.T) {
		forms := parse(t, `
<div><form><input type="text" name="a" /></form></div>
<div><form><input type="text" name="b" /></form></div>`)
		require.Len(t, forms, 2)
		require.Equal(t, "form-1", forms[0].Id)
		require.Equal(t, "form-2", forms[1].Id)
	})

	t.Run("form-like div", func(t *testing.T) {
		forms := parse(t, `
<div class="spacer"></div>
<div class="question-block">
	<p>Wie alt bist du?</p>
	<input type="text" name="alter" />
</div>`)
		require.Len(t, forms, 1)
		require.Equal(t, "synthetic-form-1", forms[0].Id)
		require.Equal(t, "Wie alt bist du?", forms[0].QuestionText)
		_, ok := forms[0].Field("alter")
		require.True(t, ok)
	})

	t.Run("bare div with inputs", func(t *testing.T) {
		forms := parse(t, `<div><input type="text" name="x" /></div>`)
		require.Len(t, forms, 1)
		require.Equal(t, "div-form-1", forms[0].Id)
	})
}

func TestParseFormsQuestionText(t *testing.T) {
	t.Run("platform prompt class wins", func(t *testing.T) {
		forms := parse(t, `
<div>
	<p>Irgendein Einleitungstext davor.</p>
	<div class="rs-exercise-prompt">Ergänze den Satz.</div>
	<form id="f1"><input type="text" name="a" /></form>
</div>`)
		require.Len(t, forms, 1)
		require.Equal(t, "Ergänze den Satz.", forms[0].QuestionText)
	})

	t.Run("label digest fallback", func(t *testing.T) {
		forms := parse(t, `
<form id="f2">
	<label for="in1">Nominativ</label><input type="text" name="n" id="in1" />
	<label for="in2">Akkusativ</label><input type="text" name="a" id="in2" />
</form>`)
		require.Len(t, forms, 1)
		require.Equal(t, "Nominativ / Akkusativ", forms[0].QuestionText)
	})

	t.Run("exercise id fallback", func(t *testing.T) {
		forms := parse(t, `<form id="f3"><input type="text" name="a" /></form>`)
		require.Len(t, forms, 1)
		require.Equal(t, "Exercise f3", forms[0].QuestionText)
	})
}

func TestParseFormsNoForms(t *testing.T) {
	forms := parse(t, `<div><p>Nur Text.</p></div>`)
	require.Empty(t, forms)
}

func TestFormDataValues(t *testing.T) {
	form := FormData{
		Fields: []FormField{
			{Name: "a", Value: "1"},
			{Name: "b"},
		},
	}
	require.Equal(t, map[string]string{"a": "1", "b": ""}, form.Values())
}
