package dddgerman

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"dddgerman-client/lib/telemetry"

	"github.com/stretchr/testify/require"
)

// makeToken builds an unsigned-but-well-formed JWT carrying the given
// claims. The client never verifies signatures, so a fixed junk
// signature segment is fine.
func makeToken(t testing.TB, claims map[string]any) string {
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("sig"))
}

const (
	slideWithTextForm = `
<div class="exercise">
	<div class="rs-exercise-prompt">Wie heißt du?</div>
	<form id="exercise-1">
		<input type="text" name="answer" />
		<input type="submit" value="Abschicken" />
	</form>
</div>`

	slideWithRadioForm = `
<div>
	<form id="quiz-1">
		<p>Welche Farbe hat der Himmel?</p>
		<input type="radio" name="choice" value="blau" id="opt-blau" />
		<label for="opt-blau">Blau</label>
		<input type="radio" name="choice" value="rot" id="opt-rot" />
		<label for="opt-rot">Rot</label>
	</form>
</div>`

	slideWithoutForms = `<div><p>Nur Text, keine Aufgaben.</p></div>`
)

type storedResponse struct {
	Id          int    `json:"id"`
	UserId      string `json:"userId"`
	Kapitel     int    `json:"kapitel"`
	Thema       int    `json:"thema"`
	FormId      string `json:"formId"`
	SlideId     int    `json:"slideId"`
	FormData    string `json:"formData"`
	Correct     *bool  `json:"correct,omitempty"`
	Feedback    string `json:"feedback,omitempty"`
	DateCreated string `json:"dateCreated"`
}

// fakePlatform mimics the content API closely enough for the client to
// run a full session against it: bearer auth on every route, the
// content tree fixtures above and a graded responses endpoint. Its
// responses filter ignores the thema parameter the way the live
// platform's does, which is what export deduplication guards against.
type fakePlatform struct {
	token string

	mu        sync.Mutex
	revoked   bool
	nextId    int
	responses []storedResponse
}

func (p *fakePlatform) revoke() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = true
}

func (p *fakePlatform) seed(resp storedResponse) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses = append(p.responses, resp)
	if resp.Id >= p.nextId {
		p.nextId = resp.Id + 1
	}
}

func writeJson(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (p *fakePlatform) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /kapitels", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, []map[string]any{
			{"kapitel": 1, "name": "Kapitel Eins"},
			{"kapitel": 2, "name": "Kapitel Zwei"},
			// role metadata the client has to skip over
			{"role": "student", "institutionId": 7},
		})
	})

	mux.HandleFunc("GET /themas", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, []map[string]any{
			{"kapitel": 1, "thema": 1, "name": "Begrüßung", "renderVocab": true},
			{"kapitel": 1, "thema": 2, "name": "Farben"},
			{"kapitel": 2, "thema": 1, "name": "Familie"},
		})
	})

	mux.HandleFunc("GET /slides/{kapitel}/{thema}", func(w http.ResponseWriter, r *http.Request) {
		kapitel, thema := r.PathValue("kapitel"), r.PathValue("thema")
		switch kapitel + "/" + thema {
		case "1/1":
			writeJson(w, http.StatusOK, []map[string]any{
				{"id": 101, "kapitel": 1, "thema": 1, "title": "Dialog", "content": slideWithTextForm},
				{"id": 102, "kapitel": 1, "thema": 1, "content": slideWithRadioForm},
			})
		case "1/2":
			writeJson(w, http.StatusOK, []map[string]any{
				{"id": 201, "kapitel": 1, "thema": 2, "title": "Lesetext", "content": slideWithoutForms},
			})
		case "2/1":
			writeJson(w, http.StatusOK, []map[string]any{})
		default:
			writeJson(w, http.StatusNotFound, map[string]any{"message": "theme not found"})
		}
	})

	mux.HandleFunc("GET /slideOrders/{kapitel}/{thema}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("kapitel") != "1" || r.PathValue("thema") != "1" {
			writeJson(w, http.StatusOK, []map[string]any{})
			return
		}
		writeJson(w, http.StatusOK, []map[string]any{
			{"id": 1, "kapitel": 1, "thema": 1, "slideId": 102, "order": 0},
			{"id": 2, "kapitel": 1, "thema": 1, "slideId": 101, "order": 1},
		})
	})

	mux.HandleFunc("GET /vocab/{kapitel}", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, []map[string]any{
			{"id": 1, "kapitel": 1, "german": "der Hund", "english": "dog"},
			{"id": 2, "kapitel": 1, "word": "die Katze", "translation": "cat"},
			{"id": 3, "kapitel": 1},
		})
	})

	mux.HandleFunc("GET /vocab/{kapitel}/{thema}", func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, []map[string]any{
			{"id": 4, "kapitel": 1, "thema": 1, "word": "hallo", "translation": "hello"},
		})
	})

	mux.HandleFunc("GET /responses", func(w http.ResponseWriter, r *http.Request) {
		userId := r.URL.Query().Get("userId")
		kapitel := r.URL.Query().Get("kapitel")

		p.mu.Lock()
		defer p.mu.Unlock()
		matches := []storedResponse{}
		for _, resp := range p.responses {
			if resp.UserId != userId {
				continue
			}
			if kapitel != "" && strconv.Itoa(resp.Kapitel) != kapitel {
				continue
			}
			matches = append(matches, resp)
		}
		writeJson(w, http.StatusOK, matches)
	})

	mux.HandleFunc("POST /responses", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			UserId   json.RawMessage `json:"userId"`
			Kapitel  int             `json:"kapitel"`
			Thema    int             `json:"thema"`
			FormId   string          `json:"formId"`
			FormData string          `json:"formData"`
			SlideId  int             `json:"slideId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJson(w, http.StatusBadRequest, map[string]any{"message": "malformed payload"})
			return
		}
		if payload.FormId == "" || payload.FormData == "" {
			writeJson(w, http.StatusBadRequest, map[string]any{
				"message": "validation failed",
				"errors":  map[string][]string{"formId": {"formId is required"}},
			})
			return
		}

		var values map[string]string
		json.Unmarshal([]byte(payload.FormData), &values)
		correct := values["answer"] == "Hallo" || values["choice"] == "blau"
		feedback := "Leider falsch."
		if correct {
			feedback = "Sehr gut!"
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		saved := storedResponse{
			Id:          p.nextId,
			UserId:      rawIdString(payload.UserId),
			Kapitel:     payload.Kapitel,
			Thema:       payload.Thema,
			FormId:      payload.FormId,
			SlideId:     payload.SlideId,
			FormData:    payload.FormData,
			Correct:     &correct,
			Feedback:    feedback,
			DateCreated: "2024-05-01T10:00:00Z",
		}
		p.nextId++
		p.responses = append(p.responses, saved)
		writeJson(w, http.StatusCreated, saved)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		revoked := p.revoked
		p.mu.Unlock()
		if revoked || r.Header.Get("Authorization") != "Bearer "+p.token {
			writeJson(w, http.StatusUnauthorized, map[string]any{"message": "invalid token"})
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func setupClient(t testing.TB, claims map[string]any) (*Client, *fakePlatform) {
	cleanup := telemetry.SetupForTesting("scrapers/dddgerman")
	t.Cleanup(cleanup)

	if claims == nil {
		claims = map[string]any{"sub": "42"}
	}
	platform := &fakePlatform{token: makeToken(t, claims), nextId: 1000}
	server := httptest.NewServer(platform.handler())
	t.Cleanup(server.Close)

	client, err := NewClient(context.Background(), ClientOptions{
		BaseUrl: server.URL,
		Token:   platform.token,
	})
	require.NoError(t, err)
	return client, platform
}

func boolPtr(b bool) *bool {
	return &b
}
