package dddgerman

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
)

// The four error kinds every operation surfaces. Callers match them
// with errors.Is; the wrapped message carries the server detail.
var (
	ErrAuthentication = errors.New("authentication rejected")
	ErrNotFound       = errors.New("resource not found")
	ErrValidation     = errors.New("submission rejected")
	ErrParsing        = errors.New("unexpected response shape")
)

// error envelope the platform returns on 4xx/5xx, ASP.NET style
type apiErrorBody struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

func (b apiErrorBody) detail() string {
	if len(b.Errors) == 0 {
		return b.Message
	}
	parts := make([]string, 0, len(b.Errors))
	for field, msgs := range b.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(msgs, ", ")))
	}
	if b.Message == "" {
		return strings.Join(parts, "; ")
	}
	return b.Message + " details: " + strings.Join(parts, "; ")
}

func errorDetail(res *resty.Response) string {
	var body apiErrorBody
	err := json.Unmarshal(res.Body(), &body)
	if err == nil && body.detail() != "" {
		return body.detail()
	}

	raw := strings.TrimSpace(res.String())
	if len(raw) > 200 {
		raw = raw[:200]
	}
	if raw == "" {
		return res.Status()
	}
	return raw
}

// statusError maps a non-2xx platform response onto the error
// taxonomy. Success responses map to nil.
func statusError(res *resty.Response) error {
	if res.IsSuccess() {
		return nil
	}

	detail := errorDetail(res)
	switch code := res.StatusCode(); {
	case code == 400:
		return fmt.Errorf("%w: %s", ErrValidation, detail)
	case code == 401 || code == 403:
		return fmt.Errorf("%w: %s", ErrAuthentication, detail)
	case code == 404:
		return fmt.Errorf("%w: %s", ErrNotFound, detail)
	default:
		return fmt.Errorf("%s %s: status %d: %s",
			res.Request.Method, res.Request.URL, code, detail)
	}
}
