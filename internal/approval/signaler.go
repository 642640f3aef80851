package approval

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// HTTPSignaler resumes workflow executions over the engine's callback
// endpoint: POST /task/success and POST /task/failure with the task token
// in the body.
type HTTPSignaler struct {
	baseURL    string
	httpClient *http.Client
}

var _ Signaler = (*HTTPSignaler)(nil)

// NewHTTPSignaler creates a signaler for the given callback base URL.
func NewHTTPSignaler(baseURL string, httpClient *http.Client) *HTTPSignaler {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPSignaler{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// TaskSuccess resumes the execution with the given JSON output.
func (s *HTTPSignaler) TaskSuccess(ctx context.Context, taskToken, output string) error {
	body, err := sjson.Set(`{}`, "taskToken", taskToken)
	if err != nil {
		return fmt.Errorf("build success payload: %w", err)
	}
	if body, err = sjson.SetRaw(body, "output", output); err != nil {
		return fmt.Errorf("build success payload: %w", err)
	}
	return s.post(ctx, "/task/success", body)
}

// TaskFailure fails the execution's parked task with an error code and cause.
func (s *HTTPSignaler) TaskFailure(ctx context.Context, taskToken, errorCode, cause string) error {
	body, err := sjson.Set(`{}`, "taskToken", taskToken)
	if err != nil {
		return fmt.Errorf("build failure payload: %w", err)
	}
	if body, err = sjson.Set(body, "error", errorCode); err != nil {
		return fmt.Errorf("build failure payload: %w", err)
	}
	if body, err = sjson.Set(body, "cause", cause); err != nil {
		return fmt.Errorf("build failure payload: %w", err)
	}
	return s.post(ctx, "/task/failure", body)
}

func (s *HTTPSignaler) post(ctx context.Context, path, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("create signal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("signal request failed: %w", err)
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close signal response body: %v", errClose)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("signal %s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}
	return nil
}
