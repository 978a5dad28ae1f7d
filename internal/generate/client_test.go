package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wqooops/report-card-comments/internal/config"
	"github.com/wqooops/report-card-comments/internal/model"
	pkgerrors "github.com/wqooops/report-card-comments/pkg/errors"
)

func testConfig(baseURL string) config.GeneratorConfig {
	return config.GeneratorConfig{
		BaseURL:         baseURL,
		Model:           "acme/writer",
		APIToken:        "test-token",
		PollInterval:    time.Millisecond,
		MaxPollAttempts: 5,
	}
}

func TestGenerateImmediateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/acme/writer/predictions", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "wait", r.Header.Get("Prefer"))

		var body struct {
			Input struct {
				Prompt            string `json:"prompt"`
				SystemInstruction string `json:"system_instruction"`
			} `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body.Input.Prompt, "she/her")

		fmt.Fprint(w, `{"id":"p1","status":"succeeded","output":["A fine"," comment. "]}`)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	text, err := client.Generate(context.Background(), SystemInstruction, "prompt with she/her")
	require.NoError(t, err)
	assert.Equal(t, "A fine comment.", text)
}

func TestGenerateStringOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"p1","status":"succeeded","output":"  single string  "}`)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	text, err := client.Generate(context.Background(), SystemInstruction, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "single string", text)
}

func TestGeneratePollsUntilSucceeded(t *testing.T) {
	polls := 0
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprintf(w, `{"id":"p1","status":"processing","urls":{"get":"%s/predictions/p1"}}`, server.URL)
			return
		}

		assert.Equal(t, "/predictions/p1", r.URL.Path)
		polls++
		if polls < 3 {
			fmt.Fprint(w, `{"id":"p1","status":"processing"}`)
			return
		}
		fmt.Fprint(w, `{"id":"p1","status":"succeeded","output":["done"]}`)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	text, err := client.Generate(context.Background(), SystemInstruction, "prompt")
	require.NoError(t, err)
	assert.Equal(t, "done", text)
	assert.Equal(t, 3, polls)
}

func TestGenerateTimesOutAfterPollBound(t *testing.T) {
	polls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			fmt.Fprint(w, `{"id":"p1","status":"starting"}`)
			return
		}
		polls++
		fmt.Fprint(w, `{"id":"p1","status":"processing"}`)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.MaxPollAttempts = 4

	client := NewClient(cfg)
	_, err := client.Generate(context.Background(), SystemInstruction, "prompt")
	assert.ErrorIs(t, err, pkgerrors.ErrGenerationTimeout)
	assert.Equal(t, 4, polls)
}

func TestGenerateTerminalFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"p1","status":"failed","error":"NSFW content detected"}`)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	_, err := client.Generate(context.Background(), SystemInstruction, "prompt")

	var genErr pkgerrors.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "failed", genErr.Status)
	assert.Contains(t, genErr.Detail, "NSFW")
}

func TestGenerateEmptyOutputIsFailure(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing output", `{"id":"p1","status":"succeeded"}`},
		{"empty array", `{"id":"p1","status":"succeeded","output":[]}`},
		{"whitespace only", `{"id":"p1","status":"succeeded","output":["  ","\n"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			client := NewClient(testConfig(server.URL))
			_, err := client.Generate(context.Background(), SystemInstruction, "prompt")
			assert.ErrorIs(t, err, pkgerrors.ErrEmptyOutput)
		})
	}
}

func TestGenerateServiceUnavailableIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	_, err := client.Generate(context.Background(), SystemInstruction, "prompt")

	var retryable pkgerrors.RetryableError
	assert.ErrorAs(t, err, &retryable)
	assert.False(t, pkgerrors.IsPermanent(err))
}

func TestBuildPrompt(t *testing.T) {
	in := model.CommentInput{
		GradeLevel: "5th Grade",
		Pronouns:   "she/her",
		Strength:   "reading",
		Weakness:   "focus",
	}

	prompt := BuildPrompt(in)
	assert.Contains(t, prompt, "Grade Level: 5th Grade")
	assert.Contains(t, prompt, "Pronouns: she/her")
	assert.Contains(t, prompt, "Areas of Strength:\nreading")
	assert.Contains(t, prompt, "Areas for Growth:\nfocus")

	in.Weakness = ""
	assert.NotContains(t, BuildPrompt(in), "Areas for Growth")
}
