package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var letterGrades = []string{"A+", "A", "B", "C", "D", "F"}

func TestParseLabelResponse(t *testing.T) {
	result, err := parseLabelResponse(`{"grade":" b ","rationale":"clear but short"}`, letterGrades)
	require.NoError(t, err)
	require.Equal(t, "B", result.Grade)
	require.Equal(t, "clear but short", result.Rationale)

	_, err = parseLabelResponse(`{"grade":"E"}`, letterGrades)
	require.ErrorIs(t, err, ErrGradeNotInSet)

	_, err = parseLabelResponse(`grade: A`, letterGrades)
	require.Error(t, err)
}

func TestOpenAILabelerLabel(t *testing.T) {
	var captured struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"grade\":\"A\",\"rationale\":\"well organised\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	labeler, err := NewOpenAILabeler(OpenAIConfig{APIKey: "test", BaseURL: server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	result, err := labeler.Label(context.Background(), "我的家鄉很美。", letterGrades)
	require.NoError(t, err)
	require.Equal(t, "A", result.Grade)
	require.Equal(t, "gpt-4o-mini", captured.Model)
	require.Len(t, captured.Messages, 2)
	require.Contains(t, captured.Messages[0].Content, "A+, A, B, C, D, F")
	require.Equal(t, "我的家鄉很美。", captured.Messages[1].Content)
}

func TestNewOpenAILabelerRequiresKey(t *testing.T) {
	_, err := NewOpenAILabeler(OpenAIConfig{})
	require.Error(t, err)
}
