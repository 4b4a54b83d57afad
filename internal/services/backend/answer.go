package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/plexus/internal/models"
)

// parseAnswer decodes the acknowledgement payload. The answer body is either
// inline ("answer") or a JSON document encoded in "text".
func parseAnswer(query string, mode models.Mode, payload json.RawMessage) (*models.QueryResult, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(payload, &raw); err != nil || raw == nil {
		return nil, fmt.Errorf("undecodable answer payload")
	}
	if status, _ := raw["status"].(string); status == "failed" {
		return nil, errors.New("backend reported a failed answer")
	}

	result := &models.QueryResult{Query: query, Mode: mode, Raw: raw}

	body := raw
	if text, ok := raw["text"].(string); ok && text != "" {
		var inner map[string]interface{}
		if err := json.Unmarshal([]byte(text), &inner); err == nil {
			body = inner
		} else {
			result.Answer = text
		}
	}

	if answer, ok := body["answer"].(string); ok {
		result.Answer = answer
	}
	if results, ok := body["web_results"].([]interface{}); ok {
		for _, item := range results {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if u, ok := entry["url"].(string); ok && u != "" {
				result.Sources = append(result.Sources, u)
			}
		}
	}

	if result.Answer == "" {
		return nil, errors.New("answer payload carried no answer")
	}
	return result, nil
}

// renderMarkdown converts HTML answers to markdown; plain answers are returned unchanged
func renderMarkdown(answer, baseURL string, logger arbor.ILogger) string {
	if !strings.Contains(answer, "</") {
		return answer
	}

	converter := md.NewConverter(baseURL, true, nil)
	converted, err := converter.ConvertString(answer)
	if err != nil {
		logger.Warn().Err(err).Msg("HTML to markdown conversion failed, returning raw answer")
		return answer
	}
	return strings.TrimSpace(converted)
}
