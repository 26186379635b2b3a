// Package validator checks feed requests before they reach the topic and
// reports every failing field at once.
package validator

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Peer-Search-Merge/internal/ingestion"
)

const (
	maxURLLength      = 2048
	maxTitleLength    = 1024
	maxBodyLength     = 1048576
	maxLanguageLength = 8
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	var parts []string
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	return strings.Join(parts, "; ")
}

// ValidateURL accepts absolute http and https urls with a host.
func ValidateURL(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "url is required"
	}
	if len(raw) > maxURLLength {
		return fmt.Sprintf("url must be at most %d characters", maxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "url must be absolute"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "url scheme must be http or https"
	}
	return ""
}

func ValidateFeedRequest(req *ingestion.FeedRequest) error {
	errs := make(map[string]string)

	if msg := ValidateURL(req.URL); msg != "" {
		errs["url"] = msg
	}
	if len(strings.TrimSpace(req.Title)) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}
	body := strings.TrimSpace(req.Body)
	if body == "" && strings.TrimSpace(req.Title) == "" {
		errs["body"] = "title or body is required"
	} else if len(body) > maxBodyLength {
		errs["body"] = fmt.Sprintf("body must be at most %d characters", maxBodyLength)
	}
	if req.Quality < 0 {
		errs["quality"] = "quality must not be negative"
	}
	if len(req.Language) > maxLanguageLength {
		errs["language"] = fmt.Sprintf("language must be at most %d characters", maxLanguageLength)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
