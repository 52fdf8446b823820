package webhook

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Push is the part of a VCS push event that gets relayed.
type Push struct {
	Pusher     string
	Repository string
	Message    string
	URL        string
	Branch     string
	Commits    int
}

var requiredPushFields = []string{
	"pusher.name",
	"head_commit.message",
	"head_commit.url",
	"repository.name",
}

var pushMarkers = []string{"pusher", "head_commit", "commits", "ref"}

// looksLikePush reports whether a body without an event header has a push shape.
func looksLikePush(body []byte) bool {
	for _, key := range pushMarkers {
		if gjson.GetBytes(body, key).Exists() {
			return true
		}
	}
	return false
}

// ParsePush extracts a Push from a JSON body.
func ParsePush(body []byte) (Push, error) {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return Push{}, NewError(ErrorInvalidPayload, "body is not a JSON object")
	}

	values := gjson.GetManyBytes(body, requiredPushFields...)
	for i, value := range values {
		if !value.Exists() || value.Type == gjson.Null || strings.TrimSpace(value.String()) == "" {
			return Push{}, NewError(ErrorMissingField, "missing field "+requiredPushFields[i])
		}
	}

	push := Push{
		Pusher:     values[0].String(),
		Message:    strings.TrimSpace(values[1].String()),
		URL:        values[2].String(),
		Repository: values[3].String(),
		Branch:     strings.TrimPrefix(gjson.GetBytes(body, "ref").String(), "refs/heads/"),
		Commits:    int(gjson.GetBytes(body, "commits.#").Int()),
	}
	return push, nil
}
