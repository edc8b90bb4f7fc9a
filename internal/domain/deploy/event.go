package deploy

import (
	"strings"

	"github.com/tidwall/gjson"
)

type EventType string

const (
	EventPush        EventType = "push"
	EventPullRequest EventType = "pull_request"
	EventRelease     EventType = "release"
	EventIssues      EventType = "issues"
	EventOther       EventType = "other"
)

var EventTypes = []EventType{EventPush, EventPullRequest, EventRelease, EventIssues, EventOther}

const branchRefPrefix = "refs/heads/"

// ParsedEvent holds the fields extracted from a webhook payload.
type ParsedEvent struct {
	Type          EventType
	Repository    string
	Branch        string
	CommitSHA     string
	CommitSummary string
}

// DecodePayload checks that body is a JSON object and returns the
// repository.full_name it names.
func DecodePayload(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", ErrPayloadNotObject
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return "", ErrPayloadNotObject
	}

	name := doc.Get("repository.full_name")
	if name.Type != gjson.String || strings.TrimSpace(name.Str) == "" {
		return "", ErrRepositoryMissing
	}
	return strings.TrimSpace(name.Str), nil
}

// ParseEvent classifies a decoded payload. The first matching rule wins and
// unknown shapes fall back to EventOther; it never fails.
func ParseEvent(body []byte) ParsedEvent {
	doc := gjson.ParseBytes(body)
	out := ParsedEvent{
		Type:       EventOther,
		Repository: doc.Get("repository.full_name").String(),
	}

	if ref := doc.Get("ref"); ref.Type == gjson.String && strings.HasPrefix(ref.Str, branchRefPrefix) {
		out.Type = EventPush
		out.Branch = strings.TrimPrefix(ref.Str, branchRefPrefix)
		out.CommitSHA = doc.Get("head_commit.id").String()
		out.CommitSummary = doc.Get("head_commit.message").String()
		return out
	}

	if pr := doc.Get("pull_request"); pr.Exists() {
		out.Type = EventPullRequest
		out.Branch = pr.Get("head.ref").String()
		out.CommitSHA = pr.Get("head.sha").String()
		out.CommitSummary = "PR #" + pr.Get("number").String() + ": " + pr.Get("title").String()
		return out
	}

	if release := doc.Get("release"); release.Exists() {
		out.Type = EventRelease
		out.CommitSummary = "Release: " + release.Get("name").String()
		return out
	}

	if issue := doc.Get("issue"); issue.Exists() {
		out.Type = EventIssues
		out.CommitSummary = "Issue #" + issue.Get("number").String() + ": " + issue.Get("title").String()
		return out
	}

	return out
}
