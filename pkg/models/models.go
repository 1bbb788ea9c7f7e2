// Package models defines the shared data types for the ForgeBot webhook
// service: the typed webhook payloads received from GitHub, the normalized
// trigger handed to downstream tasks, and the usage-tracking records kept
// by the quota governor.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ── Validation ───────────────────────────────────────────────

// SchemaError reports a structurally invalid webhook payload. It carries
// the dotted path of the offending field so the 422 response is actionable.
// A SchemaError is expected background noise, not a system fault.
type SchemaError struct {
	Path   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid payload at %q: %s", e.Path, e.Reason)
}

// missingField builds the SchemaError used for absent required fields.
func missingField(path string) *SchemaError {
	return &SchemaError{Path: path, Reason: "required field is missing or empty"}
}

// ── Common webhook fragments ─────────────────────────────────

// Account is a GitHub user or bot as it appears inside webhook payloads.
// Type distinguishes human accounts ("User") from bots and apps.
type Account struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

// IsHuman reports whether the account belongs to a human user rather
// than a bot or app integration.
func (a Account) IsHuman() bool {
	return a.Type == "User"
}

// Label is a repository label attached to an issue.
type Label struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// Repository identifies the repository an event originated from.
type Repository struct {
	FullName    string  `json:"full_name"`
	Description *string `json:"description"`
}

// Installation identifies the app installation that delivered the event.
type Installation struct {
	ID int64 `json:"id"`
}

// PullRequestRef is the minimal PR reference embedded in check runs.
type PullRequestRef struct {
	Number int `json:"number"`
}

// Branch is the head/base ref fragment of a pull request payload.
type Branch struct {
	Ref    string `json:"ref"`
	Merged bool   `json:"merged"`
}

// Issue is the issue fragment shared by issue and issue-comment events.
// PullRequest is non-nil when the "issue" is actually a pull request.
type Issue struct {
	Number      int            `json:"number"`
	Title       string         `json:"title"`
	Body        *string        `json:"body"`
	HTMLURL     string         `json:"html_url"`
	User        Account        `json:"user"`
	Labels      []Label        `json:"labels"`
	PullRequest map[string]any `json:"pull_request"`
}

// HasLabel reports whether the issue carries the named label,
// matched case-insensitively.
func (i *Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if strings.EqualFold(l.Name, name) {
			return true
		}
	}
	return false
}

// Comment is an issue comment or a pull-request review comment.
// Path and OriginalLine are only set on review comments.
type Comment struct {
	ID           int64   `json:"id"`
	Body         string  `json:"body"`
	User         Account `json:"user"`
	Path         *string `json:"path"`
	OriginalLine *int    `json:"original_line"`
}

// PullRequest is the PR fragment of pull_request and review-comment events.
type PullRequest struct {
	Number   int      `json:"number"`
	User     Account  `json:"user"`
	MergedBy *Account `json:"merged_by"`
	Merged   bool     `json:"merged"`
	Head     Branch   `json:"head"`
	Base     Branch   `json:"base"`
}

// CheckRun is the check_run fragment of check-run events.
type CheckRun struct {
	Name         string           `json:"name"`
	Status       string           `json:"status"`
	Conclusion   string           `json:"conclusion"`
	HeadSHA      string           `json:"head_sha"`
	PullRequests []PullRequestRef `json:"pull_requests"`
}

// ── Event payloads, one per (kind, action) family ────────────

// IssueEvent is the payload of "issues" events (opened, labeled).
type IssueEvent struct {
	Action       string       `json:"action"`
	Issue        Issue        `json:"issue"`
	Repository   Repository   `json:"repository"`
	Installation Installation `json:"installation"`
}

// Validate checks the structural shape of an issues payload.
func (e *IssueEvent) Validate() error {
	if e.Issue.Number <= 0 {
		return missingField("issue.number")
	}
	if e.Issue.User.Login == "" {
		return missingField("issue.user.login")
	}
	if e.Repository.FullName == "" {
		return missingField("repository.full_name")
	}
	if e.Installation.ID <= 0 {
		return missingField("installation.id")
	}
	return nil
}

// IssueCommentEvent is the payload of "issue_comment" events.
type IssueCommentEvent struct {
	Action       string       `json:"action"`
	Issue        Issue        `json:"issue"`
	Comment      Comment      `json:"comment"`
	Repository   Repository   `json:"repository"`
	Installation Installation `json:"installation"`
}

// Validate checks the structural shape of an issue_comment payload.
func (e *IssueCommentEvent) Validate() error {
	if e.Issue.Number <= 0 {
		return missingField("issue.number")
	}
	if e.Issue.User.Login == "" {
		return missingField("issue.user.login")
	}
	if e.Comment.ID <= 0 {
		return missingField("comment.id")
	}
	if e.Comment.User.Login == "" {
		return missingField("comment.user.login")
	}
	if e.Repository.FullName == "" {
		return missingField("repository.full_name")
	}
	if e.Installation.ID <= 0 {
		return missingField("installation.id")
	}
	return nil
}

// ReviewCommentEvent is the payload of "pull_request_review_comment" events.
type ReviewCommentEvent struct {
	Action       string       `json:"action"`
	Comment      Comment      `json:"comment"`
	PullRequest  PullRequest  `json:"pull_request"`
	Repository   Repository   `json:"repository"`
	Installation Installation `json:"installation"`
}

// Validate checks the structural shape of a review-comment payload.
func (e *ReviewCommentEvent) Validate() error {
	if e.PullRequest.Number <= 0 {
		return missingField("pull_request.number")
	}
	if e.PullRequest.Head.Ref == "" {
		return missingField("pull_request.head.ref")
	}
	if e.Comment.User.Login == "" {
		return missingField("comment.user.login")
	}
	if e.Repository.FullName == "" {
		return missingField("repository.full_name")
	}
	if e.Installation.ID <= 0 {
		return missingField("installation.id")
	}
	return nil
}

// CheckRunEvent is the payload of "check_run" events.
type CheckRunEvent struct {
	Action       string       `json:"action"`
	CheckRun     CheckRun     `json:"check_run"`
	Sender       Account      `json:"sender"`
	Repository   Repository   `json:"repository"`
	Installation Installation `json:"installation"`
}

// Validate checks the structural shape of a check_run payload. The
// completed handler threads its result onto the first linked pull
// request, so at least one PR reference must be present.
func (e *CheckRunEvent) Validate() error {
	if len(e.CheckRun.PullRequests) == 0 {
		return missingField("check_run.pull_requests")
	}
	if e.CheckRun.PullRequests[0].Number <= 0 {
		return missingField("check_run.pull_requests.0.number")
	}
	if e.Sender.Login == "" {
		return missingField("sender.login")
	}
	if e.Repository.FullName == "" {
		return missingField("repository.full_name")
	}
	if e.Installation.ID <= 0 {
		return missingField("installation.id")
	}
	return nil
}

// ReposAddedEvent is the payload of "installation_repositories" events.
type ReposAddedEvent struct {
	Action            string       `json:"action"`
	RepositoriesAdded []Repository `json:"repositories_added"`
	Installation      Installation `json:"installation"`
}

// Validate checks the structural shape of a repositories-added payload.
func (e *ReposAddedEvent) Validate() error {
	if e.Installation.ID <= 0 {
		return missingField("installation.id")
	}
	for i, r := range e.RepositoriesAdded {
		if r.FullName == "" {
			return missingField(fmt.Sprintf("repositories_added.%d.full_name", i))
		}
	}
	return nil
}

// InstallationCreatedEvent is the payload of "installation" created events.
type InstallationCreatedEvent struct {
	Action       string       `json:"action"`
	Repositories []Repository `json:"repositories"`
	Installation Installation `json:"installation"`
}

// Validate checks the structural shape of an installation-created payload.
func (e *InstallationCreatedEvent) Validate() error {
	if e.Installation.ID <= 0 {
		return missingField("installation.id")
	}
	for i, r := range e.Repositories {
		if r.FullName == "" {
			return missingField(fmt.Sprintf("repositories.%d.full_name", i))
		}
	}
	return nil
}

// PullRequestEvent is the payload of "pull_request" events (closed).
type PullRequestEvent struct {
	Action       string       `json:"action"`
	PullRequest  PullRequest  `json:"pull_request"`
	Repository   Repository   `json:"repository"`
	Installation Installation `json:"installation"`
}

// Validate checks the structural shape of a pull_request payload.
// MergedBy is legitimately absent for PRs closed without merging.
func (e *PullRequestEvent) Validate() error {
	if e.PullRequest.Number <= 0 {
		return missingField("pull_request.number")
	}
	if e.PullRequest.User.Login == "" {
		return missingField("pull_request.user.login")
	}
	if e.Repository.FullName == "" {
		return missingField("repository.full_name")
	}
	if e.Installation.ID <= 0 {
		return missingField("installation.id")
	}
	return nil
}

// PushEvent is the payload of "push" events. Base is only populated on
// the pull-request shaped variant of the delivery.
type PushEvent struct {
	Ref          string       `json:"ref"`
	Base         *Branch      `json:"base"`
	Repository   Repository   `json:"repository"`
	Installation Installation `json:"installation"`
}

// Validate checks the structural shape of a push payload.
func (e *PushEvent) Validate() error {
	if e.Repository.FullName == "" {
		return missingField("repository.full_name")
	}
	if e.Installation.ID <= 0 {
		return missingField("installation.id")
	}
	return nil
}

// ── Normalized trigger ───────────────────────────────────────

// CommentRef carries the comment identity of a trigger that originated
// from a comment. Path and Line are only set for review comments.
type CommentRef struct {
	ID     int64   `json:"id"`
	Body   string  `json:"body"`
	Author string  `json:"author"`
	Path   *string `json:"path,omitempty"`
	Line   *int    `json:"line,omitempty"`
}

// NormalizedTrigger is the validated, filtered unit of work produced by
// the eligibility filter and handed to the task router. Title and
// RepoDescription are always non-nil strings: absent upstream values are
// normalized to "" before forwarding.
type NormalizedTrigger struct {
	IssueNumber     int         `json:"issue_number"`
	Title           string      `json:"title"`
	Body            string      `json:"body"`
	URL             string      `json:"url"`
	Author          string      `json:"author"`
	RepoFullName    string      `json:"repo_full_name"`
	RepoDescription string      `json:"repo_description"`
	InstallationID  int64       `json:"installation_id"`
	Comment         *CommentRef `json:"comment,omitempty"`
}

// CommentArgs is the argument tuple forwarded to the PR comment handler.
type CommentArgs struct {
	RepoFullName    string  `json:"repo_full_name"`
	RepoDescription string  `json:"repo_description"`
	Comment         string  `json:"comment"`
	Path            *string `json:"pr_path"`
	Line            *int    `json:"pr_line_position"`
	Username        string  `json:"username"`
	InstallationID  int64   `json:"installation_id"`
	PRNumber        int     `json:"pr_number"`
}

// ── Task invocations ─────────────────────────────────────────

// TaskKind enumerates the downstream task families the router can
// dispatch to. The set is closed; unknown kinds are a dispatch error.
type TaskKind string

const (
	TaskResolveTicket    TaskKind = "resolve_ticket"
	TaskHandlePRComment  TaskKind = "handle_pr_comment"
	TaskBuildPullRequest TaskKind = "build_pull_request"
	TaskRunCheckSuite    TaskKind = "run_check_suite"
)

// Invocation is a (task-kind, argument-tuple) pair submitted to the task
// router. Exactly one of the argument fields matching Kind is populated.
type Invocation struct {
	Kind     TaskKind           `json:"kind"`
	Ticket   *NormalizedTrigger `json:"ticket,omitempty"`
	Comment  *CommentArgs       `json:"comment,omitempty"`
	CheckRun *CheckRunEvent     `json:"check_run,omitempty"`
}

// ── Usage tracking ───────────────────────────────────────────

// UsageRecord is the per-username counter record kept by the counter
// store. Counters maps period keys (month, day, or month+fast-tier) to
// cumulative counts. The two tier flags are independent in storage; the
// governor applies precedence when deciding.
type UsageRecord struct {
	Username   string           `json:"username"`
	Counters   map[string]int64 `json:"counters"`
	PayingUser bool             `json:"is_paying_user"`
	TrialUser  bool             `json:"is_trial_user"`
}

// ChatHistoryEntry is one append-only audit record of an interaction.
// Expiration stamps the session date; Index orders entries within one
// logger instance.
type ChatHistoryEntry struct {
	Username   string         `json:"username"`
	Data       map[string]any `json:"data"`
	Expiration time.Time      `json:"expiration"`
	Index      int            `json:"index"`
}

