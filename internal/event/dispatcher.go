// Package event turns an untyped inbound webhook payload into a
// validated, filtered, routed unit of work.
//
// Classification is an explicit dispatch table keyed by (event kind,
// action), so the eligibility rules are inspectable as data rather than
// buried in branching. Each table entry validates its payload shape
// first, applies eligibility checks second, and performs side effects
// (label mutation, task submission) last — a validation failure can
// never leave partial side effects behind.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/forgebot/forgebot/internal/analytics"
	"github.com/forgebot/forgebot/internal/config"
	"github.com/forgebot/forgebot/internal/dispatch"
	"github.com/forgebot/forgebot/internal/indexer"
	"github.com/forgebot/forgebot/internal/platform"
	"github.com/forgebot/forgebot/pkg/models"
	"github.com/rs/zerolog/log"
)

// eventKey identifies one row of the dispatch table. Action is "" for
// kinds that carry no action field (push, ping).
type eventKey struct {
	Kind   string
	Action string
}

// handlerFunc processes one classified event. The returned body becomes
// the webhook response; a *models.SchemaError maps to 422, any other
// error propagates to the request boundary.
type handlerFunc func(ctx context.Context, kind string, body []byte) (any, error)

// success is the default acknowledgement body.
var success = map[string]bool{"success": true}

// Dispatcher classifies inbound events and routes eligible ones to
// downstream tasks.
type Dispatcher struct {
	bot       config.BotConfig
	clients   platform.ClientFactory
	router    *dispatch.Router
	pool      *dispatch.Pool
	index     indexer.Indexer
	analytics *analytics.Client
	table     map[eventKey]handlerFunc
}

// NewDispatcher wires the dispatch table. All collaborators are passed
// in explicitly; the dispatcher holds no ambient global state.
func NewDispatcher(
	bot config.BotConfig,
	clients platform.ClientFactory,
	router *dispatch.Router,
	pool *dispatch.Pool,
	index indexer.Indexer,
	ph *analytics.Client,
) *Dispatcher {
	d := &Dispatcher{
		bot:       bot,
		clients:   clients,
		router:    router,
		pool:      pool,
		index:     index,
		analytics: ph,
	}
	d.table = map[eventKey]handlerFunc{
		{"issues", "opened"}:                       d.issueOpened,
		{"issues", "labeled"}:                      d.issueLabeled,
		{"issue_comment", "created"}:               d.issueCommentCreated,
		{"pull_request_review_comment", "created"}: d.reviewCommentCreated,
		{"pull_request_review", "submitted"}:       d.reviewSubmitted,
		{"check_run", "completed"}:                 d.checkRunCompleted,
		{"installation_repositories", "added"}:     d.reposAdded,
		{"installation", "created"}:                d.installationCreated,
		{"pull_request", "closed"}:                 d.pullRequestClosed,
		{"push", ""}:                               d.push,
		{"ping", ""}:                               d.ping,
	}
	return d
}

// Handle classifies one delivery by (kind, action) and runs the matching
// table entry. Unmatched events are acknowledged and logged, not errors;
// a body that is not valid JSON is rejected before classification.
func (d *Dispatcher) Handle(ctx context.Context, kind string, body []byte) (any, error) {
	var probe struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, &models.SchemaError{Path: "$", Reason: fmt.Sprintf("malformed JSON body: %v", err)}
	}

	h, ok := d.table[eventKey{Kind: kind, Action: probe.Action}]
	if !ok {
		log.Info().Str("event", kind).Str("action", probe.Action).Msg("Unhandled event")
		return success, nil
	}
	return h(ctx, kind, body)
}

// validator is implemented by every typed payload.
type validator interface {
	Validate() error
}

// decodeEvent unmarshals and structurally validates a payload. All
// failures surface as *models.SchemaError.
func decodeEvent(body []byte, out validator) error {
	if err := json.Unmarshal(body, out); err != nil {
		return &models.SchemaError{Path: "$", Reason: fmt.Sprintf("malformed JSON body: %v", err)}
	}
	return out.Validate()
}

// strOrEmpty normalizes optional upstream strings: never nil downstream.
func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// splitFullName splits "owner/repo" into its two halves.
func splitFullName(fullName string) (string, string) {
	owner, name, _ := strings.Cut(fullName, "/")
	return owner, name
}

// mergedPREvent names the merge capture after the trigger keyword, so
// analytics dashboards keyed on the historical event name keep working
// when the keyword is rebranded.
func mergedPREvent(keyword string) string {
	return "merged_" + strings.ToLower(keyword) + "_pr"
}

// ── Table entries ────────────────────────────────────────────

// issueOpened attaches the marker label to issues whose title carries
// the trigger keyword. All checks precede the label mutations.
func (d *Dispatcher) issueOpened(ctx context.Context, kind string, body []byte) (any, error) {
	var ev models.IssueEvent
	if err := decodeEvent(body, &ev); err != nil {
		return nil, err
	}

	title := strings.ToLower(ev.Issue.Title)
	keyword := strings.ToLower(d.bot.TriggerKeyword)
	if !strings.HasPrefix(title, keyword) && !strings.Contains(title, keyword+":") {
		log.Info().Str("repo", ev.Repository.FullName).Int("issue", ev.Issue.Number).Msg("Issue title has no trigger keyword")
		return success, nil
	}

	client, err := d.clients.ForInstallation(ev.Installation.ID)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureLabel(ctx, ev.Repository.FullName); err != nil {
		return nil, err
	}
	if err := client.AddLabelToIssue(ctx, ev.Repository.FullName, ev.Issue.Number); err != nil {
		return nil, err
	}
	return success, nil
}

// issueLabeled spawns ticket resolution once the marker label lands on
// an issue.
func (d *Dispatcher) issueLabeled(ctx context.Context, kind string, body []byte) (any, error) {
	var ev models.IssueEvent
	if err := decodeEvent(body, &ev); err != nil {
		return nil, err
	}

	if !ev.Issue.HasLabel(d.bot.LabelName) {
		log.Info().Str("repo", ev.Repository.FullName).Int("issue", ev.Issue.Number).Msg("Labeled issue lacks marker label")
		return success, nil
	}

	trigger := d.triggerFromIssue(&ev.Issue, &ev.Repository, ev.Installation.ID)
	if err := d.router.Dispatch(models.Invocation{Kind: models.TaskResolveTicket, Ticket: &trigger}); err != nil {
		return nil, err
	}
	return success, nil
}

// issueCommentCreated handles two shapes of the same event: a human
// commenting on a marked issue (ticket resolution with comment context)
// and a human commenting on one of the bot's own pull requests (comment
// handling).
func (d *Dispatcher) issueCommentCreated(ctx context.Context, kind string, body []byte) (any, error) {
	var ev models.IssueCommentEvent
	if err := decodeEvent(body, &ev); err != nil {
		return nil, err
	}

	switch {
	case ev.Issue.HasLabel(d.bot.LabelName) && ev.Comment.User.IsHuman():
		trigger := d.triggerFromIssue(&ev.Issue, &ev.Repository, ev.Installation.ID)
		trigger.Comment = &models.CommentRef{
			ID:     ev.Comment.ID,
			Body:   ev.Comment.Body,
			Author: ev.Comment.User.Login,
		}
		if err := d.router.Dispatch(models.Invocation{Kind: models.TaskResolveTicket, Ticket: &trigger}); err != nil {
			return nil, err
		}

	case ev.Issue.PullRequest != nil && ev.Issue.User.Login == d.bot.Login && ev.Comment.User.IsHuman():
		log.Info().Str("repo", ev.Repository.FullName).Int("pr", ev.Issue.Number).Msg("Handling comment on bot PR")
		args := models.CommentArgs{
			RepoFullName:    ev.Repository.FullName,
			RepoDescription: strOrEmpty(ev.Repository.Description),
			Comment:         ev.Comment.Body,
			Username:        ev.Comment.User.Login,
			InstallationID:  ev.Installation.ID,
			PRNumber:        ev.Issue.Number,
		}
		if err := d.router.Dispatch(models.Invocation{Kind: models.TaskHandlePRComment, Comment: &args}); err != nil {
			return nil, err
		}

	default:
		log.Info().Str("repo", ev.Repository.FullName).Int("issue", ev.Issue.Number).Msg("Comment not eligible")
	}
	return success, nil
}

// reviewCommentCreated forwards review comments on the bot's reserved
// branch namespace, including file path and line context.
func (d *Dispatcher) reviewCommentCreated(ctx context.Context, kind string, body []byte) (any, error) {
	var ev models.ReviewCommentEvent
	if err := decodeEvent(body, &ev); err != nil {
		return nil, err
	}

	if !strings.Contains(strings.ToLower(ev.PullRequest.Head.Ref), strings.ToLower(d.bot.BranchPrefix)) {
		log.Info().Str("repo", ev.Repository.FullName).Str("head", ev.PullRequest.Head.Ref).Msg("Review comment outside bot branch namespace")
		return success, nil
	}

	args := models.CommentArgs{
		RepoFullName:    ev.Repository.FullName,
		RepoDescription: strOrEmpty(ev.Repository.Description),
		Comment:         ev.Comment.Body,
		Path:            ev.Comment.Path,
		Line:            ev.Comment.OriginalLine,
		Username:        ev.Comment.User.Login,
		InstallationID:  ev.Installation.ID,
		PRNumber:        ev.PullRequest.Number,
	}
	if err := d.router.Dispatch(models.Invocation{Kind: models.TaskHandlePRComment, Comment: &args}); err != nil {
		return nil, err
	}
	return success, nil
}

// reviewSubmitted is currently inert.
func (d *Dispatcher) reviewSubmitted(ctx context.Context, kind string, body []byte) (any, error) {
	log.Info().Msg("Review submitted event is not handled")
	return success, nil
}

// checkRunCompleted is the one synchronous path: the check-suite task
// runs to completion and its result text becomes the body of a
// follow-up comment-handling invocation on the first linked PR.
func (d *Dispatcher) checkRunCompleted(ctx context.Context, kind string, body []byte) (any, error) {
	var ev models.CheckRunEvent
	if err := decodeEvent(body, &ev); err != nil {
		return nil, err
	}

	logs, err := d.router.Call(ctx, models.Invocation{Kind: models.TaskRunCheckSuite, CheckRun: &ev})
	if err != nil {
		return nil, err
	}
	log.Info().Str("repo", ev.Repository.FullName).Int("result_len", len(logs)).Msg("Check suite task completed")

	args := models.CommentArgs{
		RepoFullName:    ev.Repository.FullName,
		RepoDescription: strOrEmpty(ev.Repository.Description),
		Comment:         logs,
		Username:        ev.Sender.Login,
		InstallationID:  ev.Installation.ID,
		PRNumber:        ev.CheckRun.PullRequests[0].Number,
	}
	if err := d.router.Dispatch(models.Invocation{Kind: models.TaskHandlePRComment, Comment: &args}); err != nil {
		return nil, err
	}
	return success, nil
}

// reposAdded indexes newly added repositories, emitting analytics before
// each indexing request.
func (d *Dispatcher) reposAdded(ctx context.Context, kind string, body []byte) (any, error) {
	var ev models.ReposAddedEvent
	if err := decodeEvent(body, &ev); err != nil {
		return nil, err
	}

	repoNames := make([]string, 0, len(ev.RepositoriesAdded))
	for _, r := range ev.RepositoriesAdded {
		repoNames = append(repoNames, r.FullName)
	}
	d.analytics.Capture("installation_repositories", "started", map[string]any{
		"installation_id": ev.Installation.ID,
		"repositories":    repoNames,
	})

	for _, r := range ev.RepositoriesAdded {
		organization, repoName := splitFullName(r.FullName)
		d.analytics.Capture(organization, "installed_repository", map[string]any{
			"repo_name":      repoName,
			"organization":   organization,
			"repo_full_name": r.FullName,
		})
		if err := d.submitIndex(r.FullName, ev.Installation.ID, true); err != nil {
			return nil, err
		}
	}
	return success, nil
}

// installationCreated indexes every repository of a new installation.
func (d *Dispatcher) installationCreated(ctx context.Context, kind string, body []byte) (any, error) {
	var ev models.InstallationCreatedEvent
	if err := decodeEvent(body, &ev); err != nil {
		return nil, err
	}

	for _, r := range ev.Repositories {
		if err := d.submitIndex(r.FullName, ev.Installation.ID, true); err != nil {
			return nil, err
		}
	}
	return success, nil
}

// pullRequestClosed records merges of the bot's own PRs and refreshes
// the repository index unconditionally.
func (d *Dispatcher) pullRequestClosed(ctx context.Context, kind string, body []byte) (any, error) {
	var ev models.PullRequestEvent
	if err := decodeEvent(body, &ev); err != nil {
		return nil, err
	}

	if ev.PullRequest.User.Login == d.bot.Login && ev.PullRequest.MergedBy != nil {
		organization, repoName := splitFullName(ev.Repository.FullName)
		d.analytics.Capture(ev.PullRequest.MergedBy.Login, mergedPREvent(d.bot.TriggerKeyword), map[string]any{
			"repo_name":      repoName,
			"organization":   organization,
			"repo_full_name": ev.Repository.FullName,
			"username":       ev.PullRequest.MergedBy.Login,
		})
	}

	if err := d.submitIndex(ev.Repository.FullName, ev.Installation.ID, false); err != nil {
		return nil, err
	}
	return success, nil
}

// push refreshes the index. The guard mirrors the long-standing gate:
// refresh unless the delivery is pull_request shaped with an unmerged
// base — for plain push deliveries the first clause always holds.
func (d *Dispatcher) push(ctx context.Context, kind string, body []byte) (any, error) {
	var ev models.PushEvent
	if err := decodeEvent(body, &ev); err != nil {
		return nil, err
	}

	if kind != "pull_request" || (ev.Base != nil && ev.Base.Merged) {
		if err := d.submitIndex(ev.Repository.FullName, ev.Installation.ID, false); err != nil {
			return nil, err
		}
	}
	return success, nil
}

// ping acknowledges connectivity checks without touching the router.
func (d *Dispatcher) ping(ctx context.Context, kind string, body []byte) (any, error) {
	return map[string]string{"message": "pong"}, nil
}

// ── Helpers ──────────────────────────────────────────────────

// triggerFromIssue builds the normalized trigger, forcing optional
// upstream strings to "".
func (d *Dispatcher) triggerFromIssue(issue *models.Issue, repo *models.Repository, installationID int64) models.NormalizedTrigger {
	return models.NormalizedTrigger{
		IssueNumber:     issue.Number,
		Title:           issue.Title,
		Body:            strOrEmpty(issue.Body),
		URL:             issue.HTMLURL,
		Author:          issue.User.Login,
		RepoFullName:    repo.FullName,
		RepoDescription: strOrEmpty(repo.Description),
		InstallationID:  installationID,
	}
}

// submitIndex queues a full index or an incremental refresh.
func (d *Dispatcher) submitIndex(repoFullName string, installationID int64, full bool) error {
	name := "refresh_index"
	if full {
		name = "index_repository"
	}
	return d.pool.Submit(name, func(ctx context.Context) error {
		if full {
			return d.index.IndexRepository(ctx, repoFullName, installationID)
		}
		return d.index.RefreshIndex(ctx, repoFullName, installationID)
	})
}
