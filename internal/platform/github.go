// Package platform wraps the GitHub API surface the dispatcher and the
// quota governor depend on: marker-label management and user profile
// lookup. It is a thin I/O boundary with no business rules.
package platform

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/forgebot/forgebot/internal/config"
	"github.com/google/go-github/v66/github"
	"github.com/rs/zerolog/log"
)

// Client is the per-installation view of the hosting platform.
type Client interface {
	// EnsureLabel creates the marker label on the repository if it does
	// not already exist. An existing label is never edited.
	EnsureLabel(ctx context.Context, repoFullName string) error
	// AddLabelToIssue attaches the marker label to an issue.
	AddLabelToIssue(ctx context.Context, repoFullName string, issueNumber int) error
	// UserLocation returns the free-text location from a user's profile,
	// or "" when unset.
	UserLocation(ctx context.Context, username string) (string, error)
}

// ClientFactory builds authenticated clients scoped to an installation.
type ClientFactory interface {
	ForInstallation(installationID int64) (Client, error)
}

// AppFactory authenticates as a GitHub App and mints installation-scoped
// clients via installation access tokens.
type AppFactory struct {
	appID   int64
	keyPath string
	bot     config.BotConfig
}

// NewAppFactory builds the production client factory.
func NewAppFactory(gh config.GitHubConfig, bot config.BotConfig) *AppFactory {
	return &AppFactory{appID: gh.AppID, keyPath: gh.PrivateKeyPath, bot: bot}
}

// ForInstallation returns a Client authenticated for one installation.
func (f *AppFactory) ForInstallation(installationID int64) (Client, error) {
	itr, err := ghinstallation.NewKeyFromFile(http.DefaultTransport, f.appID, installationID, f.keyPath)
	if err != nil {
		return nil, fmt.Errorf("platform: installation transport: %w", err)
	}
	return &githubClient{
		gh:  github.NewClient(&http.Client{Transport: itr}),
		bot: f.bot,
	}, nil
}

type githubClient struct {
	gh  *github.Client
	bot config.BotConfig
}

func splitRepo(fullName string) (owner, name string, err error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("platform: malformed repository name %q", fullName)
	}
	return parts[0], parts[1], nil
}

func (c *githubClient) EnsureLabel(ctx context.Context, repoFullName string) error {
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}

	labels, _, err := c.gh.Issues.ListLabels(ctx, owner, name, &github.ListOptions{PerPage: 100})
	if err != nil {
		return fmt.Errorf("platform: list labels: %w", err)
	}
	for _, l := range labels {
		if strings.EqualFold(l.GetName(), c.bot.LabelName) {
			return nil
		}
	}

	_, _, err = c.gh.Issues.CreateLabel(ctx, owner, name, &github.Label{
		Name:        github.String(c.bot.LabelName),
		Color:       github.String(c.bot.LabelColor),
		Description: github.String(c.bot.LabelDescription),
	})
	if err != nil {
		return fmt.Errorf("platform: create label: %w", err)
	}
	log.Info().Str("repo", repoFullName).Str("label", c.bot.LabelName).Msg("Created marker label")
	return nil
}

func (c *githubClient) AddLabelToIssue(ctx context.Context, repoFullName string, issueNumber int) error {
	owner, name, err := splitRepo(repoFullName)
	if err != nil {
		return err
	}
	_, _, err = c.gh.Issues.AddLabelsToIssue(ctx, owner, name, issueNumber, []string{c.bot.LabelName})
	if err != nil {
		return fmt.Errorf("platform: add label to issue #%d: %w", issueNumber, err)
	}
	return nil
}

func (c *githubClient) UserLocation(ctx context.Context, username string) (string, error) {
	user, _, err := c.gh.Users.Get(ctx, username)
	if err != nil {
		return "", fmt.Errorf("platform: get user %s: %w", username, err)
	}
	return user.GetLocation(), nil
}

// PublicClient reads public profile data with no installation auth. The
// quota governor uses it for the free-tier location lookup, which does
// not belong to any single installation.
type PublicClient struct {
	gh *github.Client
}

// NewPublicClient builds an unauthenticated client.
func NewPublicClient() *PublicClient {
	return &PublicClient{gh: github.NewClient(nil)}
}

// UserLocation returns the free-text location from a public profile.
func (c *PublicClient) UserLocation(ctx context.Context, username string) (string, error) {
	user, _, err := c.gh.Users.Get(ctx, username)
	if err != nil {
		return "", fmt.Errorf("platform: get user %s: %w", username, err)
	}
	return user.GetLocation(), nil
}
