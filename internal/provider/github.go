package provider

import (
	"context"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"cipulse-backend/internal/model"
)

const pageSize = 100

// Client fetches workflow run history from the GitHub Actions API and
// converts it to the shared run model. Requests are rate limited well under
// the authenticated API quota so overlapping syncs do not exhaust it.
type Client struct {
	gh      *github.Client
	limiter *rate.Limiter
}

func NewClient(ctx context.Context, token string) *Client {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	return &Client{
		gh:      github.NewClient(httpClient),
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// ListRuns returns up to max workflow runs for the repository, newest
// first, the order the API reports them in.
func (c *Client) ListRuns(ctx context.Context, owner, repo string, max int) ([]model.RunRecord, error) {
	runs := []model.RunRecord{}
	opts := &github.ListWorkflowRunsOptions{
		ListOptions: github.ListOptions{PerPage: pageSize},
	}
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, opts)
		if err != nil {
			return nil, err
		}
		for _, run := range page.WorkflowRuns {
			runs = append(runs, convertRun(run))
			if len(runs) >= max {
				return runs, nil
			}
		}
		if resp.NextPage == 0 {
			return runs, nil
		}
		opts.Page = resp.NextPage
	}
}

func convertRun(run *github.WorkflowRun) model.RunRecord {
	record := model.RunRecord{
		ID:         run.GetID(),
		CreatedAt:  run.GetCreatedAt().Time,
		Status:     run.GetStatus(),
		Conclusion: run.GetConclusion(),
		Branch:     run.GetHeadBranch(),
		RunAttempt: run.GetRunAttempt(),
		Actor:      run.GetActor().GetLogin(),
	}
	if record.RunAttempt < 1 {
		record.RunAttempt = 1
	}
	if started := run.GetRunStartedAt(); !started.IsZero() {
		ts := started.Time
		record.StartedAt = &ts
	}
	// The API exposes no completion timestamp; for completed runs the last
	// update is the completion.
	if record.Status == model.StatusCompleted {
		if updated := run.GetUpdatedAt(); !updated.IsZero() {
			ts := updated.Time
			record.CompletedAt = &ts
		}
	}
	if head := run.GetHeadCommit(); head != nil {
		record.CommitMessage = head.GetMessage()
		record.CommitAuthor = head.GetAuthor().GetName()
	}
	return record
}
