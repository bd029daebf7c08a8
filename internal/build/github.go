package build

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultGitHubAPIURL = "https://api.github.com"

// GitHubDispatcher triggers a repository workflow that builds and pushes the
// requested image. Dispatch returns as soon as GitHub accepts the event; it
// never waits for the workflow run itself.
type GitHubDispatcher struct {
	APIURL     string
	Repository string
	Workflow   string
	Ref        string
	Token      string

	httpClient *http.Client
}

// NewGitHubDispatcher configures a dispatcher for owner/repo's workflow file
// on the given git ref.
func NewGitHubDispatcher(repository, workflow, ref, token string) (*GitHubDispatcher, error) {
	if repository == "" {
		return nil, fmt.Errorf("github_actions backend requires a repository (owner/repo)")
	}
	if token == "" {
		return nil, fmt.Errorf("github_actions backend requires a token")
	}
	return &GitHubDispatcher{
		APIURL:     defaultGitHubAPIURL,
		Repository: repository,
		Workflow:   workflow,
		Ref:        ref,
		Token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type dispatchPayload struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs"`
}

// Dispatch fires the workflow with the image ref and build inputs. GitHub
// answers 204 on success.
func (d *GitHubDispatcher) Dispatch(ctx context.Context, req Request) error {
	payload, err := json.Marshal(dispatchPayload{
		Ref: d.Ref,
		Inputs: map[string]string{
			"image_ref":       req.ImageRef,
			"dockerfile_path": req.DockerfilePath,
			"build_context":   req.ContextDir,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch payload: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/actions/workflows/%s/dispatches", d.APIURL, d.Repository, d.Workflow)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create dispatch request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/vnd.github+json")
	httpReq.Header.Set("Authorization", "Bearer "+d.Token)
	httpReq.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("workflow dispatch request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("workflow dispatch returned HTTP %d: %s", resp.StatusCode, string(detail))
	}
}
