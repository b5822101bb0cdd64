// Package vault manages repository zip artifacts pulled from the code host
// and distributed as sellable products.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/google/uuid"
)

// Artifact errors.
var (
	ErrArtifactNotFound = errors.New("artifact not found")
	ErrInvalidName      = errors.New("invalid artifact name")
)

const (
	defaultDir      = "./repositories"
	downloadTimeout = 5 * time.Minute

	// GetArchiveLink resolves the pre-signed download URL itself; redirects
	// past this depth indicate something is off.
	maxArchiveRedirects = 5
)

// Config holds vault configuration.
type Config struct {
	Organisation string
	Dir          string // directory holding pulled zip artifacts
}

// FilePoster uploads a file into a chat channel.
type FilePoster interface {
	PostFile(ctx context.Context, channelID int64, filename string, content io.Reader, comment string) error
}

// Vault pulls repositories from the code-hosting organisation as zip
// artifacts and serves them into channels on demand.
type Vault struct {
	config   Config
	gh       *github.Client
	poster   FilePoster
	download *http.Client
}

// New creates a new vault. The token authenticates against the code host;
// an empty token limits the vault to public repositories.
func New(config Config, token string, poster FilePoster) *Vault {
	if config.Dir == "" {
		config.Dir = defaultDir
	}

	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}

	return &Vault{
		config:   config,
		gh:       client,
		poster:   poster,
		download: &http.Client{Timeout: downloadTimeout},
	}
}

// List returns the names of all repositories in the organisation.
func (v *Vault) List(ctx context.Context) ([]string, error) {
	opts := &github.RepositoryListByOrgOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var names []string
	for {
		repos, resp, err := v.gh.Repositories.ListByOrg(ctx, v.config.Organisation, opts)
		if err != nil {
			return nil, fmt.Errorf("list organisation repositories: %w", err)
		}
		for _, repo := range repos {
			names = append(names, repo.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return names, nil
}

// Pull downloads the repository zipball into the artifacts directory. The
// download lands in a staging file first so a partial pull never shadows a
// good artifact.
func (v *Vault) Pull(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	url, _, err := v.gh.Repositories.GetArchiveLink(ctx, v.config.Organisation, name,
		github.Zipball, &github.RepositoryContentGetOptions{}, maxArchiveRedirects)
	if err != nil {
		return fmt.Errorf("resolve archive link for %s: %w", name, err)
	}

	if err := os.MkdirAll(v.config.Dir, 0o755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url.String(), nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}

	resp, err := v.download.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %d", name, resp.StatusCode)
	}

	staging := filepath.Join(v.config.Dir, uuid.NewString()+".part")
	out, err := os.Create(staging)
	if err != nil {
		return fmt.Errorf("create staging file: %w", err)
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(staging)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("close staging file: %w", err)
	}

	if err := os.Rename(staging, v.artifactPath(name)); err != nil {
		_ = os.Remove(staging)
		return fmt.Errorf("finalize %s: %w", name, err)
	}

	slog.Info("repository pulled", "repo", name)
	return nil
}

// PullAll pulls every repository of the organisation concurrently. Per-repo
// failures are logged and counted, never aborting the rest.
func (v *Vault) PullAll(ctx context.Context) (pulled, failed int, err error) {
	names, err := v.List(ctx)
	if err != nil {
		return 0, 0, err
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if pullErr := v.Pull(ctx, name); pullErr != nil {
				slog.Error("failed to pull repository", "repo", name, "error", pullErr)
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}
			mu.Lock()
			pulled++
			mu.Unlock()
		}(name)
	}
	wg.Wait()

	return pulled, failed, nil
}

// ListLocal returns the names of all pulled artifacts, sorted.
func (v *Vault) ListLocal() ([]string, error) {
	entries, err := os.ReadDir(v.config.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read artifacts dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".zip") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".zip"))
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes a pulled artifact.
func (v *Vault) Remove(name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	if err := os.Remove(v.artifactPath(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
		}
		return fmt.Errorf("remove artifact: %w", err)
	}

	slog.Info("local repository removed", "repo", name)
	return nil
}

// Sell posts the named artifact into the channel as a file attachment.
func (v *Vault) Sell(ctx context.Context, channelID int64, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	file, err := os.Open(v.artifactPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrArtifactNotFound, name)
		}
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = file.Close() }()

	comment := fmt.Sprintf("Here's the Product **%s**:", name)
	if err := v.poster.PostFile(ctx, channelID, name+".zip", file, comment); err != nil {
		return fmt.Errorf("post artifact: %w", err)
	}

	return nil
}

func (v *Vault) artifactPath(name string) string {
	return filepath.Join(v.config.Dir, name+".zip")
}

// validateName keeps artifact names from escaping the artifacts directory.
func validateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
