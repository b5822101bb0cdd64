package vault

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type postedFile struct {
	channelID int64
	filename  string
	content   []byte
	comment   string
}

// mockPoster implements FilePoster for testing.
type mockPoster struct {
	files []postedFile
}

func (m *mockPoster) PostFile(_ context.Context, channelID int64, filename string, content io.Reader, comment string) error {
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	m.files = append(m.files, postedFile{
		channelID: channelID,
		filename:  filename,
		content:   data,
		comment:   comment,
	})
	return nil
}

func newTestVault(t *testing.T, handler http.Handler) (*Vault, *mockPoster) {
	t.Helper()

	poster := &mockPoster{}
	v := New(Config{Organisation: "bytescrape", Dir: t.TempDir()}, "test-token", poster)

	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)

		base, err := url.Parse(server.URL + "/")
		require.NoError(t, err)
		v.gh = github.NewClient(server.Client())
		v.gh.BaseURL = base
		v.download = server.Client()
	}
	return v, poster
}

func writeArtifact(t *testing.T, v *Vault, name string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(v.config.Dir, name+".zip"), content, 0o644))
}

func TestList(t *testing.T) {
	v, _ := newTestVault(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orgs/bytescrape/repos", r.URL.Path)
		_, _ = w.Write([]byte(`[{"name": "alpha"}, {"name": "beta"}]`))
	}))

	names, err := v.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestPull(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/bytescrape/alpha/zipball":
			w.Header().Set("Location", "http://"+r.Host+"/download/alpha")
			w.WriteHeader(http.StatusFound)
		case "/download/alpha":
			_, _ = w.Write([]byte("zip-bytes"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	v, _ := newTestVault(t, handler)

	require.NoError(t, v.Pull(context.Background(), "alpha"))

	data, err := os.ReadFile(filepath.Join(v.config.Dir, "alpha.zip"))
	require.NoError(t, err)
	assert.Equal(t, []byte("zip-bytes"), data)

	// No staging leftovers.
	entries, err := os.ReadDir(v.config.Dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPull_InvalidName(t *testing.T) {
	v, _ := newTestVault(t, nil)

	for _, name := range []string{"", "../etc", "a/b", `a\b`} {
		assert.ErrorIs(t, v.Pull(context.Background(), name), ErrInvalidName, name)
	}
}

func TestListLocal(t *testing.T) {
	v, _ := newTestVault(t, nil)
	writeArtifact(t, v, "beta", []byte("b"))
	writeArtifact(t, v, "alpha", []byte("a"))
	require.NoError(t, os.WriteFile(filepath.Join(v.config.Dir, "notes.txt"), []byte("x"), 0o644))

	names, err := v.ListLocal()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestListLocal_MissingDir(t *testing.T) {
	poster := &mockPoster{}
	v := New(Config{Organisation: "bytescrape", Dir: filepath.Join(t.TempDir(), "nope")}, "", poster)

	names, err := v.ListLocal()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRemove(t *testing.T) {
	v, _ := newTestVault(t, nil)
	writeArtifact(t, v, "alpha", []byte("a"))

	require.NoError(t, v.Remove("alpha"))
	assert.ErrorIs(t, v.Remove("alpha"), ErrArtifactNotFound)
}

func TestSell(t *testing.T) {
	v, poster := newTestVault(t, nil)
	writeArtifact(t, v, "alpha", []byte("zip-bytes"))

	require.NoError(t, v.Sell(context.Background(), 555, "alpha"))

	require.Len(t, poster.files, 1)
	file := poster.files[0]
	assert.Equal(t, int64(555), file.channelID)
	assert.Equal(t, "alpha.zip", file.filename)
	assert.Equal(t, []byte("zip-bytes"), file.content)
	assert.Contains(t, file.comment, "**alpha**")
}

func TestSell_NotFound(t *testing.T) {
	v, poster := newTestVault(t, nil)

	assert.ErrorIs(t, v.Sell(context.Background(), 555, "ghost"), ErrArtifactNotFound)
	assert.Empty(t, poster.files)
}

func TestPullAll_FailureIsolation(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/orgs/bytescrape/repos":
			_, _ = w.Write([]byte(`[{"name": "alpha"}, {"name": "beta"}]`))
		case "/repos/bytescrape/alpha/zipball":
			w.Header().Set("Location", "http://"+r.Host+"/download/alpha")
			w.WriteHeader(http.StatusFound)
		case "/repos/bytescrape/beta/zipball":
			w.WriteHeader(http.StatusInternalServerError)
		case "/download/alpha":
			_, _ = w.Write([]byte("zip-bytes"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})
	v, _ := newTestVault(t, handler)

	pulled, failed, err := v.PullAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pulled)
	assert.Equal(t, 1, failed)

	_, err = os.Stat(filepath.Join(v.config.Dir, "alpha.zip"))
	assert.NoError(t, err)
}
