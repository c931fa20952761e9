package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ppiankov/postcast/internal/config"
	"github.com/ppiankov/postcast/internal/store"
)

// wikiPosts are served newest first, the way the search endpoint orders them.
var wikiPosts = []struct{ id, title string }{
	{"12", "Post 12"},
	{"11", "Post 11"},
	{"10", "Post 10"},
}

func wikiContentJSON(id, title string) string {
	return fmt.Sprintf(`{"id":%q,"type":"blogpost","title":%q,`+
		`"body":{"storage":{"value":"<p>Body of post %s</p>"}},`+
		`"history":{"createdDate":"2023-03-30T09:15:00.000Z","createdBy":{"displayName":"Jane Doe"}},`+
		`"_links":{"tinyui":"/x/%s"}}`, id, title, id, id)
}

func wikiHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/rest/api/content/search" {
			parts := make([]string, 0, len(wikiPosts))
			for _, p := range wikiPosts {
				parts = append(parts, wikiContentJSON(p.id, p.title))
			}
			fmt.Fprintf(w, `{"results":[%s],"size":%d}`, strings.Join(parts, ","), len(parts))
			return
		}
		if strings.HasPrefix(r.URL.Path, "/rest/api/content/") {
			id := path.Base(r.URL.Path)
			for _, p := range wikiPosts {
				if p.id == id {
					_, _ = w.Write([]byte(wikiContentJSON(p.id, p.title)))
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"statusCode":404}`))
			return
		}
		t.Errorf("unexpected wiki path %s", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}
}

// fakeOpenAI answers "summary: <user text>" and fails for any text
// containing failOn.
type fakeOpenAI struct {
	mu     sync.Mutex
	calls  int
	failOn string
}

func (f *fakeOpenAI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode chat request: %v", err)
		}
		f.mu.Lock()
		f.calls++
		f.mu.Unlock()

		user := ""
		if len(req.Messages) == 2 {
			user = strings.TrimSpace(req.Messages[1].Content)
		}
		if f.failOn != "" && strings.Contains(user, f.failOn) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream overloaded"}}`))
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "summary: " + user}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (f *fakeOpenAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type slackPost struct {
	channel  string
	text     string
	metadata string
}

// fakeWorkspace is one Slack channel whose history is the seeded metadata
// followed by everything posted during the test.
type fakeWorkspace struct {
	mu    sync.Mutex
	seed  []string // raw metadata JSON, oldest first
	posts []slackPost
}

func (f *fakeWorkspace) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")

		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.URL.Path {
		case "/chat.postMessage":
			f.posts = append(f.posts, slackPost{
				channel:  r.FormValue("channel"),
				text:     r.FormValue("text"),
				metadata: r.FormValue("metadata"),
			})
			_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
		case "/conversations.history":
			all := append([]string{}, f.seed...)
			for _, p := range f.posts {
				all = append(all, p.metadata)
			}
			msgs := make([]string, 0, len(all))
			for i := len(all) - 1; i >= 0; i-- {
				if all[i] == "" {
					msgs = append(msgs, fmt.Sprintf(`{"type":"message","ts":"%d.0","text":"plain"}`, i+1))
					continue
				}
				msgs = append(msgs, fmt.Sprintf(`{"type":"message","ts":"%d.0","text":"tagged","metadata":%s}`, i+1, all[i]))
			}
			fmt.Fprintf(w, `{"ok":true,"has_more":false,"messages":[%s]}`, strings.Join(msgs, ","))
		case "/auth.test":
			_, _ = w.Write([]byte(`{"ok":true,"user":"postcast","team":"pexon","user_id":"U1","team_id":"T1"}`))
		default:
			t.Errorf("unexpected slack path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func (f *fakeWorkspace) snapshot() []slackPost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]slackPost{}, f.posts...)
}

func scheduledMeta(id string) string {
	return `{"event_type":"blogpost_summary","event_payload":{"id":"` + id + `","action_trigger":"scheduled"}}`
}

// testEnv is a complete set of fake upstreams plus a config file pointing
// at them.
type testEnv struct {
	dir    string
	dbPath string
	wiki   *httptest.Server
	openai *fakeOpenAI
	slack  *fakeWorkspace
}

func newTestEnv(t *testing.T, extraConfig string) *testEnv {
	t.Helper()

	for _, key := range []string{
		config.EnvMode, config.EnvBaseURL, config.EnvFeedURL, config.EnvSlackChannel, config.EnvWikiStatement,
		config.EnvFeedStatement, config.EnvRequestedID, config.EnvSpecificDate, config.EnvLogLevel,
		config.EnvAnthropicKey,
	} {
		t.Setenv(key, "")
	}
	t.Setenv(config.EnvWikiUsername, "bot@example.com")
	t.Setenv(config.EnvWikiToken, "wiki-secret")
	t.Setenv(config.EnvOpenAIKey, "sk-test")
	t.Setenv(config.EnvSlackToken, "xoxb-test")

	env := &testEnv{
		dir:    t.TempDir(),
		openai: &fakeOpenAI{},
		slack:  &fakeWorkspace{},
	}
	env.dbPath = filepath.Join(env.dir, "postcast.db")

	env.wiki = httptest.NewServer(wikiHandler(t))
	t.Cleanup(env.wiki.Close)
	openaiSrv := httptest.NewServer(env.openai.handler(t))
	t.Cleanup(openaiSrv.Close)
	slackSrv := httptest.NewServer(env.slack.handler(t))
	t.Cleanup(slackSrv.Close)

	content := "mode: wiki\n" +
		"wiki:\n" +
		"  base_url: \"" + env.wiki.URL + "\"\n" +
		"summarize:\n" +
		"  endpoint: \"" + openaiSrv.URL + "/v1/chat/completions\"\n" +
		"slack:\n" +
		"  channel: C123\n" +
		"  api_url: \"" + slackSrv.URL + "/\"\n" +
		"storage:\n" +
		"  path: \"" + env.dbPath + "\"\n" +
		"logging:\n" +
		"  level: error\n" +
		"  format: text\n" +
		extraConfig

	cfgFile := filepath.Join(env.dir, config.DefaultConfigFile)
	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("write test config: %v", err)
	}
	useFlags(t, cfgFile)
	return env
}

// useFlags points the package-level flags at path and restores every flag
// when the test ends.
func useFlags(t *testing.T, path string) {
	t.Helper()

	oldConfigPath, oldLogLevel := configPath, logLevel
	oldRunMode, oldRunDate, oldRunDryRun := runMode, runDate, runDryRun
	oldSumMode, oldSumScheduled, oldSumDryRun := summarizeMode, summarizeAsScheduled, summarizeDryRun
	oldStatusLimit := statusLimit
	t.Cleanup(func() {
		configPath, logLevel = oldConfigPath, oldLogLevel
		runMode, runDate, runDryRun = oldRunMode, oldRunDate, oldRunDryRun
		summarizeMode, summarizeAsScheduled, summarizeDryRun = oldSumMode, oldSumScheduled, oldSumDryRun
		statusLimit = oldStatusLimit
	})

	configPath, logLevel = path, ""
	runMode, runDate, runDryRun = "", "", false
	summarizeMode, summarizeAsScheduled, summarizeDryRun = "", false, false
	statusLimit = 10
}

func rewriteConfig(t *testing.T, old, replacement string) {
	t.Helper()

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read test config: %v", err)
	}
	updated := strings.Replace(string(data), old, replacement, 1)
	if err := os.WriteFile(configPath, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite test config: %v", err)
	}
}

func appendConfig(t *testing.T, extra string) {
	t.Helper()

	rewriteConfig(t, "logging:\n", extra+"logging:\n")
}

func testCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	return cmd
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	oldStdout := os.Stdout
	reader, writer, err := os.Pipe()
	if err != nil {
		t.Fatalf("open stdout pipe: %v", err)
	}

	os.Stdout = writer
	runErr := fn()
	_ = writer.Close()
	os.Stdout = oldStdout

	out, readErr := io.ReadAll(reader)
	_ = reader.Close()
	if readErr != nil {
		t.Fatalf("read stdout pipe: %v", readErr)
	}
	return string(out), runErr
}

func openStoreForTest(t *testing.T, path string) *store.Store {
	t.Helper()

	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()

	if !strings.Contains(got, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, got)
	}
}
