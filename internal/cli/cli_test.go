package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eures-rank/internal/config"
	"eures-rank/internal/domain"
	"eures-rank/internal/session"
	"eures-rank/internal/store/bolt"
)

type env struct {
	dir    string
	config string
	dbPath string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	e := env{dir: dir, config: filepath.Join(dir, "config.yaml"), dbPath: filepath.Join(dir, "jobs.db")}
	yaml := fmt.Sprintf("log:\n  level: error\nstore:\n  type: bolt\n  path: %s\nstate:\n  dir: %s\n",
		e.dbPath, filepath.Join(dir, "state"))
	require.NoError(t, os.WriteFile(e.config, []byte(yaml), 0o644))
	return e
}

func (e env) seed(t *testing.T, recs ...domain.JobRecord) {
	t.Helper()
	s, err := bolt.Open(e.dbPath)
	require.NoError(t, err)
	defer s.Close()
	for _, rec := range recs {
		_, err := s.Upsert(context.Background(), rec)
		require.NoError(t, err)
	}
}

func (e env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := BuildCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVectorizeThenRank(t *testing.T) {
	e := newEnv(t)
	e.seed(t,
		domain.JobRecord{ID: "1", Title: "Warehouse operative", Description: "<p>Warehouse work with forklift trucks.</p>"},
		domain.JobRecord{ID: "2", Title: "Nurse", Description: "<p>Hospital nurse for night shifts.</p>"},
		domain.JobRecord{ID: "3", Title: "Cook", Description: ""},
	)

	out, err := e.run(t, "", "vectorize")
	require.NoError(t, err)
	assert.Contains(t, out, "embedded=2 skipped=1")

	out, err = e.run(t, "", "vectorize", "--resume")
	require.NoError(t, err)
	assert.Contains(t, out, "embedded=0")

	out, err = e.run(t, "", "rank", "forklift", "warehouse")
	require.NoError(t, err)
	lines := strings.Split(out, "\n")
	assert.Contains(t, lines[0], "Warehouse operative")
	assert.Contains(t, out, "2 ranked records")
	assert.NotContains(t, out, "Cook")
}

func TestAnnotateAndStats(t *testing.T) {
	e := newEnv(t)
	e.seed(t, domain.JobRecord{ID: "42", Title: "Driver"})

	_, err := e.run(t, `{"score": 7.5, "justification": "licence matches"}`, "annotate", "42")
	require.NoError(t, err)

	out, err := e.run(t, "", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "total:     1")
	assert.Contains(t, out, "annotated: 1")
	assert.Contains(t, out, "avg score: 7.50")

	_, err = e.run(t, `{"score": 1}`, "annotate", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.run(t, `{"scor": 1}`, "annotate", "42")
	assert.ErrorContains(t, err, "decode annotation")
}

func TestListFiltersSortsAndPages(t *testing.T) {
	e := newEnv(t)
	e.seed(t,
		domain.JobRecord{ID: "1", Title: "Warehouse operative", Location: "Lyon"},
		domain.JobRecord{ID: "2", Title: "Nurse", Location: "Porto"},
		domain.JobRecord{ID: "3", Title: "Warehouse supervisor"},
		domain.JobRecord{ID: "4", Title: "Cook"},
	)
	_, err := e.run(t, `{"score": 4, "justification": "night shifts"}`, "annotate", "2")
	require.NoError(t, err)
	_, err = e.run(t, `{"score": 9, "justification": "forklift licence"}`, "annotate", "3")
	require.NoError(t, err)

	out, err := e.run(t, "", "list", "--page-size", "3")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "1  Warehouse operative (Lyon)  [not embedded]")
	assert.Contains(t, lines[1], "[4.0] 2  Nurse")
	assert.Equal(t, "page 1/2, 4 records", lines[3])

	out, err = e.run(t, "", "list", "--page-size", "3", "--page", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "4. 4  Cook")
	assert.Contains(t, out, "page 2/2, 4 records")

	out, err = e.run(t, "", "list", "--sort", "score")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "[9.0] 3")
	assert.Contains(t, lines[1], "[4.0] 2")
	assert.Contains(t, lines[2], " 1  ")
	assert.Contains(t, lines[3], " 4  ")

	out, err = e.run(t, "", "list", "--query", "WAREHOUSE")
	require.NoError(t, err)
	assert.Contains(t, out, "Warehouse operative")
	assert.Contains(t, out, "Warehouse supervisor")
	assert.NotContains(t, out, "Nurse")
	assert.Contains(t, out, "2 records")

	out, err = e.run(t, "", "list", "-q", "licence")
	require.NoError(t, err)
	assert.Contains(t, out, "Warehouse supervisor")
	assert.Contains(t, out, "1 records")

	_, err = e.run(t, "", "list", "--sort", "title")
	assert.ErrorContains(t, err, "unknown sort")
}

func TestShowPrintsRecord(t *testing.T) {
	e := newEnv(t)
	e.seed(t, domain.JobRecord{
		ID:          "42",
		Title:       "Driver",
		Location:    "Gent",
		Description: "<p>Drive <b>vans</b>.</p><script>track()</script>",
		Metadata:    map[string]string{"employer": "ACME", "contract": "permanent"},
	})
	_, err := e.run(t, `{"score": 7.5, "justification": "licence matches", "contact_email": "hr@acme.test"}`,
		"annotate", "42")
	require.NoError(t, err)

	out, err := e.run(t, "", "show", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "id:        42")
	assert.Contains(t, out, "location:  Gent")
	assert.Contains(t, out, "embedding: none")
	assert.Less(t, strings.Index(out, "contract: permanent"), strings.Index(out, "employer: ACME"))
	assert.Contains(t, out, "score:     7.50")
	assert.Contains(t, out, "justification: licence matches")
	assert.Contains(t, out, "contact: hr@acme.test")
	assert.Contains(t, out, "Drive vans.")
	assert.NotContains(t, out, "track()")

	_, err = e.run(t, "", "show", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = e.run(t, "", "show")
	assert.Error(t, err)
}

func TestRankRequiresQuery(t *testing.T) {
	e := newEnv(t)
	_, err := e.run(t, "", "rank")
	assert.Error(t, err)
}

func TestSessionSourceFromConfig(t *testing.T) {
	getenv = func(k string) string { return "v-" + k }
	t.Cleanup(func() { getenv = os.Getenv })

	a := &app{cfg: &config.AppConfig{Session: config.SessionConfig{
		Source: "static", CookieEnv: "C", TokenEnv: "T",
	}}}
	assert.Equal(t, session.StaticSource{Cookie: "v-C", Token: "v-T"}, a.sessionSource())

	a.cfg.Session = config.SessionConfig{Source: "command", Command: []string{"./login.sh"}}
	assert.Equal(t, session.CommandSource{Args: []string{"./login.sh"}}, a.sessionSource())

	a.cfg.Session = config.SessionConfig{Source: "bootstrap", BootstrapURL: "https://example.test"}
	src, ok := a.sessionSource().(session.BootstrapSource)
	require.True(t, ok)
	assert.Equal(t, "https://example.test", src.URL)
}
