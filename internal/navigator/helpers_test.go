package navigator

import (
	"bytes"
	"log"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/tinytelemetry/sepal/internal/app"
	"github.com/tinytelemetry/sepal/internal/bridge/bridgetest"
	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/page"
)

// recorder collects page hook calls as "hook:uri" strings.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count(ev string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == ev {
			n++
		}
	}
	return n
}

type env struct {
	app  *app.Context
	host *bridgetest.Host
	rec  *recorder
	logs *bytes.Buffer
}

func newEnv(t *testing.T, cfg model.AppConfig) *env {
	t.Helper()
	e := &env{host: bridgetest.New(), rec: &recorder{}, logs: &bytes.Buffer{}}
	factory := page.FactoryFunc(func(accessURI string, id model.FrameID, _ model.AppConfig) page.Page {
		uri, _ := model.SplitURL(accessURI)
		return &page.Hooks{
			URI:    uri,
			ID:     id,
			Load:   func(url.Values) { e.rec.add("load:" + uri) },
			Unload: func() { e.rec.add("unload:" + uri) },
		}
	})
	e.app = app.New(e.host, cfg,
		app.WithPages(factory),
		app.WithLogger(log.New(e.logs, "", 0)),
		app.WithRunner(func(f func()) { f() }),
	)
	return e
}

func testConfig() model.AppConfig {
	return model.AppConfig{
		Pages: []string{"pages/a", "pages/b", "pages/c", "pages/detail/index", "pages/list/index", "pages/tab0", "pages/tab1"},
		SubPackages: []model.SubPackage{
			{Root: "sub", Pages: []string{"pages/x"}},
		},
	}
}

func tabConfig() model.AppConfig {
	cfg := testConfig()
	cfg.TabBar = &model.TabBar{List: []model.TabItem{
		{PagePath: "pages/tab0", Text: "Home"},
		{PagePath: "pages/tab1", Text: "Me"},
	}}
	return cfg
}

func joined(list []string) string { return strings.Join(list, ",") }
