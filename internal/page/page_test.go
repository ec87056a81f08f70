package page

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"testing"

	"github.com/tinytelemetry/sepal/internal/model"
)

type loadOnly struct{ query url.Values }

func (p *loadOnly) OnLoad(q url.Values) { p.query = q }

func TestInvokersSkipMissingHooks(t *testing.T) {
	t.Parallel()
	p := &loadOnly{}

	Load(nil, p, url.Values{"a": {"1"}})
	Show(nil, p, nil)
	Unload(nil, p)
	Ready(nil, p)

	if got := p.query.Get("a"); got != "1" {
		t.Fatalf("query a = %q, want %q", got, "1")
	}
}

func TestSafelyRecoversAndLogs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	ok := Safely(logger, "onUnload", func() { panic("broken page") })
	if ok {
		t.Fatal("Safely() = true, want false")
	}
	if !strings.Contains(buf.String(), "page: onUnload panicked: broken page") {
		t.Fatalf("log = %q", buf.String())
	}
}

func TestForceReLaunchOutcomes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		page   Page
		want   string
		wantOK bool
	}{
		{name: "no handler", page: &loadOnly{}},
		{name: "nil func", page: &Hooks{}},
		{
			name: "declines",
			page: &Hooks{ForceReLaunch: func(ForceReLaunchRequest) (string, error) { return "", nil }},
		},
		{
			name: "errors",
			page: &Hooks{ForceReLaunch: func(ForceReLaunchRequest) (string, error) { return "x", errors.New("no") }},
		},
		{
			name: "panics",
			page: &Hooks{ForceReLaunch: func(ForceReLaunchRequest) (string, error) { panic("boom") }},
		},
		{
			name:   "chooses",
			page:   &Hooks{ForceReLaunch: func(r ForceReLaunchRequest) (string, error) { return "pages/" + r.PagePath, nil }},
			want:   "pages/detail",
			wantOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ForceReLaunch(log.New(&bytes.Buffer{}, "", 0), tt.page, ForceReLaunchRequest{HomePath: "pages/home", PagePath: "detail"})
			if got != tt.want || ok != tt.wantOK {
				t.Fatalf("ForceReLaunch() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCallMethodLogsError(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	p := &Hooks{Method: func(m string, v json.RawMessage) error { return errors.New("unknown " + m) }}

	CallMethod(log.New(&buf, "", 0), p, "tapItem", json.RawMessage(`{}`))

	if !strings.Contains(buf.String(), "unknown tapItem") {
		t.Fatalf("log = %q", buf.String())
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry(nil)
	r.Register("/pages/detail", FactoryFunc(func(uri string, id model.FrameID, cfg model.AppConfig) Page {
		return &Hooks{URI: "custom:" + uri, ID: id}
	}))

	if !r.Has("pages/detail?id=3") {
		t.Fatal("Has(pages/detail?id=3) = false, want true")
	}
	if r.Has("pages/other") {
		t.Fatal("Has(pages/other) = true, want false")
	}

	p := r.CreatePage("pages/detail?id=3", "7", model.AppConfig{}).(*Hooks)
	if p.URI != "custom:pages/detail?id=3" || p.ID != "7" {
		t.Fatalf("registered page = %+v", p)
	}
	d := r.CreatePage("pages/other", "8", model.AppConfig{}).(*Hooks)
	if d.URI != "pages/other" {
		t.Fatalf("default page URI = %q, want %q", d.URI, "pages/other")
	}
	if got := r.Paths(); len(got) != 1 || got[0] != "pages/detail" {
		t.Fatalf("Paths() = %v", got)
	}
}
