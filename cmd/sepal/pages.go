package main

import (
	"encoding/json"
	"log"
	"net/url"

	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/page"
)

// newLoggingPages returns the page factory of the standalone controller.
// It has no application code to run, so every page only logs its hooks.
func newLoggingPages(logger *log.Logger) *page.Registry {
	return page.NewRegistry(page.FactoryFunc(func(accessURI string, id model.FrameID, _ model.AppConfig) page.Page {
		return newLoggingPage(logger, accessURI, id)
	}))
}

func newLoggingPage(logger *log.Logger, accessURI string, id model.FrameID) *page.Hooks {
	path, _ := model.SplitURL(accessURI)
	logf := func(format string, args ...any) {
		logger.Printf("page: %s#%s "+format, append([]any{path, id}, args...)...)
	}
	return &page.Hooks{
		URI: path,
		ID:  id,
		Load: func(query url.Values) {
			logf("onLoad %s", query.Encode())
		},
		Show: func(event json.RawMessage) {
			logf("onShow %s", event)
		},
		Hide: func(event json.RawMessage) {
			logf("onHide %s", event)
		},
		Unload: func() {
			logf("onUnload")
		},
		Ready: func() {
			logf("onReady")
		},
		TabItemTap: func(tap model.TabTap) {
			logf("onTabItemTap %d %s", tap.Index, tap.PagePath)
		},
		Event: func(name string, params json.RawMessage) {
			logf("event %s %s", name, params)
		},
		Method: func(method string, value json.RawMessage) error {
			logf("method %s %s", method, value)
			return nil
		},
	}
}
