package model

import "strings"

// AppConfig is the declared application configuration (app.json).
type AppConfig struct {
	AppRootPath string       `json:"appRootPath" yaml:"appRootPath"`
	Pages       []string     `json:"pages" yaml:"pages"`
	SubPackages []SubPackage `json:"subPackages,omitempty" yaml:"subPackages,omitempty"`
	TabBar      *TabBar      `json:"tabBar,omitempty" yaml:"tabBar,omitempty"`
	SplitAppJS  bool         `json:"splitAppJs,omitempty" yaml:"splitAppJs,omitempty"`
	HomePath    string       `json:"homePath,omitempty" yaml:"homePath,omitempty"`
}

// SubPackage is a lazily loaded group of pages under a common root.
type SubPackage struct {
	Root  string   `json:"root" yaml:"root"`
	Pages []string `json:"pages" yaml:"pages"`
}

// TabBar declares the tab bar entries.
type TabBar struct {
	List []TabItem `json:"list" yaml:"list"`
}

// TabItem is one tab bar entry.
type TabItem struct {
	PagePath string `json:"pagePath" yaml:"pagePath"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
}

// Tabs returns the declared tab list, or nil without a tab bar.
func (c AppConfig) Tabs() []TabItem {
	if c.TabBar == nil {
		return nil
	}
	return c.TabBar.List
}

// SplitBundle reports whether the app ships a split app bundle that defers
// loading all page code until the first view attaches.
func (c AppConfig) SplitBundle() bool {
	return c.SplitAppJS && len(c.SubPackages) == 0
}

// SubPackagePages returns every sub-package page as root-qualified paths.
func (c AppConfig) SubPackagePages() []string {
	var out []string
	for _, sp := range c.SubPackages {
		for _, p := range sp.Pages {
			out = append(out, strings.ReplaceAll(sp.Root+"/"+p, "//", "/"))
		}
	}
	return out
}

// Home returns the home page path: HomePath when declared, else the first page.
func (c AppConfig) Home() string {
	if c.HomePath != "" {
		return strings.TrimPrefix(c.HomePath, "/")
	}
	if len(c.Pages) > 0 {
		return c.Pages[0]
	}
	return ""
}
