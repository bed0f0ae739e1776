// Package admin is the content management back office: a tabbed shell whose
// tabs host editor and selection controllers, one workspace per signed-in
// admin, served over a JSON API.
package admin

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownTab        = errors.New("unknown tab")
	ErrUnknownCollection = errors.New("collection is not managed by any tab")
)

// Section is one collection shown in a tab.
type Section struct {
	Collection string `json:"collection"`
	// Editable limits the fields an admin may change. Empty allows every
	// writable field.
	Editable []string `json:"editable,omitempty"`
	// NoCreate hides the add dialog; existing rows can still be edited.
	NoCreate bool `json:"no_create,omitempty"`
	// ReadOnly rows can only be listed and deleted.
	ReadOnly bool `json:"read_only,omitempty"`
}

type Tab struct {
	Name       string    `json:"name"`
	Label      string    `json:"label"`
	Singletons []Section `json:"singletons,omitempty"`
	Lists      []Section `json:"lists,omitempty"`
}

func (t Tab) section(collection string) (Section, bool, bool) {
	for _, s := range t.Singletons {
		if s.Collection == collection {
			return s, true, true
		}
	}
	for _, s := range t.Lists {
		if s.Collection == collection {
			return s, false, true
		}
	}
	return Section{}, false, false
}

func sec(collection string) Section { return Section{Collection: collection} }

var tabs = []Tab{
	{Name: "hero", Label: "Hero", Singletons: []Section{sec("hero_content")}},
	{Name: "biography", Label: "Biography", Singletons: []Section{sec("biography_content")}},
	{Name: "quotes", Label: "Quotes", Lists: []Section{sec("biography_quotes")}},
	{Name: "milestones", Label: "Milestones", Lists: []Section{sec("biography_milestones")}},
	{Name: "markets", Label: "Markets", Lists: []Section{sec("markets")}},
	{Name: "insights", Label: "Insights", Lists: []Section{sec("insights")}},
	{Name: "achievements", Label: "Achievements", Lists: []Section{sec("achievements")}},
	{Name: "charity", Label: "Charity", Lists: []Section{sec("charity_works"), sec("charity_quotes")}},
	{Name: "interviews", Label: "Interviews",
		Singletons: []Section{sec("interviews_content")},
		Lists:      []Section{sec("interviews_qa")}},
	{Name: "stats", Label: "Stats", Lists: []Section{sec("stats")}},
	{Name: "media", Label: "Media", Lists: []Section{{Collection: "media_settings", Editable: []string{"url"}, NoCreate: true}}},
	{Name: "cta", Label: "Newsletter",
		Singletons: []Section{sec("newsletter_settings")},
		Lists:      []Section{{Collection: "newsletter_subscriptions", ReadOnly: true}}},
	{Name: "contact", Label: "Contact",
		Singletons: []Section{sec("contact_settings")},
		Lists:      []Section{{Collection: "contact_submissions", ReadOnly: true}}},
	{Name: "seo", Label: "SEO",
		Singletons: []Section{sec("seo_settings")},
		Lists:      []Section{sec("page_metadata")}},
}

// Tabs returns every admin tab in display order.
func Tabs() []Tab {
	out := make([]Tab, len(tabs))
	copy(out, tabs)
	return out
}

func lookupTab(name string) (Tab, bool) {
	for _, t := range tabs {
		if t.Name == name {
			return t, true
		}
	}
	return Tab{}, false
}

// tabOf returns the tab hosting collection.
func tabOf(collection string) (Tab, Section, bool, error) {
	for _, t := range tabs {
		if s, singleton, ok := t.section(collection); ok {
			return t, s, singleton, nil
		}
	}
	return Tab{}, Section{}, false, fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
}

// Shell holds the selected tab. Selecting a tab calls onLeave with the tab
// being left so its controllers can be torn down.
type Shell struct {
	mu      sync.Mutex
	active  string
	onLeave func(Tab)
}

func NewShell(onLeave func(Tab)) *Shell {
	return &Shell{active: tabs[0].Name, onLeave: onLeave}
}

func (s *Shell) Tabs() []Tab { return Tabs() }

func (s *Shell) Active() Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, _ := lookupTab(s.active)
	return t
}

// Select makes name the active tab. Selecting the active tab is a no-op.
func (s *Shell) Select(name string) error {
	next, ok := lookupTab(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTab, name)
	}
	s.mu.Lock()
	if s.active == next.Name {
		s.mu.Unlock()
		return nil
	}
	prev, _ := lookupTab(s.active)
	s.active = next.Name
	s.mu.Unlock()

	if s.onLeave != nil {
		s.onLeave(prev)
	}
	return nil
}
