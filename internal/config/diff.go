package config

import (
	"fmt"
	"slices"

	"github.com/MrWong99/feedbackd/pkg/types"
)

// ConfigDiff describes the hot-reloadable changes between two configs.
// Everything else needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ProfileChanged covers the assistant name, organization, course link
	// and FAQ. New sessions pick up the new prompt.
	ProfileChanged bool

	KeytermsChanged bool

	TerminalDelayChanged bool

	// EventsAdded and EventsRemoved list event ids.
	EventsAdded   []string
	EventsRemoved []string
	EventsChanged []string

	// RestartRequired lists sections that changed but are only read at
	// startup.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ProfileChanged && !d.KeytermsChanged &&
		!d.TerminalDelayChanged && len(d.EventsAdded) == 0 && len(d.EventsRemoved) == 0 &&
		len(d.EventsChanged) == 0 && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oi, ni := old.Interview, new.Interview
	d.ProfileChanged = oi.AssistantName != ni.AssistantName ||
		oi.Organization != ni.Organization ||
		oi.CourseLink != ni.CourseLink ||
		oi.FAQ != ni.FAQ
	d.KeytermsChanged = !slices.Equal(oi.Keyterms, ni.Keyterms)
	d.TerminalDelayChanged = oi.TerminalDelay != ni.TerminalDelay
	d.EventsAdded, d.EventsRemoved, d.EventsChanged = diffEvents(oi.Events, ni.Events)

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.CORSOrigin != new.Server.CORSOrigin {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Notify != new.Notify {
		d.RestartRequired = append(d.RestartRequired, "notify")
	}
	if oi.Completion != ni.Completion {
		d.RestartRequired = append(d.RestartRequired, "interview.completion")
	}
	if old.Observability != new.Observability {
		d.RestartRequired = append(d.RestartRequired, "observability")
	}
	return d
}

func diffEvents(old, new []types.Event) (added, removed, changed []string) {
	oldByID := make(map[string]types.Event, len(old))
	for _, e := range old {
		oldByID[e.ID] = e
	}
	newByID := make(map[string]types.Event, len(new))
	for _, e := range new {
		newByID[e.ID] = e
		prev, ok := oldByID[e.ID]
		switch {
		case !ok:
			added = append(added, e.ID)
		case !eventEqual(prev, e):
			changed = append(changed, e.ID)
		}
	}
	for _, e := range old {
		if _, ok := newByID[e.ID]; !ok {
			removed = append(removed, e.ID)
		}
	}
	return added, removed, changed
}

func eventEqual(a, b types.Event) bool {
	return a.Name == b.Name && a.Description == b.Description && a.Location == b.Location &&
		a.ImageURL == b.ImageURL && a.Date.Equal(b.Date)
}

func providersEqual(a, b ProvidersConfig) bool {
	if !entryEqual(a.LLM, b.LLM) || !entryEqual(a.Extraction, b.Extraction) {
		return false
	}
	return slices.EqualFunc(a.Fallbacks, b.Fallbacks, entryEqual)
}

func entryEqual(a, b ProviderEntry) bool {
	// fmt prints maps with sorted keys.
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model &&
		fmt.Sprint(a.Options) == fmt.Sprint(b.Options)
}
