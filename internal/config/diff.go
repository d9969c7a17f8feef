package config

import (
	"maps"
	"slices"
)

// ConfigDiff describes what changed between two configs. Hot-reloadable
// changes get their own flags; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// PersonaChanged is set when the assistant name, creator name, locale or
	// time zone changed.
	PersonaChanged bool

	// RestartRequired names the changed sections that only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.PersonaChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oa, na := old.Assistant, new.Assistant
	if oa.AssistantName != na.AssistantName || oa.CreatorName != na.CreatorName ||
		oa.Locale != na.Locale || oa.TimeZone != na.TimeZone {
		d.PersonaChanged = true
	}

	restart := func(section string, changed bool) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, section)
		}
	}
	restart("server.listen_addr", old.Server.ListenAddr != new.Server.ListenAddr)
	restart("server.tls", !tlsEqual(old.Server.TLS, new.Server.TLS))
	restart("assistant.session", !sessionEqual(oa, na))
	restart("assistant.actions", !maps.Equal(oa.Actions, na.Actions))
	restart("classifier", !classifierEqual(old.Classifier, new.Classifier))
	restart("providers", !providersEqual(old.Providers, new.Providers))
	restart("client.server_url", old.Client.ServerURL != new.Client.ServerURL)
	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sessionEqual compares the assistant fields that are baked into a session
// when it starts.
func sessionEqual(a, b AssistantConfig) bool {
	return a.UserName == b.UserName &&
		a.VoiceLocale == b.VoiceLocale &&
		a.VoiceToggleEnabled() == b.VoiceToggleEnabled() &&
		a.FuzzyCommands == b.FuzzyCommands &&
		a.StalePolicy == b.StalePolicy &&
		a.HistorySize == b.HistorySize &&
		a.CacheSize == b.CacheSize &&
		a.Greeting == b.Greeting &&
		a.Fallback == b.Fallback &&
		a.Timings == b.Timings &&
		a.Opener == b.Opener
}

func classifierEqual(a, b ClassifierConfig) bool {
	return a.Timeout == b.Timeout &&
		a.Temperature == b.Temperature &&
		a.MaxTokens == b.MaxTokens &&
		a.Cache == b.Cache
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.LLM, b.LLM) && slices.EqualFunc(a.LLMFallbacks, b.LLMFallbacks, entryEqual)
}

// entryEqual ignores Options, which may hold uncomparable values.
func entryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
