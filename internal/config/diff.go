package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// LexiconChanged reports that pipeline.lexicon differs; the transcript
	// corrector can be rebuilt without a restart.
	LexiconChanged bool
	NewLexicon     []string

	// VoiceChanged reports that pipeline.voice differs.
	VoiceChanged bool
	NewVoice     string
}

// HasChanges reports whether any hot-reloadable field changed.
func (d ConfigDiff) HasChanges() bool {
	return d.LogLevelChanged || d.LexiconChanged || d.VoiceChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart; provider and
// session-store changes require a restart and are ignored here.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !equalLexicons(old.Pipeline.Lexicon, new.Pipeline.Lexicon) {
		d.LexiconChanged = true
		d.NewLexicon = new.Pipeline.Lexicon
	}

	if old.Pipeline.Voice != new.Pipeline.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Pipeline.Voice
	}

	return d
}

// equalLexicons compares two lexicons element-wise. Order matters: the
// corrector prefers earlier entries on ties.
func equalLexicons(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
