package config

const (
	defaultStateFile   = "~/.config/ircgate/state.json"
	defaultLogDir      = "~/.local/share/ircgate/logs"
	defaultHistoryPath = "~/.local/share/ircgate/history.db"
	defaultLogFormat   = "console"
	defaultLogLevel    = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateFile: defaultStateFile,
			LogDir:    defaultLogDir,
		},
		History: History{
			Enabled: true,
			Path:    defaultHistoryPath,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
