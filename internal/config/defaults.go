package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			StateFile: "~/.maxbridge/state.json",
		},
		Max: MaxConfig{
			WorkDir: "~/.maxbridge/cache",
		},
		Telegram: TelegramConfig{
			ParseMode: "Markdown",
		},
		Fetch: FetchConfig{
			MaxAttempts:            3,
			ConnectTimeoutSeconds:  10,
			ResponseTimeoutSeconds: 30,
			TotalTimeoutSeconds:    120,
		},
	}
}
