package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Telegram: TelegramConfig{
			ParseMode:             "HTML",
			PlainTextFallback:     true,
			ProcessingText:        "⏳ Checking the claim...",
			FailureText:           "❌ Sorry, the claim could not be checked right now. Please try again later.",
			RequestTimeoutSeconds: 60,
		},
		Webhook: WebhookConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Path: "/webhooks/telegram/action",
		},
		Assessor: AssessorConfig{
			BaseURL:        "https://api.perplexity.ai",
			Model:          "sonar-pro",
			MaxTokens:      1024,
			Temperature:    0.2,
			TimeoutSeconds: 90,
			RatePerMinute:  30,
			Burst:          5,
		},
		Delivery: DeliveryConfig{
			MaxChunkSize: 4096,
			ChunkDelayMs: 100,
			ChunkRetries: 0,
		},
		Worker: WorkerConfig{
			Concurrency: 3,
			QueueSize:   100,
		},
		Dedup: DedupConfig{
			Enabled:    true,
			Backend:    "memory",
			TTLSeconds: 600,
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        "~/.factbot/history.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
		Subscriptions: SubscriptionsConfig{
			SweepIntervalSeconds: 600,
			Timezone:             "UTC",
		},
	}
}
