package config

import "net/url"

const redacted = "***"

// RedactedConfig returns a copy of cfg with credentials replaced by "***",
// safe to log.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Redis.Password)
	redact(&out.Postgres.Password)
	out.Postgres.DSN = redactDSN(cfg.Postgres.DSN)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Slices are copied so the redacted value cannot alias the original.
	out.Subscription.Symbols = append([]string(nil), cfg.Subscription.Symbols...)
	out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	out.Kafka.Brokers = append([]string(nil), cfg.Kafka.Brokers...)
	out.Metrics.SlippageNotionals = append([]float64(nil), cfg.Metrics.SlippageNotionals...)
	return out
}

// redactDSN masks the password of a URL-style DSN and keeps the host so the
// target stays visible in logs. Anything unparsable is fully redacted.
func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
