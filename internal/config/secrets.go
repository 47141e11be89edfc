package config

import "maps"

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Gateway.SecretKey)
	redact(&out.Gateway.WebhookSecret)
	redact(&out.Notify.Telegram.Token)
	redact(&out.Admin.JWTSecret)

	if cfg.Notify.Providers != nil {
		out.Notify.Providers = make(map[string]ProviderConfig, len(cfg.Notify.Providers))
		for ch, p := range cfg.Notify.Providers {
			redact(&p.Token)
			out.Notify.Providers[ch] = p
		}
	}
	if cfg.Server.APIKeys != nil {
		out.Server.APIKeys = make([]string, len(cfg.Server.APIKeys))
		for i := range out.Server.APIKeys {
			out.Server.APIKeys[i] = redacted
		}
	}

	// Copy the remaining reference types so mutations to the redacted copy
	// do not reach the original.
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Tiers != nil {
		out.Tiers = maps.Clone(cfg.Tiers)
	}
	if cfg.Notify.TemplatePolicies != nil {
		out.Notify.TemplatePolicies = maps.Clone(cfg.Notify.TemplatePolicies)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
