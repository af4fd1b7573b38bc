package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// AppName is the display name used by the banner and the ribbon page
const AppName = "CAR Extract"

// PrintBanner displays the application banner and logs the effective settings
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple(AppName, GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("environment", config.Environment).
		Str("listing_url", config.Listing.URL).
		Bool("headless", config.Browser.Headless).
		Str("session_timeout", config.Session.Timeout.String()).
		Str("storage", config.Storage.Badger.Path).
		Msg("Configuration loaded")
}
