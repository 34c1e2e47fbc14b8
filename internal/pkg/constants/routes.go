package constants

// Static route constants
const (
	HealthRoute           = "/"
	MetricsRoute          = "/metrics"
	CreatePreferenceRoute = "/create-preference"
	WebhookRoute          = "/webhook"
)
