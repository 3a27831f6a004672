package dify

// Config contains Dify upstream configuration.
type Config struct {
	// BaseURL is the Dify API base, e.g. https://api.dify.ai/v1.
	BaseURL string `env:"DIFY_API_BASE" envDefault:"https://api.dify.ai/v1"`

	// APIKey is an optional fallback credential used when a request carries
	// no bearer token of its own.
	APIKey string `env:"DIFY_API_KEY"`

	// Timeout bounds blocking calls, in seconds. Streaming calls are bounded
	// by the request context instead.
	Timeout int `env:"DIFY_TIMEOUT" envDefault:"60"`

	// DefaultUser identifies the proxy to Dify when the client supplies no
	// user field.
	DefaultUser string `env:"DIFY_DEFAULT_USER" envDefault:"openai-proxy-user"`
}
