package sentinel

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	configPath  string
	thresholds  *Thresholds
	modelPath   string
	modelDigest string
	allowWarn   bool
}

// WithConfig loads the sentinel YAML config at path. Without it the client
// reads ~/.sentinel/config.yaml when present, else built-in defaults.
func WithConfig(path string) Option {
	return func(c *clientConfig) { c.configPath = path }
}

// WithThresholds overrides the configured circuit breakers.
func WithThresholds(t Thresholds) Option {
	return func(c *clientConfig) { c.thresholds = &t }
}

// WithModel loads a scoring model artifact and pins its SHA3-256 digest.
func WithModel(path, sha3Digest string) Option {
	return func(c *clientConfig) {
		c.modelPath = path
		c.modelDigest = sha3Digest
	}
}

// WithAllowWarn lets guarded calls proceed on WARN. By default only ALLOW
// passes.
func WithAllowWarn() Option {
	return func(c *clientConfig) { c.allowWarn = true }
}

// WrapOption configures a single Wrap call.
type WrapOption func(*wrapConfig)

type wrapConfig struct {
	allowWarn bool
	requestID func() string
}

// WrapAllowWarn lets this wrapped call proceed on WARN.
func WrapAllowWarn() WrapOption {
	return func(w *wrapConfig) { w.allowWarn = true }
}

// WrapWithRequestID sets how request IDs are generated for this wrap.
func WrapWithRequestID(fn func() string) WrapOption {
	return func(w *wrapConfig) { w.requestID = fn }
}
