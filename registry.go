package gmail

import (
	"sort"
	"strings"
)

// Scheme names registered by DefaultRegistry.
const (
	SchemePlain   = "plain"
	SchemeXOAuth  = "xoauth"
	SchemeXOAuth2 = "xoauth2"
)

// Option keys understood by the built-in strategies.
const (
	OptPassword       = "password"
	OptToken          = "token"
	OptSecret         = "secret"
	OptConsumerKey    = "consumer_key"
	OptConsumerSecret = "consumer_secret"
	OptAccessToken    = "access_token"
	// OptDomain overrides the HELO domain in SMTPSettings.
	OptDomain = "domain"
)

// Options carries scheme-specific credentials. Which keys are required
// depends on the scheme.
type Options map[string]string

func (o Options) require(scheme, username string, keys ...string) error {
	if username == "" {
		return &ConfigurationError{Scheme: scheme, Reason: "username is required"}
	}
	for _, k := range keys {
		if o[k] == "" {
			return &ConfigurationError{Scheme: scheme, Reason: "missing option " + k}
		}
	}
	return nil
}

// Factory builds a Strategy for username from scheme options.
type Factory func(username string, opts Options) (Strategy, error)

// Registry maps scheme names to strategy factories. Register everything
// before the registry is shared; after that it is only read and lookups
// are safe from multiple goroutines.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a new registry holding the plain, xoauth and
// xoauth2 schemes.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(SchemePlain, newPlainStrategy)
	r.Register(SchemeXOAuth, newXOAuthStrategy)
	r.Register(SchemeXOAuth2, newXOAuth2Strategy)
	return r
}

// Register makes a scheme available by name. Names are case-insensitive.
// It panics if the name is empty, f is nil, or the name is taken.
func (r *Registry) Register(name string, f Factory) {
	key := strings.ToLower(name)
	if key == "" {
		panic("gmail: Register scheme name is empty")
	}
	if f == nil {
		panic("gmail: Register factory is nil for " + name)
	}
	if _, dup := r.factories[key]; dup {
		panic("gmail: Register called twice for scheme " + name)
	}
	r.factories[key] = f
}

// Resolve returns the factory registered under name.
func (r *Registry) Resolve(name string) (Factory, error) {
	f, ok := r.factories[strings.ToLower(name)]
	if !ok {
		return nil, &ConfigurationError{Scheme: name}
	}
	return f, nil
}

// New resolves name and builds a strategy for username.
func (r *Registry) New(name, username string, opts Options) (Strategy, error) {
	f, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return f(username, opts)
}

// Names returns the registered scheme names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
