package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/samber/mo"
)

var (
	ErrInvalidBaseURL  = errors.New("invalid base URL")
	ErrUnknownStrategy = errors.New("unknown discovery strategy")
)

// Strategy names accepted in configuration.
const (
	StrategyBuiltin    = "builtin"
	StrategyWellKnown  = "well-known"
	StrategyRoot       = "root"
	StrategyBruteForce = "bruteforce"
)

// DefaultStrategies returns the probe order used when no explicit order is
// configured.
func DefaultStrategies() []string {
	return []string{StrategyBuiltin, StrategyWellKnown, StrategyRoot, StrategyBruteForce}
}

// Account identifies a remote CalDAV account to probe.
type Account struct {
	BaseURL  string
	Username string
	Password string
}

// CalendarDescriptor represents one discovered calendar collection.
type CalendarDescriptor struct {
	URL         string
	DisplayName string
	Description string
	Color       string
	ChangeToken string
}

// Strategy is one way of locating the calendars behind an account. Probe
// returns None when the strategy finds nothing, letting the next one in the
// chain have a go; errors along the way are swallowed into None because a
// failed probe and an empty one are indistinguishable to the caller.
type Strategy interface {
	Name() string
	Probe(ctx context.Context, account Account) mo.Option[[]CalendarDescriptor]
}

// Discoverer runs an ordered chain of discovery strategies.
type Discoverer struct {
	strategies []Strategy
	prober     *prober
}

// Option configures a Discoverer.
type Option func(*prober)

// WithLogger sets the logger used for probe tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(p *prober) {
		p.logger = logger
	}
}

// WithTransport overrides the underlying HTTP transport. Used by tests to
// inject canned responses.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *prober) {
		p.base = rt
	}
}

// New builds a Discoverer from an ordered list of strategy names. An empty
// list selects the default order; an unrecognized name is a configuration
// error.
func New(strategyNames []string, timeout time.Duration, opts ...Option) (*Discoverer, error) {
	if len(strategyNames) == 0 {
		strategyNames = DefaultStrategies()
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	p := &prober{
		base:    defaultTransport(),
		timeout: timeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	d := &Discoverer{prober: p}
	for _, name := range strategyNames {
		strategy, err := strategyByName(name, p)
		if err != nil {
			return nil, err
		}
		d.strategies = append(d.strategies, strategy)
	}
	return d, nil
}

func strategyByName(name string, p *prober) (Strategy, error) {
	switch name {
	case StrategyBuiltin:
		return &builtinStrategy{prober: p}, nil
	case StrategyWellKnown:
		return &wellKnownStrategy{prober: p}, nil
	case StrategyRoot:
		return &rootStrategy{prober: p}, nil
	case StrategyBruteForce:
		return &bruteForceStrategy{prober: p}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
}

// Discover locates the calendar collections available to the account.
// Strategies run in configured order and the first that produces a result
// wins. When every strategy comes up empty the returned slice is empty and
// the error is nil: an account with no discoverable calendars is a normal
// outcome, not a failure.
func (d *Discoverer) Discover(ctx context.Context, account Account) ([]CalendarDescriptor, error) {
	base, err := url.Parse(account.BaseURL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, account.BaseURL)
	}

	for _, strategy := range d.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if calendars, ok := strategy.Probe(ctx, account).Get(); ok {
			d.prober.logger.Debug("discovery strategy succeeded",
				"strategy", strategy.Name(),
				"calendars", len(calendars))
			return calendars, nil
		}
		d.prober.logger.Debug("discovery strategy yielded nothing", "strategy", strategy.Name())
	}
	return []CalendarDescriptor{}, nil
}
