package discovery

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/emersion/go-webdav/caldav"
	"github.com/samber/mo"
)

// builtinStrategy asks the server for the account's calendar list the way the
// protocol intends: current-user-principal, then calendar-home-set, then the
// collections under it. Most compliant servers never need anything else.
type builtinStrategy struct {
	prober *prober
}

func (s *builtinStrategy) Name() string { return StrategyBuiltin }

func (s *builtinStrategy) Probe(ctx context.Context, account Account) mo.Option[[]CalendarDescriptor] {
	base, err := url.Parse(account.BaseURL)
	if err != nil {
		return mo.None[[]CalendarDescriptor]()
	}
	client, err := caldav.NewClient(s.prober.clientFor(account), account.BaseURL)
	if err != nil {
		s.prober.logger.Debug("builtin discovery setup failed", "error", err)
		return mo.None[[]CalendarDescriptor]()
	}
	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		s.prober.logger.Debug("builtin discovery found no principal", "error", err)
		return mo.None[[]CalendarDescriptor]()
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		s.prober.logger.Debug("builtin discovery found no home set", "error", err)
		return mo.None[[]CalendarDescriptor]()
	}
	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil || len(cals) == 0 {
		s.prober.logger.Debug("builtin discovery found no calendars", "error", err)
		return mo.None[[]CalendarDescriptor]()
	}
	descriptors := make([]CalendarDescriptor, 0, len(cals))
	for _, cal := range cals {
		descriptors = append(descriptors, CalendarDescriptor{
			URL:         resolveAgainst(base, cal.Path),
			DisplayName: cal.Name,
			Description: cal.Description,
		})
	}
	return mo.Some(descriptors)
}

// wellKnownStrategy follows the RFC 6764 bootstrapping path: a shallow
// principal query against /.well-known/caldav, then the shared home-set walk.
type wellKnownStrategy struct {
	prober *prober
}

func (s *wellKnownStrategy) Name() string { return StrategyWellKnown }

func (s *wellKnownStrategy) Probe(ctx context.Context, account Account) mo.Option[[]CalendarDescriptor] {
	base, err := url.Parse(account.BaseURL)
	if err != nil {
		return mo.None[[]CalendarDescriptor]()
	}
	client := s.prober.clientFor(account)
	principal := s.prober.findPrincipal(ctx, client, base.JoinPath(".well-known", "caldav").String())
	if principal == "" {
		return mo.None[[]CalendarDescriptor]()
	}
	return s.prober.calendarsForPrincipal(ctx, client, base, principal)
}

// rootStrategy queries the server root for the principal URL, falling back to
// a short list of conventional principal locations when the root answers with
// nothing usable.
type rootStrategy struct {
	prober *prober
}

func (s *rootStrategy) Name() string { return StrategyRoot }

// conventionalPrincipalPaths are tried only after the root PROPFIND fails to
// surface a principal href with any parser. The %s slot takes the username.
var conventionalPrincipalPaths = []string{
	"/principals/users/%s/",
	"/principals/%s/",
	"/remote.php/dav/principals/users/%s/",
}

func (s *rootStrategy) Probe(ctx context.Context, account Account) mo.Option[[]CalendarDescriptor] {
	base, err := url.Parse(account.BaseURL)
	if err != nil {
		return mo.None[[]CalendarDescriptor]()
	}
	client := s.prober.clientFor(account)

	if principal := s.prober.findPrincipal(ctx, client, base.JoinPath("/").String()); principal != "" {
		if cals, ok := s.prober.calendarsForPrincipal(ctx, client, base, principal).Get(); ok {
			return mo.Some(cals)
		}
	}

	if account.Username == "" {
		return mo.None[[]CalendarDescriptor]()
	}
	for _, tmpl := range conventionalPrincipalPaths {
		principal := fmt.Sprintf(tmpl, url.PathEscape(account.Username))
		if cals, ok := s.prober.calendarsForPrincipal(ctx, client, base, principal).Get(); ok {
			s.prober.logger.Debug("conventional principal path matched", "path", principal)
			return mo.Some(cals)
		}
	}
	return mo.None[[]CalendarDescriptor]()
}

// bruteForceStrategy checks a fixed list of conventional calendar locations
// and synthesizes a single-calendar result from the first one that answers a
// shallow PROPFIND. It only ever runs when every real discovery surface on
// the server has come up empty.
type bruteForceStrategy struct {
	prober *prober
}

func (s *bruteForceStrategy) Name() string { return StrategyBruteForce }

// conventionalCalendarPaths are joined to the account base URL; the %s slot
// takes the username.
var conventionalCalendarPaths = []string{
	"calendar/",
	"calendars/default/",
	"%s/calendar/",
	"calendars/%s/default/",
	"dav/%s/calendar/",
}

func (s *bruteForceStrategy) Probe(ctx context.Context, account Account) mo.Option[[]CalendarDescriptor] {
	base, err := url.Parse(account.BaseURL)
	if err != nil {
		return mo.None[[]CalendarDescriptor]()
	}
	client := s.prober.clientFor(account)
	for _, tmpl := range conventionalCalendarPaths {
		candidate, ok := expandCalendarPath(base, tmpl, account.Username)
		if !ok {
			continue
		}
		desc, found := s.prober.probeCollection(ctx, client, candidate)
		if !found {
			continue
		}
		s.prober.logger.Debug("brute-force path answered", "url", candidate)
		return mo.Some([]CalendarDescriptor{desc})
	}
	return mo.None[[]CalendarDescriptor]()
}

func expandCalendarPath(base *url.URL, tmpl, username string) (string, bool) {
	if strings.Contains(tmpl, "%s") {
		if username == "" {
			return "", false
		}
		tmpl = fmt.Sprintf(tmpl, url.PathEscape(username))
	}
	return base.JoinPath(tmpl).String(), true
}
