package discovery

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/samber/mo"
)

const (
	defaultProbeTimeout = 10 * time.Second
	maxProbeRedirects   = 3
	minTLSVersion       = tls.VersionTLS12
)

const propfindCurrentUserPrincipal = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:current-user-principal/>
  </D:prop>
</D:propfind>`

const propfindCalendarHomeSet = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop>
    <C:calendar-home-set/>
  </D:prop>
</D:propfind>`

const propfindCalendarListing = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav" xmlns:A="http://apple.com/ns/ical/" xmlns:CS="http://calendarserver.org/ns/">
  <D:prop>
    <D:resourcetype/>
    <D:displayname/>
    <C:calendar-description/>
    <A:calendar-color/>
    <CS:getctag/>
  </D:prop>
</D:propfind>`

// prober issues the raw WebDAV property queries the non-builtin strategies are
// made of. One prober is shared by every strategy in a chain; per-account
// credentials are bound into the HTTP client at probe time.
type prober struct {
	base    http.RoundTripper
	timeout time.Duration
	logger  *slog.Logger
}

func defaultTransport() *http.Transport {
	return &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: minTLSVersion,
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// clientFor returns an HTTP client bound to the account's credentials. The
// client never auto-follows redirects: the standard library downgrades
// PROPFIND to GET on 301/302, so the prober replays redirects itself.
func (p *prober) clientFor(account Account) *http.Client {
	return &http.Client{
		Timeout: p.timeout,
		Transport: &basicAuthTransport{
			username: account.Username,
			password: account.Password,
			next:     p.base,
			logger:   p.logger,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// basicAuthTransport adds Basic Auth credentials to every outgoing request and
// traces the exchange at debug level.
type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
	logger   *slog.Logger
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.username != "" || t.password != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	t.logger.Debug("outgoing request",
		"method", req.Method,
		"url", req.URL.String(),
		"depth", req.Header.Get("Depth"))
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.logger.Debug("request failed",
			"method", req.Method,
			"url", req.URL.String(),
			"error", err)
		return nil, err
	}
	t.logger.Debug("incoming response",
		"status", resp.Status,
		"url", req.URL.String())
	return resp, nil
}

// propfind sends a PROPFIND and returns the raw response body and status.
// Redirects are replayed with the original method and body, bounded to a few
// hops; well-known probes in particular tend to answer 301.
func (p *prober) propfind(ctx context.Context, client *http.Client, target string, depth int, reqBody string) ([]byte, int, error) {
	for hop := 0; ; hop++ {
		req, err := http.NewRequestWithContext(ctx, "PROPFIND", target, strings.NewReader(reqBody))
		if err != nil {
			return nil, 0, err
		}
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
		req.Header.Set("Depth", strconv.Itoa(depth))

		resp, err := client.Do(req)
		if err != nil {
			return nil, 0, err
		}
		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 300 && resp.StatusCode < 400 && hop < maxProbeRedirects {
			if loc := resp.Header.Get("Location"); loc != "" {
				next, err := resp.Request.URL.Parse(loc)
				if err == nil {
					p.logger.Debug("following redirect", "from", target, "to", next.String())
					target = next.String()
					continue
				}
			}
		}
		if readErr != nil {
			return nil, resp.StatusCode, readErr
		}
		return body, resp.StatusCode, nil
	}
}

// findPrincipal issues a shallow principal query against target. Servers
// disagree on namespace handling, so a strict namespace-aware decode runs
// first and a prefix-blind element scan second.
func (p *prober) findPrincipal(ctx context.Context, client *http.Client, target string) string {
	body, status, err := p.propfind(ctx, client, target, 0, propfindCurrentUserPrincipal)
	if err != nil {
		p.logger.Debug("principal probe failed", "url", target, "error", err)
		return ""
	}
	if status != http.StatusMultiStatus && status != http.StatusOK {
		p.logger.Debug("principal probe rejected", "url", target, "status", status)
		return ""
	}
	if href := parsePrincipalHref(body); href != "" {
		return href
	}
	return scanHrefOf(body, "current-user-principal")
}

// findHomeSet queries the principal for its calendar home. When the property
// is absent it falls back to scanning every returned link for one with a
// calendar-like path segment.
func (p *prober) findHomeSet(ctx context.Context, client *http.Client, principalURL string) string {
	body, status, err := p.propfind(ctx, client, principalURL, 0, propfindCalendarHomeSet)
	if err != nil {
		p.logger.Debug("home set probe failed", "url", principalURL, "error", err)
		return ""
	}
	if status != http.StatusMultiStatus && status != http.StatusOK {
		return ""
	}
	if href := parseHomeSetHref(body); href != "" {
		return href
	}
	if href := scanHrefOf(body, "calendar-home-set"); href != "" {
		return href
	}
	return scanCalendarLikeHref(body)
}

// calendarsForPrincipal finishes discovery from a known principal href: find
// the calendar home, then enumerate the collections under it.
func (p *prober) calendarsForPrincipal(ctx context.Context, client *http.Client, base *url.URL, principal string) mo.Option[[]CalendarDescriptor] {
	principalURL := resolveAgainst(base, principal)
	home := p.findHomeSet(ctx, client, principalURL)
	if home == "" {
		p.logger.Debug("no calendar home under principal", "principal", principalURL)
		return mo.None[[]CalendarDescriptor]()
	}
	parsedPrincipal, err := url.Parse(principalURL)
	if err != nil {
		return mo.None[[]CalendarDescriptor]()
	}
	calendars := p.enumerateCalendars(ctx, client, resolveAgainst(parsedPrincipal, home))
	if len(calendars) == 0 {
		return mo.None[[]CalendarDescriptor]()
	}
	return mo.Some(calendars)
}

// enumerateCalendars performs the depth-one listing under the calendar home
// and keeps every child advertising the calendar resource type.
func (p *prober) enumerateCalendars(ctx context.Context, client *http.Client, homeURL string) []CalendarDescriptor {
	home, err := url.Parse(homeURL)
	if err != nil {
		return nil
	}
	body, status, err := p.propfind(ctx, client, homeURL, 1, propfindCalendarListing)
	if err != nil || (status != http.StatusMultiStatus && status != http.StatusOK) {
		p.logger.Debug("calendar enumeration failed", "url", homeURL, "status", status, "error", err)
		return nil
	}
	var ms multistatusXML
	if err := xml.Unmarshal(body, &ms); err != nil {
		p.logger.Debug("calendar enumeration unparseable", "url", homeURL, "error", err)
		return nil
	}
	descriptors := make([]CalendarDescriptor, 0, len(ms.Responses))
	for _, resp := range ms.Responses {
		if desc, ok := descriptorFromResponse(resp, home); ok {
			descriptors = append(descriptors, desc)
		}
	}
	return descriptors
}

// probeCollection issues a depth-zero PROPFIND against a candidate collection
// URL. Any 2xx answer counts; whatever properties come back decorate the
// synthesized descriptor.
func (p *prober) probeCollection(ctx context.Context, client *http.Client, target string) (CalendarDescriptor, bool) {
	body, status, err := p.propfind(ctx, client, target, 0, propfindCalendarListing)
	if err != nil || status < 200 || status >= 300 {
		return CalendarDescriptor{}, false
	}
	desc := CalendarDescriptor{URL: target, DisplayName: "Calendar"}
	var ms multistatusXML
	if xml.Unmarshal(body, &ms) == nil && len(ms.Responses) > 0 {
		for _, ps := range ms.Responses[0].Propstat {
			if !strings.Contains(ps.Status, "200") {
				continue
			}
			if ps.Prop.DisplayName != "" {
				desc.DisplayName = ps.Prop.DisplayName
			}
			if ps.Prop.CalendarDescription != "" {
				desc.Description = ps.Prop.CalendarDescription
			}
			if v := strings.TrimSpace(ps.Prop.CalendarColor); v != "" {
				desc.Color = v
			}
			if ps.Prop.GetCTag != "" {
				desc.ChangeToken = ps.Prop.GetCTag
			}
		}
	}
	return desc, true
}

// multistatusXML mirrors the subset of the DAV multistatus schema discovery
// cares about. The top-level element is namespace-qualified, so responses
// without proper xmlns declarations fail this decoder and route through the
// etree scanners instead.
type multistatusXML struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []responseXML `xml:"response"`
}

type responseXML struct {
	Href     string        `xml:"href"`
	Propstat []propstatXML `xml:"propstat"`
}

type propstatXML struct {
	Status string  `xml:"status"`
	Prop   propXML `xml:"prop"`
}

type propXML struct {
	ResourceType         resourceTypeXML  `xml:"resourcetype"`
	DisplayName          string           `xml:"displayname"`
	CalendarDescription  string           `xml:"calendar-description"`
	CalendarColor        string           `xml:"calendar-color"`
	GetCTag              string           `xml:"getctag"`
	CurrentUserPrincipal hrefContainerXML `xml:"current-user-principal"`
	CalendarHomeSet      hrefSetXML       `xml:"calendar-home-set"`
}

type resourceTypeXML struct {
	Calendar *struct{} `xml:"urn:ietf:params:xml:ns:caldav calendar"`
}

type hrefContainerXML struct {
	Href string `xml:"href"`
}

type hrefSetXML struct {
	Hrefs []string `xml:"href"`
}

func parsePrincipalHref(body []byte) string {
	var ms multistatusXML
	if err := xml.Unmarshal(body, &ms); err != nil {
		return ""
	}
	for _, resp := range ms.Responses {
		for _, ps := range resp.Propstat {
			if !strings.Contains(ps.Status, "200") {
				continue
			}
			if href := strings.TrimSpace(ps.Prop.CurrentUserPrincipal.Href); href != "" {
				return href
			}
		}
	}
	return ""
}

func parseHomeSetHref(body []byte) string {
	var ms multistatusXML
	if err := xml.Unmarshal(body, &ms); err != nil {
		return ""
	}
	for _, resp := range ms.Responses {
		for _, ps := range resp.Propstat {
			if !strings.Contains(ps.Status, "200") {
				continue
			}
			for _, href := range ps.Prop.CalendarHomeSet.Hrefs {
				if v := strings.TrimSpace(href); v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// descriptorFromResponse folds the 200-status propstats of one multistatus
// response into a descriptor. Responses not typed as calendars are dropped.
func descriptorFromResponse(resp responseXML, base *url.URL) (CalendarDescriptor, bool) {
	var desc CalendarDescriptor
	isCalendar := false
	for _, ps := range resp.Propstat {
		if !strings.Contains(ps.Status, "200") {
			continue
		}
		if ps.Prop.ResourceType.Calendar != nil {
			isCalendar = true
		}
		if ps.Prop.DisplayName != "" {
			desc.DisplayName = ps.Prop.DisplayName
		}
		if ps.Prop.CalendarDescription != "" {
			desc.Description = ps.Prop.CalendarDescription
		}
		if v := strings.TrimSpace(ps.Prop.CalendarColor); v != "" {
			desc.Color = v
		}
		if ps.Prop.GetCTag != "" {
			desc.ChangeToken = ps.Prop.GetCTag
		}
	}
	if !isCalendar {
		return CalendarDescriptor{}, false
	}
	desc.URL = resolveAgainst(base, strings.TrimSpace(resp.Href))
	return desc, true
}

// scanHrefOf returns the first href child of any element whose local name
// matches tag, ignoring namespace prefixes entirely.
func scanHrefOf(body []byte, tag string) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return ""
	}
	for _, elem := range doc.FindElements("//" + tag) {
		if href := elem.SelectElement("href"); href != nil {
			if v := strings.TrimSpace(href.Text()); v != "" {
				return v
			}
		}
	}
	return ""
}

// scanCalendarLikeHref returns the first link in the response whose path
// contains a calendar-like segment. Last-resort home detection for servers
// that omit the calendar-home-set property.
func scanCalendarLikeHref(body []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return ""
	}
	for _, elem := range doc.FindElements("//href") {
		href := strings.TrimSpace(elem.Text())
		if href == "" {
			continue
		}
		if strings.Contains(strings.ToLower(href), "calendar") {
			return href
		}
	}
	return ""
}

// resolveAgainst converts a possibly-relative href into an absolute URL so
// every strategy reports calendars in the same form.
func resolveAgainst(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
