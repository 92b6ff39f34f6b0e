package caldav

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"golang.org/x/time/rate"
)

var (
	ErrConnectionFailed   = errors.New("connection failed")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrNotFound           = errors.New("resource not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidResponse    = errors.New("invalid server response")
	ErrMalformedContent   = errors.New("malformed calendar content")
)

const (
	defaultTimeout = 30 * time.Second
	minTLSVersion  = tls.VersionTLS12
)

const propfindListBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:getetag/>
    <D:getcontenttype/>
  </D:prop>
</D:propfind>`

const propfindETagBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:getetag/>
  </D:prop>
</D:propfind>`

const propfindCollectionTagBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:" xmlns:CS="http://calendarserver.org/ns/">
  <D:prop>
    <CS:getctag/>
    <D:sync-token/>
  </D:prop>
</D:propfind>`

// Object is one calendar object as stored on the remote server. Href is
// always the absolute URL form so it can key lookups across accounts.
type Object struct {
	Href    string `json:"href"`
	ETag    string `json:"etag"`
	Data    string `json:"data"` // iCalendar wire text
	UID     string `json:"uid"`
	Summary string `json:"summary"`
}

// MalformedObject records a remote object the parser rejected.
type MalformedObject struct {
	Href   string
	Reason string
}

// MalformedObjectCollector gathers objects a server returned in a state the
// parser rejects, so a batch fetch can report them without aborting.
type MalformedObjectCollector struct {
	objects []MalformedObject
}

// NewMalformedObjectCollector creates an empty collector.
func NewMalformedObjectCollector() *MalformedObjectCollector {
	return &MalformedObjectCollector{
		objects: make([]MalformedObject, 0),
	}
}

// Add records a malformed object.
func (c *MalformedObjectCollector) Add(href, reason string) {
	c.objects = append(c.objects, MalformedObject{
		Href:   href,
		Reason: reason,
	})
}

// Items returns all collected objects in the order they were added.
func (c *MalformedObjectCollector) Items() []MalformedObject {
	return c.objects
}

// Count returns the number of collected objects.
func (c *MalformedObjectCollector) Count() int {
	return len(c.objects)
}

// Client performs CalDAV operations against a single account endpoint.
// Every remote call first waits on the configured rate limiter.
type Client struct {
	baseURL    string
	base       *url.URL
	username   string
	password   string
	httpClient *http.Client
	dav        *caldav.Client
	limiter    *rate.Limiter
}

// Option adjusts client construction.
type Option func(*Client)

// WithTimeout overrides the default per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithRateLimit caps outbound requests at rps with the given burst.
// A non-positive rps leaves the client unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a CalDAV client for the given endpoint and credentials.
func NewClient(baseURL, username, password string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", ErrConnectionFailed)
	}

	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid base URL %q", ErrConnectionFailed, baseURL)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: minTLSVersion,
		},
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	c := &Client{
		baseURL:  baseURL,
		base:     base,
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(c)
	}

	dav, err := caldav.NewClient(
		webdav.HTTPClientWithBasicAuth(c.httpClient, username, password),
		baseURL,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create CalDAV client: %w", ErrConnectionFailed, err)
	}
	c.dav = dav

	return c, nil
}

// gate blocks until the rate limiter admits one more remote call.
func (c *Client) gate(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// TestConnection verifies the endpoint answers an authenticated principal
// lookup.
func (c *Client) TestConnection(ctx context.Context) error {
	if err := c.gate(ctx); err != nil {
		return err
	}
	if _, err := c.dav.FindCurrentUserPrincipal(ctx); err != nil {
		return classifyDAVError(err)
	}
	return nil
}

// FetchObjects retrieves every event object in the calendar collection. It
// tries a REPORT calendar-query first and falls back to a PROPFIND listing
// with per-object fetches when the server rejects the query. Objects the
// parser rejects go to the collector and never abort the batch.
func (c *Client) FetchObjects(ctx context.Context, calURL string, collector *MalformedObjectCollector) ([]Object, error) {
	objects, err := c.fetchViaQuery(ctx, calURL)
	if err == nil {
		return objects, nil
	}
	if errors.Is(err, ErrAuthFailed) {
		return nil, err
	}

	log.Printf("Calendar query failed, trying PROPFIND fallback: %v", err)
	return c.fetchViaList(ctx, calURL, collector)
}

// fetchViaQuery uses a REPORT calendar-query to fetch all VEVENT objects
// in one round trip.
func (c *Client) fetchViaQuery(ctx context.Context, calURL string) ([]Object, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name: "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{
				{Name: "VEVENT"},
			},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{Name: "VEVENT"},
			},
		},
	}

	if err := c.gate(ctx); err != nil {
		return nil, err
	}
	results, err := c.dav.QueryCalendar(ctx, c.pathOf(calURL), query)
	if err != nil {
		return nil, classifyDAVError(err)
	}

	objects := make([]Object, 0, len(results))
	for _, res := range results {
		objects = append(objects, c.objectFromResult(res))
	}
	return objects, nil
}

// fetchViaList lists the collection with PROPFIND and fetches each object
// individually. Slower than the query path, but it isolates objects that
// are corrupted at the source instead of failing the whole collection.
func (c *Client) fetchViaList(ctx context.Context, calURL string, collector *MalformedObjectCollector) ([]Object, error) {
	if err := c.gate(ctx); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, "PROPFIND", c.absURL(calURL), "1", propfindListBody)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	hrefs := parseObjectHrefs(body, c.pathOf(calURL))

	objects := make([]Object, 0, len(hrefs))
	skippedMalformed := 0
	skippedEmpty := 0
	for _, href := range hrefs {
		obj, err := c.GetObject(ctx, href)
		if err != nil {
			if IsMalformedError(err) {
				if collector != nil {
					collector.Add(href, err.Error())
				}
				skippedMalformed++
				continue
			}
			log.Printf("Failed to fetch object %s: %v", href, err)
			continue
		}
		if obj.Data == "" {
			if collector != nil {
				collector.Add(href, "empty iCalendar data - object may be corrupted or deleted")
			}
			skippedEmpty++
			continue
		}
		objects = append(objects, *obj)
	}
	if skippedMalformed > 0 {
		log.Printf("Skipped %d malformed objects (corrupted at source)", skippedMalformed)
	}
	if skippedEmpty > 0 {
		log.Printf("Skipped %d empty objects (no iCalendar data)", skippedEmpty)
	}

	return objects, nil
}

// GetObject retrieves a single calendar object by href.
func (c *Client) GetObject(ctx context.Context, href string) (*Object, error) {
	if err := c.gate(ctx); err != nil {
		return nil, err
	}

	res, err := c.dav.GetCalendarObject(ctx, c.pathOf(href))
	if err != nil {
		if isMalformedMessage(err.Error()) {
			return nil, fmt.Errorf("%w: %s", ErrMalformedContent, href)
		}
		return nil, classifyDAVError(err)
	}

	obj := c.objectFromResult(*res)
	return &obj, nil
}

// CreateObject uploads a new calendar object into the collection, named
// after its UID. The returned href is absolute; the etag comes from the
// response header or, when the server omits it, a follow-up PROPFIND.
func (c *Client) CreateObject(ctx context.Context, calURL, uid, data string) (string, string, error) {
	if uid == "" {
		return "", "", fmt.Errorf("cannot create object without a UID")
	}

	objectURL := strings.TrimSuffix(c.absURL(calURL), "/") + "/" + url.PathEscape(uid) + ".ics"

	etag, err := c.put(ctx, objectURL, "", data)
	if err != nil {
		return "", "", err
	}
	if etag == "" {
		etag, err = c.fetchETag(ctx, objectURL)
		if err != nil {
			log.Printf("No etag after create of %s: %v", objectURL, err)
			etag = ""
		}
	}
	return objectURL, etag, nil
}

// UpdateObject replaces an existing object. A non-empty etag is sent as an
// If-Match precondition so a copy that changed on the server is not
// overwritten; that case surfaces as ErrPreconditionFailed.
func (c *Client) UpdateObject(ctx context.Context, href, etag, data string) (string, error) {
	objectURL := c.absURL(href)

	newEtag, err := c.put(ctx, objectURL, etag, data)
	if err != nil {
		return "", err
	}
	if newEtag == "" {
		newEtag, err = c.fetchETag(ctx, objectURL)
		if err != nil {
			log.Printf("No etag after update of %s: %v", objectURL, err)
			newEtag = ""
		}
	}
	return newEtag, nil
}

// DeleteObject removes an object, sending If-Match when an etag is
// supplied. A 404 counts as success so retried deletes stay idempotent.
func (c *Client) DeleteObject(ctx context.Context, href, etag string) error {
	if err := c.gate(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.absURL(href), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if etag != "" {
		req.Header.Set("If-Match", quoteETag(etag))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		log.Printf("Delete of %s: already gone", href)
		return nil
	default:
		return statusError(resp.StatusCode)
	}
}

// CollectionTag fetches the collection's ctag and sync-token. An unchanged
// ctag lets a cycle skip refetching the whole collection. Servers that
// support neither report empty values, not an error.
func (c *Client) CollectionTag(ctx context.Context, calURL string) (string, string, error) {
	if err := c.gate(ctx); err != nil {
		return "", "", err
	}

	req, err := c.newRequest(ctx, "PROPFIND", c.absURL(calURL), "0", propfindCollectionTagBody)
	if err != nil {
		return "", "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return "", "", statusError(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read response: %w", err)
	}

	ctag, syncToken := parseCollectionTag(body)
	return ctag, syncToken, nil
}

// put uploads iCalendar data, sending If-Match when an etag is supplied.
// It returns the ETag header of the response, unquoted.
func (c *Client) put(ctx context.Context, objectURL, etag, data string) (string, error) {
	if err := c.gate(ctx); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, objectURL, strings.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")
	if etag != "" {
		req.Header.Set("If-Match", quoteETag(etag))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return unquoteETag(resp.Header.Get("ETag")), nil
	default:
		return "", statusError(resp.StatusCode)
	}
}

// fetchETag asks the server for the current etag of one object. Some
// servers omit the ETag header on PUT responses.
func (c *Client) fetchETag(ctx context.Context, objectURL string) (string, error) {
	if err := c.gate(ctx); err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, "PROPFIND", objectURL, "0", propfindETagBody)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	etag := parseETag(body)
	if etag == "" {
		return "", fmt.Errorf("%w: no etag in PROPFIND response", ErrInvalidResponse)
	}
	return etag, nil
}

// newRequest builds an authenticated WebDAV request carrying an XML body.
// depth and body may be empty for methods that take neither.
func (c *Client) newRequest(ctx context.Context, method, rawURL, depth, body string) (*http.Request, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	if body != "" {
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	}
	if depth != "" {
		req.Header.Set("Depth", depth)
	}
	return req, nil
}

// objectFromResult converts a parsed calendar object into the wire form
// the rest of the engine works with.
func (c *Client) objectFromResult(res caldav.CalendarObject) Object {
	obj := Object{
		Href: c.absURL(res.Path),
		ETag: res.ETag,
	}

	if res.Data != nil {
		obj.Data = encodeCalendar(res.Data)

		for _, evt := range res.Data.Events() {
			if uid, err := evt.Props.Text(ical.PropUID); err == nil {
				obj.UID = uid
			}
			if summary, err := evt.Props.Text(ical.PropSummary); err == nil {
				obj.Summary = summary
			}
		}
	}

	return obj
}

// parseObjectHrefs extracts calendar object hrefs from a PROPFIND
// multistatus listing, skipping the collection itself.
func parseObjectHrefs(body []byte, collectionPath string) []string {
	type listingResponse struct {
		XMLName   xml.Name `xml:"DAV: multistatus"`
		Responses []struct {
			Href     string `xml:"href"`
			PropStat struct {
				Prop struct {
					ContentType string `xml:"getcontenttype"`
				} `xml:"prop"`
				Status string `xml:"status"`
			} `xml:"propstat"`
		} `xml:"response"`
	}

	var ms listingResponse
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil
	}

	hrefs := make([]string, 0)
	for _, resp := range ms.Responses {
		// Skip the collection itself
		if resp.Href == collectionPath || resp.Href+"/" == collectionPath || collectionPath+"/" == resp.Href {
			continue
		}
		if strings.HasSuffix(resp.Href, ".ics") ||
			strings.Contains(resp.PropStat.Prop.ContentType, "calendar") {
			hrefs = append(hrefs, unescapeHref(resp.Href))
		}
	}
	return hrefs
}

// parseETag pulls the first successful getetag out of a multistatus body.
func parseETag(body []byte) string {
	type etagResponse struct {
		XMLName   xml.Name `xml:"DAV: multistatus"`
		Responses []struct {
			PropStat []struct {
				Prop struct {
					GetETag string `xml:"getetag"`
				} `xml:"prop"`
				Status string `xml:"status"`
			} `xml:"propstat"`
		} `xml:"response"`
	}

	var ms etagResponse
	if err := xml.Unmarshal(body, &ms); err != nil {
		return ""
	}

	for _, resp := range ms.Responses {
		for _, ps := range resp.PropStat {
			if strings.Contains(ps.Status, "200") && ps.Prop.GetETag != "" {
				return unquoteETag(ps.Prop.GetETag)
			}
		}
	}
	return ""
}

// parseCollectionTag reads getctag and sync-token from a multistatus body.
func parseCollectionTag(body []byte) (string, string) {
	type tagResponse struct {
		XMLName   xml.Name `xml:"DAV: multistatus"`
		Responses []struct {
			PropStat []struct {
				Prop struct {
					GetCTag   string `xml:"getctag"`
					SyncToken string `xml:"sync-token"`
				} `xml:"prop"`
				Status string `xml:"status"`
			} `xml:"propstat"`
		} `xml:"response"`
	}

	var ms tagResponse
	if err := xml.Unmarshal(body, &ms); err != nil {
		return "", ""
	}

	var ctag, syncToken string
	for _, resp := range ms.Responses {
		for _, ps := range resp.PropStat {
			if !strings.Contains(ps.Status, "200") {
				continue
			}
			if ps.Prop.GetCTag != "" {
				ctag = ps.Prop.GetCTag
			}
			if ps.Prop.SyncToken != "" {
				syncToken = ps.Prop.SyncToken
			}
		}
	}
	return ctag, syncToken
}

// absURL resolves an href against the client's base URL. Hrefs in
// multistatus responses are server-absolute paths; discovery hands out
// full URLs. Both forms normalize to a full URL here.
func (c *Client) absURL(href string) string {
	if href == "" {
		return c.baseURL
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() {
		return href
	}
	return c.base.ResolveReference(ref).String()
}

// pathOf reduces a full URL to the path form the WebDAV library expects.
func (c *Client) pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return rawURL
	}
	return u.Path
}

// unescapeHref decodes percent-escapes so hrefs are not double-encoded
// when they are resolved into request URLs later.
func unescapeHref(href string) string {
	decoded, err := url.PathUnescape(href)
	if err != nil {
		return href
	}
	return decoded
}

// unquoteETag strips the quotes from an ETag header or property value.
// Etags are stored unquoted so values compare equal no matter which call
// produced them.
func unquoteETag(etag string) string {
	if len(etag) >= 2 && strings.HasPrefix(etag, `"`) && strings.HasSuffix(etag, `"`) {
		return etag[1 : len(etag)-1]
	}
	return etag
}

// quoteETag renders a stored etag in the quoted form If-Match requires.
func quoteETag(etag string) string {
	if strings.HasPrefix(etag, `"`) || strings.HasPrefix(etag, "W/") {
		return etag
	}
	return `"` + etag + `"`
}

// classifyDAVError maps library errors onto the package sentinels. The
// underlying client surfaces HTTP failures as formatted status strings,
// so this matches on status text the same way malformed-content
// detection does.
func classifyDAVError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "Unauthorized"):
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	case strings.Contains(msg, "403") || strings.Contains(msg, "Forbidden"):
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	case strings.Contains(msg, "404") || strings.Contains(msg, "Not Found"):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
}

// statusError maps an HTTP status from a raw WebDAV call onto the package
// sentinels.
func statusError(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthFailed, status)
	case http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, status)
	case http.StatusPreconditionFailed:
		return fmt.Errorf("%w: remote copy changed since last fetch", ErrPreconditionFailed)
	default:
		return fmt.Errorf("%w: unexpected status %d", ErrInvalidResponse, status)
	}
}

// IsMalformedError reports whether err indicates calendar content the
// parser rejected rather than a transport failure.
func IsMalformedError(err error) bool {
	if errors.Is(err, ErrMalformedContent) {
		return true
	}
	return isMalformedMessage(err.Error())
}

func isMalformedMessage(msg string) bool {
	return strings.Contains(msg, "malformed") ||
		strings.Contains(msg, "missing colon") ||
		(strings.Contains(msg, "invalid") && strings.Contains(msg, "ical"))
}

// encodeCalendar encodes a calendar object to iCalendar wire text.
func encodeCalendar(cal *ical.Calendar) string {
	var buf bytes.Buffer
	enc := ical.NewEncoder(&buf)
	if err := enc.Encode(cal); err != nil {
		return ""
	}
	return buf.String()
}
