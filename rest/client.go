// rest fetches and persists records against a JSON endpoint using the
// conventional verb-to-path mapping: GET and POST on the base url, GET, PUT
// and DELETE on base/{id}. Callbacks are invoked only on success; failures
// are logged and otherwise dropped.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"unseen/records"

	log "github.com/sirupsen/logrus"
)

// Client talks to a single record endpoint.
type Client struct {
	base string
	http *http.Client
	log  *log.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the entry failures are logged to.
func WithLogger(entry *log.Entry) Option {
	return func(c *Client) { c.log = entry }
}

// NewClient returns a client for the endpoint at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("rest: invalid base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("rest: base url %q is not absolute", baseURL)
	}

	c := &Client{
		base: strings.TrimSuffix(u.String(), "/"),
		http: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = log.WithField("endpoint", c.base)
	}
	return c, nil
}

func (c *Client) itemURL(id string) string {
	return c.base + "/" + url.PathEscape(id)
}

// Fetch GETs every record of the endpoint.
func (c *Client) Fetch(ctx context.Context, onSuccess func([]records.Record)) {
	c.do(ctx, http.MethodGet, c.base, nil, func(body io.Reader) error {
		recs, err := records.DecodeRecords(body)
		if err != nil {
			return err
		}
		onSuccess(recs)
		return nil
	})
}

// Read GETs the record with the given id.
func (c *Client) Read(ctx context.Context, id string, onSuccess func(records.Record)) {
	c.do(ctx, http.MethodGet, c.itemURL(id), nil, decodeRecord(nil, onSuccess))
}

// Create POSTs rec, passing the stored record to onSuccess. An endpoint
// answering with an empty body stored rec as sent.
func (c *Client) Create(ctx context.Context, rec records.Record, onSuccess func(records.Record)) {
	c.do(ctx, http.MethodPost, c.base, rec, decodeRecord(rec, onSuccess))
}

// Update PUTs rec at id, passing the stored record to onSuccess. An endpoint
// answering with an empty body, such as 204 No Content, stored rec as sent.
func (c *Client) Update(ctx context.Context, id string, rec records.Record, onSuccess func(records.Record)) {
	c.do(ctx, http.MethodPut, c.itemURL(id), rec, decodeRecord(rec, onSuccess))
}

// Delete DELETEs the record at id.
func (c *Client) Delete(ctx context.Context, id string, onSuccess func()) {
	c.do(ctx, http.MethodDelete, c.itemURL(id), nil, func(io.Reader) error {
		onSuccess()
		return nil
	})
}

// ErrEmptyResponse is logged when a record was expected but the body was empty.
var ErrEmptyResponse = errors.New("rest: empty response body")

// decodeRecord passes the record of a response body to onSuccess. An empty
// body passes a copy of sent instead, unless there is none.
func decodeRecord(sent records.Record, onSuccess func(records.Record)) func(io.Reader) error {
	return func(body io.Reader) error {
		buf, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}
		if len(bytes.TrimSpace(buf)) == 0 {
			if sent == nil {
				return ErrEmptyResponse
			}
			onSuccess(sent.Clone())
			return nil
		}

		var rec records.Record
		if err = json.Unmarshal(buf, &rec); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		onSuccess(rec)
		return nil
	}
}

// do performs the request and hands a successful response body to handle.
// Any failure is logged and handle is not called.
func (c *Client) do(
	ctx context.Context,
	method string,
	target string,
	payload records.Record,
	handle func(io.Reader) error,
) {
	entry := c.log.WithFields(log.Fields{"method": method, "url": target})

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			entry.WithError(err).Error("failed to encode record")
			return
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		entry.WithError(err).Error("failed to build request")
		return
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		entry.WithError(err).Error("request failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		entry.WithField("status", resp.StatusCode).Error("request rejected")
		return
	}
	if err := handle(resp.Body); err != nil {
		entry.WithError(err).Error("failed to handle response")
	}
}
