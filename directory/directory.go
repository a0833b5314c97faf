// Package directory resolves a live room to its frame relay endpoints and
// the one-shot token the relay expects in the auth frame.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"blive-greeting/domain"
)

const (
	DefaultPageURL = "https://live.bilibili.com"
	DefaultAPIURL  = "https://api.live.bilibili.com"

	// UserAgent is sent on every request; the API rejects obvious bots.
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

	danmuInfoPath = "/xlive/web-room/v1/index/getDanmuInfo"

	defaultTimeout      = 10 * time.Second
	defaultRetryMax     = 2
	defaultRetryWaitMin = 500 * time.Millisecond
	defaultRetryWaitMax = 3 * time.Second
)

var ErrNoRelayHost = errors.New("directory: no relay host found")

// APIError is a well-formed response that carried no data.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("directory: unexpected API response (%d): %s", e.Code, e.Message)
}

type response[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
}

// Client talks to the room directory over plain HTTP.
type Client struct {
	PageURL string
	APIURL  string

	http *retryablehttp.Client
}

func New(logger *slog.Logger) *Client {
	jar, _ := cookiejar.New(nil) // never fails without options

	retryClient := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport: cleanhttp.DefaultPooledTransport(),
			Jar:       jar,
			Timeout:   defaultTimeout,
		},
		RetryWaitMin: defaultRetryWaitMin,
		RetryWaitMax: defaultRetryWaitMax,
		RetryMax:     defaultRetryMax,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
	}
	if logger != nil {
		retryClient.Logger = logger
	}

	return &Client{
		PageURL: DefaultPageURL,
		APIURL:  DefaultAPIURL,
		http:    retryClient,
	}
}

// ResolveRoom visits the room page to pick up session cookies, then asks for
// the relay host list and token.
func (c *Client) ResolveRoom(ctx context.Context, roomID uint32, creds domain.Credentials) (*domain.RoomInfo, error) {
	room := strconv.FormatUint(uint64(roomID), 10)

	page, err := c.get(ctx, c.PageURL+"/"+room, creds)
	if err != nil {
		return nil, fmt.Errorf("directory: visit room page: %w", err)
	}
	if page.StatusCode != http.StatusOK {
		page.Body.Close()
		return nil, fmt.Errorf("directory: visit room page: status %d", page.StatusCode)
	}
	io.Copy(io.Discard, page.Body) // drained for connection reuse only
	page.Body.Close()

	q := url.Values{"id": {room}, "type": {"0"}}
	resp, err := c.get(ctx, c.APIURL+danmuInfoPath+"?"+q.Encode(), creds)
	if err != nil {
		return nil, fmt.Errorf("directory: get danmu info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory: get danmu info: status %d", resp.StatusCode)
	}

	var body response[domain.RoomInfo]
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("directory: decode danmu info: %w", err)
	}
	if body.Data == nil {
		return nil, &APIError{Code: body.Code, Message: body.Message}
	}
	return body.Data, nil
}

// Relay picks the first host of info and turns it into connection parameters.
func Relay(roomID uint32, info *domain.RoomInfo, creds domain.Credentials) (domain.ConnParams, error) {
	if info == nil || len(info.HostList) == 0 {
		return domain.ConnParams{}, ErrNoRelayHost
	}
	host := info.HostList[0]
	return domain.ConnParams{
		RoomID:      roomID,
		RelayHost:   host.Host,
		RelayPort:   host.WSSPort,
		AuthToken:   info.Token,
		Credentials: creds,
	}, nil
}

func (c *Client) get(ctx context.Context, rawURL string, creds domain.Credentials) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	if cookie := CookieHeader(creds); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	return c.http.Do(req)
}

// CookieHeader renders creds as a Cookie header value, keys sorted.
func CookieHeader(creds domain.Credentials) string {
	keys := make([]string, 0, len(creds))
	for k := range creds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+creds[k])
	}
	return strings.Join(parts, "; ")
}
