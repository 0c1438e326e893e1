// Package client talks to a remote testmaster server. Client implements session.Backend so a
// local session can drive a remote executor.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
	"github.com/testmaster/testmaster/internal/history"
	"github.com/testmaster/testmaster/internal/logging"
	"github.com/testmaster/testmaster/internal/runner"
	"github.com/testmaster/testmaster/internal/server"
	"github.com/testmaster/testmaster/internal/session"
	"github.com/testmaster/testmaster/internal/store"
	"github.com/testmaster/testmaster/internal/stream"
)

// Client is safe for concurrent use. Reads are retried on connection errors and 5xx
// responses; start and stop are sent once.
type Client struct {
	baseURL string
	token   string
	logger  *logging.Logger
	http    *retryablehttp.Client
}

// New returns a client for the server at baseURL, e.g. http://localhost:5000.
func New(baseURL, token string, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.WithComponent("client")

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveled{logger}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  logger,
		http:    rc,
	}
}

// SetRetryMax overrides the retry budget of idempotent requests.
func (c *Client) SetRetryMax(n int) {
	c.http.RetryMax = n
}

func (c *Client) ListScripts(ctx context.Context) ([]string, error) {
	var resp struct {
		Scripts []string `json:"scripts"`
	}
	if err := c.do(ctx, http.MethodGet, "/scripts", nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Scripts, nil
}

func (c *Client) FetchCatalog(ctx context.Context, script string) (session.Catalog, error) {
	var cat session.Catalog
	err := c.do(ctx, http.MethodPost, "/script_tests", map[string]string{"script": script}, true, &cat)
	return cat, err
}

func (c *Client) Start(ctx context.Context, req session.StartRequest) error {
	err := c.do(ctx, http.MethodPost, "/start", req, false, nil)
	if err != nil && strings.Contains(err.Error(), runner.ErrAlreadyRunning.Error()) {
		return runner.ErrAlreadyRunning
	}
	return err
}

func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/stop", nil, false, nil)
}

func (c *Client) Health(ctx context.Context) (server.HealthResponse, error) {
	var h server.HealthResponse
	err := c.do(ctx, http.MethodGet, "/health", nil, true, &h)
	return h, err
}

// Runs lists stored runs, newest first.
func (c *Client) Runs(ctx context.Context, filter store.RunFilter) ([]server.RunSummary, error) {
	q := url.Values{}
	if filter.ScriptName != "" {
		q.Set("script", filter.ScriptName)
	}
	if filter.UnitIndex > 0 {
		q.Set("unit", strconv.Itoa(filter.UnitIndex))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Runs []server.RunSummary `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Export downloads the historical record of run id together with its suggested file name.
func (c *Client) Export(ctx context.Context, id string) ([]byte, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/runs/"+url.PathEscape(id)+"/export", nil, "")
	if err != nil {
		return nil, "", err
	}
	resp, err := c.send(req, true)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", tmerrors.Wrap(err, tmerrors.KindUnavailable, "failed to read export")
	}
	if resp.StatusCode >= 400 {
		return nil, "", responseError(resp.StatusCode, data)
	}

	name := id + ".json"
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return data, name, nil
}

// Upload sends a historical record for reconstruction.
func (c *Client) Upload(ctx context.Context, filename string, data []byte) (history.View, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return history.View{}, err
	}
	if _, err := part.Write(data); err != nil {
		return history.View{}, err
	}
	if err := mw.Close(); err != nil {
		return history.View{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/results/upload", buf.Bytes(), mw.FormDataContentType())
	if err != nil {
		return history.View{}, err
	}
	var view history.View
	err = c.roundTrip(req, true, &view)
	return view, err
}

// Stream connects to the push channel.
func (c *Client) Stream(ctx context.Context) (*stream.WSSource, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set(server.TokenHeader, c.token)
	}
	return stream.Dial(ctx, c.baseURL+"/ws", header, c.logger)
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotent bool, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}
	req, err := c.newRequest(ctx, method, path, payload, "application/json")
	if err != nil {
		return err
	}
	return c.roundTrip(req, idempotent, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte, contentType string) (*retryablehttp.Request, error) {
	var raw any
	if body != nil {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, raw)
	if err != nil {
		return nil, tmerrors.Wrap(err, tmerrors.KindValidation, "invalid request")
	}
	if contentType != "" && body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set(server.TokenHeader, c.token)
	}
	return req, nil
}

func (c *Client) send(req *retryablehttp.Request, idempotent bool) (*http.Response, error) {
	var resp *http.Response
	var err error
	if idempotent {
		resp, err = c.http.Do(req)
	} else {
		resp, err = c.http.HTTPClient.Do(req.Request)
	}
	if err != nil {
		return nil, tmerrors.Wrapf(err, tmerrors.KindUnavailable, "%s %s failed", req.Method, req.URL.Path)
	}
	return resp, nil
}

func (c *Client) roundTrip(req *retryablehttp.Request, idempotent bool, out any) error {
	resp, err := c.send(req, idempotent)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return tmerrors.Wrap(err, tmerrors.KindUnavailable, "failed to read response")
	}
	if resp.StatusCode >= 400 {
		return responseError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return tmerrors.Wrap(err, tmerrors.KindInternal, "failed to decode response")
	}
	return nil
}

// responseError rebuilds a kinded error from an error body.
func responseError(status int, data []byte) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	json.Unmarshal(data, &body)

	msg := body.Error
	if msg == "" {
		msg = body.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return tmerrors.Attr(tmerrors.New(kindFor(status), msg), "status", status)
}

func kindFor(status int) tmerrors.Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusUnauthorized:
		return tmerrors.KindValidation
	case http.StatusNotFound:
		return tmerrors.KindNotFound
	case http.StatusConflict:
		return tmerrors.KindConflict
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return tmerrors.KindUnavailable
	default:
		return tmerrors.KindInternal
	}
}

// leveled adapts the component logger to retryablehttp.LeveledLogger.
type leveled struct {
	l *logging.Logger
}

func (l leveled) Error(msg string, kv ...interface{}) { l.l.Error(msg, kv...) }
func (l leveled) Info(msg string, kv ...interface{})  { l.l.Debug(msg, kv...) }
func (l leveled) Debug(msg string, kv ...interface{}) { l.l.Debug(msg, kv...) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.l.Warn(msg, kv...) }
