package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/adpilot-hq/adpilot-backend/pkg/config"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
)

const defaultTimeout = 30 * time.Second

var (
	errAccessTokenRequired = errors.New("meta access token is required")
	errLoggerRequired      = errors.New("meta logger is required")
	errBaseURLRequired     = errors.New("meta base url is required")
)

// Graph API error codes that matter for classification.
const (
	graphCodeAPIUnknown   = 1
	graphCodeAPIService   = 2
	graphCodeTooManyCalls = 4
	graphCodeUserCalls    = 17
	graphCodePageCalls    = 32
	graphCodeOAuth        = 190
	graphCodeCustomCalls  = 613
	graphCodeUnknownNode  = 803
)

// Factory builds per-advertiser Graph clients. Advertisers can carry their
// own token; the configured system-user token is the fallback.
type Factory struct {
	cfg        config.MetaConfig
	httpClient *http.Client
	logg       *logger.Logger
}

// NewFactory validates shared configuration once.
func NewFactory(cfg config.MetaConfig, logg *logger.Logger) (*Factory, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errBaseURLRequired
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Factory{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logg:       logg,
	}, nil
}

// ClientFor returns a client bound to the given token, falling back to the
// configured system-user token when the advertiser has none.
func (f *Factory) ClientFor(accessToken string) (*Client, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		token = strings.TrimSpace(f.cfg.AccessToken)
	}
	if token == "" {
		return nil, errAccessTokenRequired
	}

	return &Client{
		httpClient:  f.httpClient,
		baseURL:     strings.TrimRight(f.cfg.BaseURL, "/"),
		version:     f.cfg.APIVersion,
		accessToken: token,
		logger:      f.logg,
	}, nil
}

// Client exposes the Graph API operations the optimizer needs, with
// centralized auth, logging and error mapping.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	version     string
	accessToken string
	logger      *logger.Logger
}

type graphErrorEnvelope struct {
	Error *graphError `json:"error"`
}

type graphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}

func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, strings.TrimLeft(path, "/"))
}

func (c *Client) doGet(ctx context.Context, path string, query url.Values, out any) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("access_token", c.accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path)+"?"+query.Encode(), nil)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building graph request")
	}
	return c.do(req, out)
}

func (c *Client) doPostForm(ctx context.Context, path string, form url.Values) error {
	if form == nil {
		form = url.Values{}
	}
	form.Set("access_token", c.accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), strings.NewReader(form.Encode()))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building graph request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.do(req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return pkgerrors.New(pkgerrors.CodePlatform, "graph mutation reported failure")
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "graph api unreachable")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading graph response")
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var envelope graphErrorEnvelope
		_ = json.Unmarshal(body, &envelope)
		return mapGraphError(resp.StatusCode, envelope.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding graph response")
	}
	return nil
}

func mapGraphError(status int, gerr *graphError) error {
	message := "graph api request failed"
	var graphCode int
	if gerr != nil {
		graphCode = gerr.Code
		if gerr.Message != "" {
			message = gerr.Message
		}
	}

	code := pkgerrors.CodePlatform
	switch {
	case status == http.StatusTooManyRequests,
		graphCode == graphCodeTooManyCalls,
		graphCode == graphCodeUserCalls,
		graphCode == graphCodePageCalls,
		graphCode == graphCodeCustomCalls:
		code = pkgerrors.CodeRateLimit
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		graphCode == graphCodeOAuth:
		code = pkgerrors.CodeForbidden
	case status == http.StatusNotFound, graphCode == graphCodeUnknownNode:
		code = pkgerrors.CodeNotFound
	case status >= http.StatusInternalServerError,
		graphCode == graphCodeAPIUnknown,
		graphCode == graphCodeAPIService:
		code = pkgerrors.CodeDependency
	}

	wrapped := pkgerrors.New(code, message)
	if gerr != nil {
		wrapped = wrapped.WithDetails(map[string]any{
			"graph_code":    gerr.Code,
			"graph_subcode": gerr.Subcode,
			"fbtrace_id":    gerr.FBTraceID,
		})
	}
	return wrapped
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("meta %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("meta %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"token", "secret", "credential"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
