package looker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/z3z1ma/lookervault/internal/content"
	"github.com/z3z1ma/lookervault/internal/errkind"
)

// HTTPConfig configures the real Looker API client. Credentials are supplied
// through environment variables per spec.md §6; this struct is what a
// (not-in-scope) env/TOML loader populates.
type HTTPConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration // spec.md §5 "request timeout, default 30s"
}

// HTTPClient is a thin REST client implementing Client against a real
// Looker instance. Pagination, list filtering, and per-type endpoint
// shapes are necessarily Looker-API-specific and therefore kept minimal:
// the core's contract with this type is entirely the Client interface.
type HTTPClient struct {
	base   string
	http   *http.Client
	logger *log.Entry
}

// NewHTTPClient builds a client authenticated via OAuth2 client-credentials,
// per spec.md §6. It also exercises golang.org/x/net/http2's transport
// configuration for connection reuse across the many paginated fetches a
// parallel extraction issues.
func NewHTTPClient(ctx context.Context, cfg HTTPConfig, logger *log.Entry) (*HTTPClient, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	transport := &http.Transport{}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configuring http2 transport: %w", err)
	}
	// Reused across every paginated fetch a parallel extraction issues, so
	// connections (and HTTP/2 multiplexed streams) are shared rather than
	// re-established per request.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: transport, Timeout: cfg.Timeout})

	ccCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	tok, err := ccCfg.Token(ctx)
	if err != nil {
		return nil, errkind.New(errkind.Auth, "acquire oauth2 token", err)
	}
	logTokenExpiry(logger, tok.AccessToken)

	oauthClient := ccCfg.Client(ctx)
	oauthClient.Timeout = cfg.Timeout

	return &HTTPClient{base: cfg.BaseURL, http: oauthClient, logger: logger}, nil
}

// logTokenExpiry inspects an access token that happens to be JWT-shaped
// (several Looker deployments issue JWT bearer tokens) purely to log its
// expiry locally, avoiding an extra introspection round-trip. A non-JWT
// (opaque) token is logged as such and otherwise ignored — no verification
// is performed or required, since the token is only ever sent back to its
// issuer.
func logTokenExpiry(logger *log.Entry, token string) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		logger.Debug("access token is opaque, not JWT-shaped")
		return
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		logger.WithField("expires_at", exp.Time).Debug("access token expiry")
	}
}

func (c *HTTPClient) endpoint(ct content.Type, suffix string) string {
	return fmt.Sprintf("%s/api/4.0/%s%s", c.base, pathSegment(ct), suffix)
}

func pathSegment(ct content.Type) string {
	switch ct {
	case content.TypeUser:
		return "users"
	case content.TypeGroup:
		return "groups"
	case content.TypeRole:
		return "roles"
	case content.TypePermissionSet:
		return "permission_sets"
	case content.TypeModelSet:
		return "model_sets"
	case content.TypeFolder:
		return "folders"
	case content.TypeLookMLModel:
		return "lookml_models"
	case content.TypeLook:
		return "looks"
	case content.TypeDashboard:
		return "dashboards"
	case content.TypeBoard:
		return "boards"
	case content.TypeScheduledPlan:
		return "scheduled_plans"
	case content.TypeExplore:
		return "explores"
	default:
		return "unknown"
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errkind.New(errkind.Validation, "marshal request body", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return nil, errkind.New(errkind.Transient, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errkind.New(errkind.Cancelled, method+" "+path, ctx.Err())
		}
		return nil, errkind.New(errkind.Transient, method+" "+path, err)
	}
	return resp, classifyStatus(method, path, resp)
}

// classifyStatus maps HTTP status codes to the error taxonomy in spec.md §7.
// Returns nil for 2xx.
func classifyStatus(op string, path string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return errkind.New(errkind.RateLimited, op, fmt.Errorf("%s: 429", path))
	case resp.StatusCode == http.StatusNotFound:
		return errkind.New(errkind.NotFound, op, fmt.Errorf("%s: 404", path))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errkind.New(errkind.Auth, op, fmt.Errorf("%s: %d", path, resp.StatusCode))
	case resp.StatusCode >= 500:
		return errkind.New(errkind.Transient, op, fmt.Errorf("%s: %d", path, resp.StatusCode))
	default:
		return errkind.New(errkind.Validation, op, fmt.Errorf("%s: unexpected status %d", path, resp.StatusCode))
	}
}

func (c *HTTPClient) List(ctx context.Context, ct content.Type, filter Filter, offset, limit int64) (Page, error) {
	u := c.endpoint(ct, "")
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("limit", strconv.FormatInt(limit, 10))
	for _, fid := range filter.FolderIDs {
		q.Add("folder_id", fid)
	}
	resp, err := c.do(ctx, http.MethodGet, u+"?"+q.Encode(), nil)
	if err != nil {
		return Page{}, err
	}
	defer resp.Body.Close()

	var raw []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Page{}, errkind.New(errkind.Validation, "decode list response", err)
	}
	items := make([]RawObject, 0, len(raw))
	for _, obj := range raw {
		id, _ := obj["id"].(string)
		items = append(items, RawObject{ID: id, Body: obj})
	}
	return Page{Items: items, HasMore: int64(len(items)) == limit}, nil
}

func (c *HTTPClient) Get(ctx context.Context, ct content.Type, id string) (RawObject, error) {
	resp, err := c.do(ctx, http.MethodGet, c.endpoint(ct, "/"+id), nil)
	if err != nil {
		return RawObject{}, err
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return RawObject{}, errkind.New(errkind.Validation, "decode get response", err)
	}
	return RawObject{ID: id, Body: body}, nil
}

func (c *HTTPClient) Exists(ctx context.Context, ct content.Type, id string) (bool, error) {
	_, err := c.Get(ctx, ct, id)
	if err == nil {
		return true, nil
	}
	if errkind.Classify(err) == errkind.NotFound {
		return false, nil
	}
	return false, err
}

func (c *HTTPClient) Create(ctx context.Context, ct content.Type, writeModel map[string]any) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, c.endpoint(ct, ""), writeModel)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errkind.New(errkind.Validation, "decode create response", err)
	}
	id, _ := body["id"].(string)
	return id, nil
}

func (c *HTTPClient) Update(ctx context.Context, ct content.Type, id string, writeModel map[string]any) error {
	resp, err := c.do(ctx, http.MethodPatch, c.endpoint(ct, "/"+id), writeModel)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (c *HTTPClient) Me(ctx context.Context) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, c.base+"/api/4.0/user", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errkind.New(errkind.Validation, "decode me response", err)
	}
	return body, nil
}

func (c *HTTPClient) Versions(ctx context.Context) (map[string]any, error) {
	resp, err := c.do(ctx, http.MethodGet, c.base+"/versions", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errkind.New(errkind.Validation, "decode versions response", err)
	}
	return body, nil
}
