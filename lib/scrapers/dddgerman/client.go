package dddgerman

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"time"

	"dddgerman-client/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/dddgerman")

const DefaultBaseUrl = "https://api.dddgerman.org/api/"

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/136.0.0.0 Safari/537.36"

// Client is an authenticated session against the DDD German learning
// platform. The token, derived user id and transport are fixed at
// construction; every method is a stateless request/response round
// trip keyed off them.
type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client
	// user identifier recovered from the bearer token payload
	UserId string

	cache recordCache
}

type ClientOptions struct {
	// defaults to DefaultBaseUrl
	BaseUrl string
	// bearer JWT issued by the platform's login page
	Token string
	// defaults to 10s
	Timeout time.Duration
	// optional scrape cache for listing endpoints, usually an
	// in-memory badger instance. nil disables caching.
	Cache *badger.DB
}

// NewClient decodes the token, builds the transport and probes the
// platform once to confirm the token is still accepted.
func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	ctx, span := tracer.Start(ctx, "NewClient")
	defer span.End()

	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.Timeout == 0 {
		opts.Timeout = time.Second * 10
	}

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	userId, err := userIdFromToken(opts.Token)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode bearer token")
		return nil, err
	}
	span.SetAttributes(attribute.String("user_id", userId))

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", browserUserAgent)
	client.SetHeader("accept", "application/json, text/plain, */*")
	client.SetHeader("origin", "https://www.dddgerman.org")
	client.SetHeader("referer", "https://www.dddgerman.org/")
	client.SetAuthToken(opts.Token)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(opts.Timeout)

	telemetry.InstrumentResty(client, "scrapers/dddgerman/http")

	c := &Client{
		BaseUrl: baseUrl,
		Http:    client,
		UserId:  userId,
		cache: recordCache{
			db:      opts.Cache,
			baseUrl: baseUrl,
		},
	}

	err = c.probeIdentity(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identity probe failed")
		return nil, err
	}

	return c, nil
}

// probeIdentity hits the cheapest authenticated endpoint the platform
// exposes so an expired or revoked token fails at construction instead
// of on the first real fetch.
func (c *Client) probeIdentity(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "probeIdentity")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetQueryParam("userId", c.UserId).
		Get("/responses")
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch")
		return err
	}
	if err := statusError(res); err != nil {
		return fmt.Errorf("identity probe: %w", err)
	}
	return nil
}
