package gating

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-redis/redis_rate/v9"
	"go.uber.org/ratelimit"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

var (
	ErrNotConfigured = errors.New("backend url not configured")
	ErrNoScore       = errors.New("backend returned no score")
	ErrThrottled     = errors.New("backend lookups throttled for account")
)

// Status is the backend view of a visitor, keyed by wallet address.
type Status struct {
	Status    bool        `json:"status"`
	Score     json.Number `json:"score,omitempty"`
	Signature string      `json:"signature,omitempty"`
}

// Score is a signed score ready to be submitted on chain.
type Score struct {
	Value     *big.Int
	Signature []byte
}

type Options struct {
	SessionURL      string
	UpdateStatusURL string
	ScoreURL        string
	Timeout         time.Duration
	RatePerSecond   int
	// PerAccountPerMinute caps lookups per wallet when a redis limiter is supplied.
	PerAccountPerMinute int
}

// Client talks to the backend that decides whether a wallet unlocked gated content.
type Client struct {
	opts       Options
	httpClient *http.Client
	pacer      ratelimit.Limiter
	quota      *redis_rate.Limiter
}

const defaultTimeout = time.Second * 10

func NewClient(opts Options, quota *redis_rate.Limiter) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	pacer := ratelimit.NewUnlimited()
	if opts.RatePerSecond > 0 {
		pacer = ratelimit.New(opts.RatePerSecond)
	}
	return &Client{
		opts:       opts,
		httpClient: &http.Client{Timeout: opts.Timeout},
		pacer:      pacer,
		quota:      quota,
	}
}

// Lookup fetches GET {session}/{account}.
func (c *Client) Lookup(ctx context.Context, account common.Address) (*Status, error) {
	if c.opts.SessionURL == "" {
		return nil, ErrNotConfigured
	}
	if err := c.allow(ctx, account); err != nil {
		return nil, err
	}
	var out Status
	if err := c.request(ctx, joinURL(c.opts.SessionURL, account.Hex()), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Unlocked reports whether account may see gated content. Any lookup failure
// is logged and treated as locked.
func (c *Client) Unlocked(ctx context.Context, account common.Address) bool {
	status, err := c.Lookup(ctx, account)
	if err != nil {
		if !errors.Is(err, ErrNotConfigured) {
			log.Warnf("gating - lookup %v failed, treating as locked:%v", account.Hex(), err)
		}
		return false
	}
	return status.Status
}

// MarkPurchased notifies the backend that account paid for the gated content.
func (c *Client) MarkPurchased(ctx context.Context, account common.Address) error {
	if c.opts.UpdateStatusURL == "" {
		return ErrNotConfigured
	}
	return c.request(ctx, joinURL(c.opts.UpdateStatusURL, account.Hex()), nil)
}

// Score fetches GET {score}/{account}/score.
func (c *Client) Score(ctx context.Context, account common.Address) (*Score, error) {
	if c.opts.ScoreURL == "" {
		return nil, ErrNotConfigured
	}
	var out Status
	if err := c.request(ctx, joinURL(c.opts.ScoreURL, account.Hex(), "score"), &out); err != nil {
		return nil, err
	}
	if out.Score == "" {
		return nil, ErrNoScore
	}
	value, ok := new(big.Int).SetString(out.Score.String(), 10)
	if !ok || value.Sign() == 0 {
		return nil, errors.Wrapf(ErrNoScore, "score %q", out.Score)
	}
	sig, err := hexutil.Decode(out.Signature)
	if err != nil {
		return nil, errors.Wrap(err, "decode score signature")
	}
	return &Score{Value: value, Signature: sig}, nil
}

func (c *Client) allow(ctx context.Context, account common.Address) error {
	if c.quota == nil || c.opts.PerAccountPerMinute <= 0 {
		return nil
	}
	res, err := c.quota.Allow(ctx, "gating:"+strings.ToLower(account.Hex()), redis_rate.PerMinute(c.opts.PerAccountPerMinute))
	if err != nil {
		// quota store down, do not block the visitor on it
		log.Warnf("gating - quota check:%v", err)
		return nil
	}
	if res.Allowed == 0 {
		return ErrThrottled
	}
	return nil
}

func (c *Client) request(ctx context.Context, url string, out interface{}) error {
	c.pacer.Take()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "create new http request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.WithStack(err)
	}
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("request backend %v: %d %v", url, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return errors.Wrap(err, "decode backend response")
	}
	return nil
}

func joinURL(base string, parts ...string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), strings.Join(parts, "/"))
}
