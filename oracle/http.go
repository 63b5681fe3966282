package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/thalesfsp/latentbo"
	"github.com/thalesfsp/latentbo/execution"
)

//////
// Const, vars, types.
//////

// EnvPrefix prefixes every HTTP oracle environment variable.
const EnvPrefix = "LATENTBO_ORACLE_"

// HTTPSettings configures HTTP oracles. Values come from the environment
// (see LoadHTTPSettings); the zero value is not usable, start from
// DefaultHTTPSettings.
type HTTPSettings struct {
	// Timeout bounds one request, retries excluded.
	Timeout time.Duration `env:"TIMEOUT" envDefault:"60s"`

	// Retries is the number of extra attempts after a transport error or a
	// 5xx response.
	Retries int `env:"RETRIES" envDefault:"2"`

	// MaxConns bounds open connections per endpoint.
	MaxConns int `env:"MAX_CONNS" envDefault:"16"`

	// Token, when set, is sent as a bearer token.
	Token string `env:"TOKEN"`

	// Batch makes the oracle send whole batches to the endpoint.
	Batch bool `env:"BATCH" envDefault:"false"`
}

// HTTP scores sequences with a model served over HTTP.
//
// Protocol:
//
//	POST <url> {"sequence": "MKT..."}          -> {"score": 71.3}
//	POST <url> {"sequences": ["MKT...", ...]}  -> {"scores": [71.3, ...], "errors": ["", ...]}
//
// The batch form is only used when HTTPSettings.Batch is set. Any non-2xx
// response is a failed scoring.
type HTTP struct {
	id       string
	url      string
	settings HTTPSettings
	client   *fasthttp.Client
	log      *logrus.Entry
}

// HTTPBatch is an HTTP oracle that also implements latentbo.BatchOracle.
type HTTPBatch struct {
	*HTTP
}

type scoreRequest struct {
	Sequence  string   `json:"sequence,omitempty"`
	Sequences []string `json:"sequences,omitempty"`
}

type scoreResponse struct {
	Score  *float64  `json:"score"`
	Scores []float64 `json:"scores"`
	Errors []string  `json:"errors"`
}

// errStatus marks a non-2xx response.
var errStatus = errors.New("unexpected status")

//////
// Exported functionalities.
//////

// DefaultHTTPSettings returns the settings used when no environment
// variable is set.
func DefaultHTTPSettings() HTTPSettings {
	return HTTPSettings{
		Timeout:  60 * time.Second,
		Retries:  2,
		MaxConns: 16,
	}
}

// LoadHTTPSettings reads LATENTBO_ORACLE_* variables, after loading the
// given .env files. Missing .env files are skipped.
//
// Example .env:
//
//	LATENTBO_ORACLE_TIMEOUT=2m
//	LATENTBO_ORACLE_TOKEN=secret
//	LATENTBO_ORACLE_BATCH=true
func LoadHTTPSettings(files ...string) (HTTPSettings, error) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}

		if err := godotenv.Load(f); err != nil {
			return HTTPSettings{}, fmt.Errorf("%w: loading %s: %v", latentbo.ErrInvalidConfig, f, err)
		}
	}

	var s HTTPSettings
	if err := env.ParseWithOptions(&s, env.Options{Prefix: EnvPrefix}); err != nil {
		return HTTPSettings{}, fmt.Errorf("%w: %v", latentbo.ErrInvalidConfig, err)
	}

	return s, nil
}

// NewHTTP creates an HTTP oracle for id served at url. When settings.Batch
// is set the result also implements latentbo.BatchOracle.
func NewHTTP(ec *execution.Context, id, url string, settings HTTPSettings) (latentbo.Oracle, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty endpoint for oracle %q", latentbo.ErrInvalidConfig, id)
	}

	if settings.Timeout <= 0 || settings.Retries < 0 || settings.MaxConns <= 0 {
		return nil, fmt.Errorf("%w: invalid HTTP oracle settings %+v", latentbo.ErrInvalidConfig, settings)
	}

	h := &HTTP{
		id:       id,
		url:      url,
		settings: settings,
		client: &fasthttp.Client{
			Name:            "latentbo",
			MaxConnsPerHost: settings.MaxConns,
			ReadTimeout:     settings.Timeout,
			WriteTimeout:    settings.Timeout,
		},
		log: ec.Logger.WithFields(logrus.Fields{
			"oracle":   id,
			"endpoint": url,
			"device":   ec.Device,
		}),
	}

	if settings.Batch {
		return HTTPBatch{h}, nil
	}

	return h, nil
}

//////
// Methods.
//////

// Score implements latentbo.Oracle.
func (h *HTTP) Score(ctx context.Context, seq string) (float64, error) {
	var resp scoreResponse
	if err := h.post(ctx, scoreRequest{Sequence: seq}, &resp); err != nil {
		return 0, err
	}

	if resp.Score == nil {
		return 0, fmt.Errorf("%s: response has no score", h.id)
	}

	return *resp.Score, nil
}

// ScoreBatch implements latentbo.BatchOracle.
func (h HTTPBatch) ScoreBatch(ctx context.Context, seqs []string) ([]float64, []error) {
	errs := make([]error, len(seqs))

	var resp scoreResponse
	if err := h.post(ctx, scoreRequest{Sequences: seqs}, &resp); err != nil {
		for i := range errs {
			errs[i] = err
		}

		return make([]float64, len(seqs)), errs
	}

	if len(resp.Scores) != len(seqs) {
		err := fmt.Errorf("%s: %d scores for %d sequences", h.id, len(resp.Scores), len(seqs))
		for i := range errs {
			errs[i] = err
		}

		return make([]float64, len(seqs)), errs
	}

	for i := range seqs {
		if i < len(resp.Errors) && resp.Errors[i] != "" {
			errs[i] = fmt.Errorf("%s: %s", h.id, resp.Errors[i])
		}
	}

	return resp.Scores, errs
}

// post sends body and decodes the JSON reply into out, retrying transport
// errors and 5xx responses.
func (h *HTTP) post(ctx context.Context, body scoreRequest, out *scoreResponse) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error

	for attempt := 0; attempt <= h.settings.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		retry, err := h.do(ctx, payload, out)
		if err == nil {
			return nil
		}

		lastErr = err

		if !retry {
			break
		}

		h.log.WithError(err).WithField("attempt", attempt+1).Debug("Oracle request failed")
	}

	return lastErr
}

func (h *HTTP) do(ctx context.Context, payload []byte, out *scoreResponse) (retry bool, err error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()

	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(h.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(payload)

	if h.settings.Token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+h.settings.Token)
	}

	deadline := time.Now().Add(h.settings.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := h.client.DoDeadline(req, resp, deadline); err != nil {
		return true, fmt.Errorf("%s: %w", h.id, err)
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return status >= 500, fmt.Errorf("%w %d from %s: %s", errStatus, status, h.id, truncate(resp.Body(), 200))
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return false, fmt.Errorf("%s: decoding response: %w", h.id, err)
	}

	return false, nil
}

//////
// Helpers.
//////

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}

	return string(b[:n]) + "..."
}
