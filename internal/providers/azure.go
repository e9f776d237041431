package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/avast/retry-go/v4"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/scanline/internal/stages"
)

const (
	AzureReadName       = "azure-read"
	AzureReadAPIVersion = "2024-07-31"
	AzureReadModel      = "prebuilt-read"

	// SubscriptionKeyHeader carries the Document Intelligence API key.
	SubscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

	// Submission retry schedule: 1s, 2s, 4s... capped at 8s.
	DefaultSubmitAttempts = 3
	DefaultSubmitDelay    = time.Second
	DefaultSubmitMaxDelay = 8 * time.Second

	// Poll schedule: 1s, 1.5s, 2s... capped at 4s.
	DefaultPollAttempts = 10
	pollBaseDelay       = time.Second
	pollStepDelay       = 500 * time.Millisecond
	pollMaxDelay        = 4 * time.Second
)

// AzureReadConfig holds configuration for the Azure Document Intelligence Read client.
type AzureReadConfig struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	Model      string

	// Offline short-circuits every call without touching the network.
	Offline bool

	// Timeout bounds each individual HTTP request (default: 15s).
	Timeout time.Duration

	SubmitAttempts uint
	SubmitDelay    time.Duration
	SubmitMaxDelay time.Duration
	PollAttempts   int

	// RequestsPerMinute rate-limits outgoing requests (0 = unlimited).
	RequestsPerMinute int

	// AllowHTTP permits sending the key to a plain-http endpoint (local emulators, tests).
	AllowHTTP bool

	// Transport overrides the HTTP transport.
	Transport policy.Transporter

	// Timer drives backoff and poll waits (default: RealTimer).
	Timer  Timer
	Logger *slog.Logger
}

// AzureReadClient implements DocumentAnalyzer against the Azure Document
// Intelligence analyze API. It holds no per-call state, so concurrent calls
// are independent.
type AzureReadClient struct {
	endpoint   string
	apiVersion string
	model      string
	configured bool
	offline    bool

	submitAttempts uint
	submitDelay    time.Duration
	submitMaxDelay time.Duration
	pollAttempts   int

	pipeline runtime.Pipeline
	limiter  *RateLimiter
	timer    Timer
	logger   *slog.Logger
}

// NewAzureReadClient creates a new Azure Read client.
func NewAzureReadClient(cfg AzureReadConfig) *AzureReadClient {
	if cfg.APIVersion == "" {
		cfg.APIVersion = AzureReadAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = AzureReadModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.SubmitAttempts == 0 {
		cfg.SubmitAttempts = DefaultSubmitAttempts
	}
	if cfg.SubmitDelay == 0 {
		cfg.SubmitDelay = DefaultSubmitDelay
	}
	if cfg.SubmitMaxDelay == 0 {
		cfg.SubmitMaxDelay = DefaultSubmitMaxDelay
	}
	if cfg.PollAttempts == 0 {
		cfg.PollAttempts = DefaultPollAttempts
	}
	if cfg.Timer == nil {
		cfg.Timer = RealTimer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &AzureReadClient{
		endpoint:       strings.TrimRight(cfg.Endpoint, "/"),
		apiVersion:     cfg.APIVersion,
		model:          cfg.Model,
		configured:     cfg.Endpoint != "" && cfg.APIKey != "",
		offline:        cfg.Offline,
		submitAttempts: cfg.SubmitAttempts,
		submitDelay:    cfg.SubmitDelay,
		submitMaxDelay: cfg.SubmitMaxDelay,
		pollAttempts:   cfg.PollAttempts,
		timer:          cfg.Timer,
		logger:         cfg.Logger,
	}
	if cfg.RequestsPerMinute > 0 {
		c.limiter = NewRateLimiter(cfg.RequestsPerMinute)
	}

	keyPolicy := runtime.NewKeyCredentialPolicy(azcore.NewKeyCredential(cfg.APIKey), SubscriptionKeyHeader,
		&runtime.KeyCredentialPolicyOptions{InsecureAllowCredentialWithHTTP: cfg.AllowHTTP})

	c.pipeline = runtime.NewPipeline("scanline/azureread", "v0.1.0",
		runtime.PipelineOptions{PerRetry: []policy.Policy{keyPolicy}},
		&policy.ClientOptions{
			Transport: cfg.Transport,
			// This client owns the retry schedule; the SDK makes one try per call.
			Retry: policy.RetryOptions{MaxRetries: -1, TryTimeout: cfg.Timeout},
		},
	)
	return c
}

// Name returns the provider identifier.
func (c *AzureReadClient) Name() string {
	return AzureReadName
}

// RateLimiter returns the request limiter, or nil when unlimited.
func (c *AzureReadClient) RateLimiter() *RateLimiter {
	return c.limiter
}

// Analyze submits payload for analysis and polls the operation to completion.
func (c *AzureReadClient) Analyze(ctx context.Context, payload []byte, contentType string) (*OCRResult, error) {
	if c.offline {
		return nil, stages.NewError(stages.AzureReadCall, "Offline mode enabled")
	}
	if !c.configured {
		return nil, stages.NewError(stages.AzureReadCall, "Missing Azure Document Intelligence configuration")
	}

	start := time.Now()

	location, attempts, err := c.submit(ctx, payload, contentType)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("azure analyze accepted", "attempts", attempts)

	result, polls, err := c.poll(ctx, location)
	if err != nil {
		return nil, err
	}

	confidence, words := meanWordConfidence(result)
	return &OCRResult{
		Text:       result.Content,
		Confidence: confidence,
		Engine:     EngineRemote,
		Metadata: map[string]any{
			"model":           c.model,
			"pages":           len(result.Pages),
			"words":           words,
			"submit_attempts": attempts,
			"polls":           polls,
		},
		ExecutionTime: time.Since(start),
	}, nil
}

// analyzeURL returns the analyze endpoint for the configured model.
func (c *AzureReadClient) analyzeURL() string {
	q := url.Values{"api-version": {c.apiVersion}}
	return fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?%s", c.endpoint, url.PathEscape(c.model), q.Encode())
}

// submit posts the document, retrying transport errors and non-2xx responses
// on an exponential schedule. It returns the operation locator.
func (c *AzureReadClient) submit(ctx context.Context, payload []byte, contentType string) (string, int, error) {
	attempts := 0
	location, err := retry.DoWithData(
		func() (string, error) {
			attempts++
			return c.submitOnce(ctx, payload, contentType)
		},
		retry.Context(ctx),
		retry.Attempts(c.submitAttempts),
		retry.Delay(c.submitDelay),
		retry.MaxDelay(c.submitMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.WithTimer(c.timer),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("azure analyze attempt failed", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return "", attempts, stages.Errorf(stages.AzureReadCall, "Azure analyze failed after %d attempts: %w", attempts, err)
	}
	if location == "" {
		return "", attempts, stages.NewError(stages.AzureReadCall, "Missing Operation-Location header from Azure response")
	}
	return location, attempts, nil
}

func (c *AzureReadClient) submitOnce(ctx context.Context, payload []byte, contentType string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", retry.Unrecoverable(err)
	}

	req, err := runtime.NewRequest(ctx, http.MethodPost, c.analyzeURL())
	if err != nil {
		return "", retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}
	req.Raw().Header.Set("Accept", "application/json")
	if err := req.SetBody(streaming.NopCloser(bytes.NewReader(payload)), contentType); err != nil {
		return "", retry.Unrecoverable(fmt.Errorf("failed to set request body: %w", err))
	}

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests && c.limiter != nil {
		c.limiter.Record429(retryAfter(resp))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", runtime.NewResponseError(resp)
	}
	return resp.Header.Get("Operation-Location"), nil
}

// poll fetches the operation status until it reaches a terminal state or the
// attempt budget runs out. It returns the analyze result and the number of polls.
func (c *AzureReadClient) poll(ctx context.Context, location string) (*analyzeResult, int, error) {
	pollURL, err := c.withAPIVersion(location)
	if err != nil {
		return nil, 0, stages.Errorf(stages.AzureReadCall, "Invalid Operation-Location %q: %w", location, err)
	}

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		if err := sleep(ctx, c.timer, PollDelay(attempt)); err != nil {
			return nil, attempt, stages.Errorf(stages.AzureReadCall, "Azure OCR polling cancelled: %w", err)
		}

		op, err := c.getOperation(ctx, pollURL)
		if err != nil {
			return nil, attempt + 1, stages.Errorf(stages.AzureReadCall, "Azure OCR poll failed: %w", err)
		}
		c.logger.Debug("azure operation status", "attempt", attempt+1, "status", op.Status)

		switch op.Status {
		case statusSucceeded:
			if op.AnalyzeResult == nil {
				return &analyzeResult{}, attempt + 1, nil
			}
			return op.AnalyzeResult, attempt + 1, nil
		case statusFailed, statusCanceled:
			msg := fmt.Sprintf("Azure OCR %s", op.Status)
			if op.Error != nil && op.Error.Message != "" {
				msg += ": " + op.Error.Message
			}
			return nil, attempt + 1, stages.NewError(stages.AzureReadCall, msg)
		}
	}
	return nil, c.pollAttempts, stages.NewError(stages.AzureReadCall, "Azure OCR timed out while polling")
}

// PollDelay is the wait before poll attempt i (0-based): 1s growing by 0.5s
// per attempt, capped at 4s.
func PollDelay(i int) time.Duration {
	return min(pollBaseDelay+time.Duration(i)*pollStepDelay, pollMaxDelay)
}

func (c *AzureReadClient) getOperation(ctx context.Context, pollURL string) (*operation, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := runtime.NewRequest(ctx, http.MethodGet, pollURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Raw().Header.Set("Accept", "application/json")

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if !runtime.HasStatusCode(resp, http.StatusOK) {
		if resp.StatusCode == http.StatusTooManyRequests && c.limiter != nil {
			c.limiter.Record429(retryAfter(resp))
		}
		return nil, runtime.NewResponseError(resp)
	}

	body, err := runtime.Payload(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return decodeOperation(body)
}

// withAPIVersion sets the api-version query parameter on the operation locator.
func (c *AzureReadClient) withAPIVersion(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("locator is not an absolute URL")
	}
	q := u.Query()
	q.Set("api-version", c.apiVersion)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *AzureReadClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		var secs int
		if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// Operation statuses reported by the analyze API.
const (
	statusNotStarted = "notStarted"
	statusRunning    = "running"
	statusSucceeded  = "succeeded"
	statusFailed     = "failed"
	statusCanceled   = "canceled"
)

// operationSchema describes the subset of the analyze operation payload this
// client relies on.
const operationSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"enum": ["notStarted", "running", "succeeded", "failed", "canceled"]},
    "analyzeResult": {
      "type": "object",
      "properties": {
        "content": {"type": "string"},
        "pages": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {
              "words": {
                "type": "array",
                "items": {
                  "type": "object",
                  "properties": {"confidence": {"type": ["number", "null"]}}
                }
              }
            }
          }
        }
      }
    },
    "error": {"type": "object"}
  }
}`

var operationValidator = jsonschema.MustCompileString("operation.json", operationSchema)

// Azure analyze operation types

type operation struct {
	Status        string          `json:"status"`
	AnalyzeResult *analyzeResult  `json:"analyzeResult,omitempty"`
	Error         *operationError `json:"error,omitempty"`
}

type operationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type analyzeResult struct {
	Content string        `json:"content"`
	Pages   []analyzePage `json:"pages"`
}

type analyzePage struct {
	PageNumber int           `json:"pageNumber"`
	Words      []analyzeWord `json:"words"`
}

type analyzeWord struct {
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence"`
}

// decodeOperation validates body against the operation schema and decodes it.
func decodeOperation(body []byte) (*operation, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if err := operationValidator.Validate(doc); err != nil {
		return nil, fmt.Errorf("unexpected operation payload: %w", err)
	}

	var op operation
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &op, nil
}

// meanWordConfidence averages every word confidence across every page.
// Words without a score are ignored. No scored words yields 0.
func meanWordConfidence(r *analyzeResult) (float64, int) {
	var sum float64
	var n int
	for _, p := range r.Pages {
		for _, w := range p.Words {
			if w.Confidence == nil {
				continue
			}
			sum += *w.Confidence
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// Verify interface
var _ DocumentAnalyzer = (*AzureReadClient)(nil)
