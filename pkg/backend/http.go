package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/trproxy/trproxy/pkg/models"
	"go.uber.org/zap"
)

// HTTPConfig configures the HTTP executor.
type HTTPConfig struct {
	URL          string        `yaml:"url"`
	ChannelID    string        `yaml:"channel_id"`
	Timeout      time.Duration `yaml:"timeout"`
	RetryMax     int           `yaml:"retry_max"`
	RetryWaitMin time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax time.Duration `yaml:"retry_wait_max"`
}

// requestHeader carries the protocol header of a backend call.
type requestHeader struct {
	ChannelID string `json:"channelId"`
	ContFlag  string `json:"contFlag"`
	ContKey   string `json:"contKey,omitempty"`
}

type request struct {
	Header requestHeader `json:"header"`
	Body   models.Record `json:"body"`
}

// HTTPExecutor posts transactions to a JSON gateway in front of the backend.
// Connection errors and 5xx responses are retried by the client.
type HTTPExecutor struct {
	baseURL   string
	channelID string
	client    *retryablehttp.Client
	log       *zap.Logger
}

// leveledZap adapts zap to the retryablehttp leveled logger. Intermediate
// errors are logged as warnings since the request will be retried.
type leveledZap struct {
	inner *zap.SugaredLogger
}

func (l leveledZap) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l leveledZap) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warnw(msg, keysAndValues...)
}

func (l leveledZap) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Infow(msg, keysAndValues...)
}

func (l leveledZap) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Debugw(msg, keysAndValues...)
}

// NewHTTPExecutor creates an HTTPExecutor from cfg.
func NewHTTPExecutor(cfg HTTPConfig, log *zap.Logger) *HTTPExecutor {
	if log == nil {
		log = zap.NewNop()
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.Logger = retryablehttp.LeveledLogger(leveledZap{log.Sugar()})
	if cfg.Timeout > 0 {
		client.HTTPClient.Timeout = cfg.Timeout
	}

	return &HTTPExecutor{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		channelID: cfg.ChannelID,
		client:    client,
		log:       log,
	}
}

// Execute implements Executor.
func (e *HTTPExecutor) Execute(ctx context.Context, code string, body models.Record, contKey string) (models.Record, error) {
	payload := request{
		Header: requestHeader{ChannelID: e.channelID, ContFlag: "N"},
		Body:   body,
	}
	if contKey != "" {
		payload.Header.ContFlag = "Y"
		payload.Header.ContKey = contKey
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrBackendFailure, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/"+code, data)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrBackendFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBackendFailure, code, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrBackendFailure, err)
	}
	e.log.Debug("backend call",
		zap.String("code", code),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrBackendFailure, code, resp.StatusCode, truncate(respBody, 256))
	}

	return decodeRecord(respBody)
}

// decodeRecord decodes a JSON object keeping numbers as json.Number.
func decodeRecord(data []byte) (models.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec models.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrBackendFailure, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: empty response record", ErrBackendFailure)
	}
	return rec, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
