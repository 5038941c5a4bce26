package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/crm-sync-engine/pkg/utils"
)

// Client is the CRM API surface the sync engine consumes. The vendor's
// authentication and token refresh lifecycle stays inside the implementation;
// callers only see domain operations.
type Client interface {
	Authenticate(ctx context.Context) error
	ListObjects(ctx context.Context) ([]ObjectDescriptor, error)
	DescribeObject(ctx context.Context, objectAPIName string) ([]FieldDescriptor, error)
	QueryRecords(ctx context.Context, objectAPIName string, opts QueryOptions) ([]Record, int, error)
	GetRecord(ctx context.Context, objectAPIName, recordID string) (Record, error)
	CreateRecord(ctx context.Context, objectAPIName string, data map[string]interface{}) (string, error)
	UpdateRecord(ctx context.Context, objectAPIName, recordID string, data map[string]interface{}) error
}

// ClientConfig holds CRM connection configuration
type ClientConfig struct {
	BaseURL        string        `json:"base_url"`
	AppID          string        `json:"app_id"`
	AppSecret      string        `json:"app_secret"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// HTTPClient implements Client against the vendor's REST API
type HTTPClient struct {
	config     *ClientConfig
	httpClient *http.Client
	logger     *logrus.Logger

	mu          sync.Mutex
	accessToken string
	corpID      string
	tokenExpiry time.Time
}

// NewHTTPClient creates a CRM API client
func NewHTTPClient(config *ClientConfig) *HTTPClient {
	timeout := config.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		config: config,
		logger: utils.GetLogger(),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Authenticate obtains a corporate access token and corporate id
func (c *HTTPClient) Authenticate(ctx context.Context) error {
	body := map[string]string{
		"app_id":     c.config.AppID,
		"app_secret": c.config.AppSecret,
	}

	var auth authResponse
	if err := c.call(ctx, http.MethodPost, "/auth/token", body, &auth, false); err != nil {
		return err
	}

	c.mu.Lock()
	c.accessToken = auth.AccessToken
	c.corpID = auth.CorpID
	c.tokenExpiry = time.Now().Add(time.Duration(auth.ExpiresIn) * time.Second)
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"corp_id":    auth.CorpID,
		"expires_in": auth.ExpiresIn,
	}).Info("CRM authentication successful")
	return nil
}

// ListObjects fetches the current object catalogue
func (c *HTTPClient) ListObjects(ctx context.Context) ([]ObjectDescriptor, error) {
	var resp objectListResponse
	if err := c.call(ctx, http.MethodGet, "/objects", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Objects, nil
}

// DescribeObject fetches the field catalogue for one object
func (c *HTTPClient) DescribeObject(ctx context.Context, objectAPIName string) ([]FieldDescriptor, error) {
	path := fmt.Sprintf("/objects/%s/describe", objectAPIName)
	var resp describeResponse
	if err := c.call(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Fields, nil
}

// QueryRecords pages through records of one object
func (c *HTTPClient) QueryRecords(ctx context.Context, objectAPIName string, opts QueryOptions) ([]Record, int, error) {
	path := fmt.Sprintf("/objects/%s/records/query", objectAPIName)
	var resp queryResponse
	if err := c.call(ctx, http.MethodPost, path, opts, &resp, true); err != nil {
		return nil, 0, err
	}
	return resp.Records, resp.Total, nil
}

// GetRecord fetches a single record by id. A vendor not-found response
// returns (nil, nil): the record may have been hard-deleted upstream and that
// is not an error for callers.
func (c *HTTPClient) GetRecord(ctx context.Context, objectAPIName, recordID string) (Record, error) {
	path := fmt.Sprintf("/objects/%s/records/%s", objectAPIName, recordID)
	var resp recordResponse
	err := c.call(ctx, http.MethodGet, path, nil, &resp, true)
	if err != nil {
		if utils.ErrorCode(err) == utils.ErrCodeRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return resp.Record, nil
}

// CreateRecord creates a record upstream and returns the vendor id
func (c *HTTPClient) CreateRecord(ctx context.Context, objectAPIName string, data map[string]interface{}) (string, error) {
	path := fmt.Sprintf("/objects/%s/records", objectAPIName)
	var resp createResponse
	if err := c.call(ctx, http.MethodPost, path, map[string]interface{}{"data": data}, &resp, true); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// UpdateRecord updates a record upstream
func (c *HTTPClient) UpdateRecord(ctx context.Context, objectAPIName, recordID string, data map[string]interface{}) error {
	path := fmt.Sprintf("/objects/%s/records/%s", objectAPIName, recordID)
	return c.call(ctx, http.MethodPut, path, map[string]interface{}{"data": data}, nil, true)
}

// call performs one API round trip, unwrapping the vendor envelope. When
// authed is true, an expired or missing token triggers a refresh first and a
// single retry on a token-expired error code.
func (c *HTTPClient) call(ctx context.Context, method, path string, body, out interface{}, authed bool) error {
	if authed {
		if err := c.ensureToken(ctx); err != nil {
			return err
		}
	}

	err := c.doCall(ctx, method, path, body, out, authed)
	if err != nil && authed && utils.ErrorCode(err) == utils.ErrCodeCRM {
		// Retry once on token expiry
		var appErr *utils.AppError
		if e, ok := err.(*utils.AppError); ok {
			appErr = e
		}
		if appErr != nil && appErr.Details == fmt.Sprintf("errcode=%d", ErrCodeTokenExpired) {
			if err := c.Authenticate(ctx); err != nil {
				return err
			}
			return c.doCall(ctx, method, path, body, out, authed)
		}
	}
	return err
}

func (c *HTTPClient) doCall(ctx context.Context, method, path string, body, out interface{}, authed bool) error {
	start := time.Now()

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal CRM request", err.Error())
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to create CRM request", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if authed {
		c.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		req.Header.Set("X-Corp-ID", c.corpID)
		c.mu.Unlock()
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeConnection, "CRM request failed", err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeExternal, "Failed to read CRM response", err.Error())
	}

	if resp.StatusCode == http.StatusNotFound {
		return utils.NewAppError(utils.ErrCodeRecordNotFound, "CRM resource not found", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewAppError(utils.ErrCodeExternal,
			"CRM returned non-success status",
			fmt.Sprintf("status: %d, body: %s", resp.StatusCode, truncate(respBody, 512)))
	}

	var envelope Envelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return utils.NewAppError(utils.ErrCodeExternal, "Failed to decode CRM envelope", err.Error())
	}

	if envelope.ErrCode != ErrCodeOK {
		c.logger.WithFields(logrus.Fields{
			"path":     path,
			"errcode":  envelope.ErrCode,
			"errmsg":   envelope.ErrMsg,
			"duration": time.Since(start),
		}).Warn("CRM call returned error code")
		if envelope.ErrCode == ErrCodeRecordNotFound {
			return utils.NewAppError(utils.ErrCodeRecordNotFound, envelope.ErrMsg, path)
		}
		return utils.NewAppError(utils.ErrCodeCRM, envelope.ErrMsg, fmt.Sprintf("errcode=%d", envelope.ErrCode))
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return utils.NewAppError(utils.ErrCodeExternal, "Failed to decode CRM payload", err.Error())
		}
	}

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"duration": time.Since(start),
	}).Debug("CRM call completed")
	return nil
}

// ensureToken refreshes the access token when missing or near expiry
func (c *HTTPClient) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	valid := c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-30*time.Second))
	c.mu.Unlock()

	if valid {
		return nil
	}
	return c.Authenticate(ctx)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
