package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/overseer/internal/constants"
	"github.com/overseer/internal/domain"
	"github.com/overseer/internal/validation"
)

const apiBaseURL = "https://api.cloudflare.com/client/v4"

// TokenSource resolves the API token at call time so a rotated secret takes
// effect without a restart.
type TokenSource func() (string, error)

// StaticToken returns a TokenSource that always yields the given token
func StaticToken(token string) TokenSource {
	return func() (string, error) {
		if token == "" {
			return "", domain.WrapValidation("cloudflare api token is not configured", nil)
		}
		return token, nil
	}
}

// Zone represents one Cloudflare zone
type Zone struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// DNSRecord represents one DNS record in a zone
type DNSRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
	TTL     int    `json:"ttl"`
}

// APIError is one error entry in a Cloudflare API envelope
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Errors  []APIError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type createRecordRequest struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
	TTL     int    `json:"ttl"`
}

// Client talks to the Cloudflare v4 API for zone and DNS record operations
type Client struct {
	http       HTTPClient
	tokens     TokenSource
	logger     *slog.Logger
	maxRetries int
	// sleep is replaceable so tests do not wait out Retry-After delays
	sleep func(time.Duration)
}

// NewClient creates a Cloudflare API client
func NewClient(httpClient HTTPClient, tokens TokenSource, logger *slog.Logger) *Client {
	return &Client{
		http:       httpClient,
		tokens:     tokens,
		logger:     logger,
		maxRetries: constants.CloudflareMaxRetries,
		sleep:      time.Sleep,
	}
}

// ListZones returns all zones visible to the API token
func (c *Client) ListZones(ctx context.Context) ([]Zone, error) {
	result, err := c.doRequest(ctx, http.MethodGet, apiBaseURL+"/zones", nil)
	if err != nil {
		return nil, err
	}

	var zones []Zone
	if err := json.Unmarshal(result, &zones); err != nil {
		return nil, domain.WrapInternal("decode zone list", err)
	}
	return zones, nil
}

// CreateCNAME creates a proxied CNAME record with automatic TTL
func (c *Client) CreateCNAME(ctx context.Context, zoneID, name, content string) (*DNSRecord, error) {
	return c.createRecord(ctx, zoneID, createRecordRequest{
		Type:    "CNAME",
		Name:    name,
		Content: content,
		Proxied: true,
		TTL:     1, // 1 means automatic
	})
}

// CreateARecord creates an A record pointing at an IPv4 address
func (c *Client) CreateARecord(ctx context.Context, zoneID, name, ip string, proxied bool) (*DNSRecord, error) {
	if err := validation.ValidateIPv4(ip); err != nil {
		return nil, domain.WrapValidation(err.Error(), nil)
	}
	return c.createRecord(ctx, zoneID, createRecordRequest{
		Type:    "A",
		Name:    name,
		Content: ip,
		Proxied: proxied,
		TTL:     1,
	})
}

func (c *Client) createRecord(ctx context.Context, zoneID string, reqBody createRecordRequest) (*DNSRecord, error) {
	url := fmt.Sprintf("%s/zones/%s/dns_records", apiBaseURL, zoneID)

	result, err := c.doRequest(ctx, http.MethodPost, url, reqBody)
	if err != nil {
		return nil, err
	}

	var record DNSRecord
	if err := json.Unmarshal(result, &record); err != nil {
		return nil, domain.WrapInternal("decode dns record", err)
	}

	c.logger.Info("dns record created",
		"type", record.Type, "name", record.Name, "record_id", record.ID)
	return &record, nil
}

// DeleteRecord removes a DNS record from a zone
func (c *Client) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	url := fmt.Sprintf("%s/zones/%s/dns_records/%s", apiBaseURL, zoneID, recordID)

	if _, err := c.doRequest(ctx, http.MethodDelete, url, nil); err != nil {
		return err
	}

	c.logger.Info("dns record deleted", "zone_id", zoneID, "record_id", recordID)
	return nil
}

// ListRecords returns all DNS records in a zone
func (c *Client) ListRecords(ctx context.Context, zoneID string) ([]DNSRecord, error) {
	url := fmt.Sprintf("%s/zones/%s/dns_records", apiBaseURL, zoneID)

	result, err := c.doRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var records []DNSRecord
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, domain.WrapInternal("decode dns record list", err)
	}
	return records, nil
}

// doRequest executes one API call with bearer auth, a per-call deadline and
// bounded retries on 429 responses.
func (c *Client) doRequest(ctx context.Context, method, url string, reqBody interface{}) (json.RawMessage, error) {
	token, err := c.tokens()
	if err != nil {
		return nil, err
	}

	var payload []byte
	if reqBody != nil {
		payload, err = json.Marshal(reqBody)
		if err != nil {
			return nil, domain.WrapInternal("marshal request", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, constants.CloudflareRequestTimeout)
	defer cancel()

	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, domain.WrapInternal("build request", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, domain.NewDomainError(domain.ErrUpstreamTimeout.Code,
					fmt.Sprintf("cloudflare api call timed out: %s %s", method, url), err)
			}
			return nil, domain.WrapConnectivity(
				fmt.Sprintf("cloudflare api unreachable: %s %s", method, url), "", err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, domain.WrapInternal("read response", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if attempt >= c.maxRetries {
				return nil, domain.NewDomainError(domain.ErrRateLimited.Code,
					fmt.Sprintf("cloudflare rate limit persisted after %d retries", c.maxRetries), nil)
			}
			delay := retryAfter(resp) + time.Duration(rand.Intn(250))*time.Millisecond
			c.logger.Warn("cloudflare rate limited, backing off",
				"url", url, "attempt", attempt+1, "delay", delay)
			c.sleep(delay)
			continue
		}

		if resp.StatusCode == http.StatusNotFound {
			return nil, domain.WrapNotFound("dns record", nil)
		}

		var envelope apiEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, domain.WrapInternal(
				fmt.Sprintf("decode cloudflare response (status %d)", resp.StatusCode), err)
		}
		if !envelope.Success {
			return nil, domain.WrapInternal(
				fmt.Sprintf("cloudflare api error: %s", formatAPIErrors(envelope.Errors)), nil)
		}

		return envelope.Result, nil
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return time.Second
}

func formatAPIErrors(apiErrors []APIError) string {
	if len(apiErrors) == 0 {
		return "unknown error"
	}
	msg := fmt.Sprintf("%d: %s", apiErrors[0].Code, apiErrors[0].Message)
	if len(apiErrors) > 1 {
		msg += fmt.Sprintf(" (and %d more)", len(apiErrors)-1)
	}
	return msg
}
