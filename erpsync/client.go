package erpsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// pageLimit is the upstream cap on page size.
const pageLimit = 200

type erpClient struct {
	baseURL    string
	authUser   string
	authSecret string
	http       *http.Client
	limiter    <-chan time.Time
	maxRetries int
}

func newErpClient(baseURL, authUser, authSecret string) (*erpClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = strings.TrimSpace(os.Getenv("ERP_API_BASE_URL"))
	}
	if baseURL == "" {
		return nil, errors.New("erp base url is empty")
	}
	if strings.TrimSpace(authUser) == "" || strings.TrimSpace(authSecret) == "" {
		return nil, errors.New("erp credentials are empty")
	}

	rateLimitPerMin := int64(60)
	if v := strings.TrimSpace(os.Getenv("ERP_RATE_LIMIT_PER_MIN")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			rateLimitPerMin = n
		}
	}
	interval := time.Minute / time.Duration(rateLimitPerMin)

	return &erpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authUser:   authUser,
		authSecret: authSecret,
		http:       &http.Client{Timeout: 30 * time.Second},
		limiter:    time.Tick(interval),
		maxRetries: intFromEnv("ERP_MAX_RETRIES", 4),
	}, nil
}

type erpListResponse struct {
	Results           []json.RawMessage `json:"results"`
	ResultSetMetadata struct {
		Count  int `json:"count"`
		Offset int `json:"offset"`
		Limit  int `json:"limit"`
	} `json:"resultSetMetadata"`
}

// getList performs one paginated GET. Every outbound call goes through the
// same backoff-on-429 path; the upstream throttles all endpoints alike.
func (c *erpClient) getList(ctx context.Context, path string, params url.Values) (erpListResponse, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint = endpoint + "?" + params.Encode()
	}

	var attempt int
	for {
		<-c.limiter
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return erpListResponse{}, err
		}
		req.SetBasicAuth(c.authUser, c.authSecret)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return erpListResponse{}, err
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			attempt++
			if attempt > c.maxRetries {
				return erpListResponse{}, fmt.Errorf("erp api error %d after %d retries: %s",
					resp.StatusCode, c.maxRetries, strings.TrimSpace(string(body)))
			}
			sleep := time.Second * time.Duration(1<<min(attempt, 5))
			if sleep > 30*time.Second {
				sleep = 30 * time.Second
			}
			select {
			case <-ctx.Done():
				return erpListResponse{}, ctx.Err()
			case <-time.After(sleep):
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return erpListResponse{}, fmt.Errorf("erp api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		var parsed erpListResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return erpListResponse{}, err
		}
		return parsed, nil
	}
}

// forEachPage walks a list endpoint with limit/offset pagination until the
// reported total is reached or a page comes back short.
func (c *erpClient) forEachPage(ctx context.Context, path string, params url.Values, fn func([]json.RawMessage) error) error {
	offset := 0
	for {
		page := url.Values{}
		for k, vs := range params {
			page[k] = vs
		}
		page.Set("limit", strconv.Itoa(pageLimit))
		page.Set("offset", strconv.Itoa(offset))

		resp, err := c.getList(ctx, path, page)
		if err != nil {
			return err
		}
		if len(resp.Results) == 0 {
			return nil
		}
		if err := fn(resp.Results); err != nil {
			return err
		}

		offset += len(resp.Results)
		if len(resp.Results) < pageLimit {
			return nil
		}
		if resp.ResultSetMetadata.Count > 0 && offset >= resp.ResultSetMetadata.Count {
			return nil
		}
	}
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
