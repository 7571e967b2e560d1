package dingtalk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	apiBaseURL  = "https://api.dingtalk.com"
	oapiBaseURL = "https://oapi.dingtalk.com"

	tokenHeader = "x-acs-dingtalk-access-token"

	restTimeout = 30 * time.Second
)

// restClient wraps resty with the platform conventions: bearer token
// header, JSON bodies, and the code/message and errcode/errmsg failure
// envelopes that can arrive with a 200 status.
type restClient struct {
	http *resty.Client
}

func newRESTClient() *restClient {
	return &restClient{
		http: resty.New().
			SetBaseURL(apiBaseURL).
			SetTimeout(restTimeout),
	}
}

// apiEnvelope matches the conventional failure fields of both API surfaces.
type apiEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Success *bool  `json:"success"`
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// call issues an authenticated JSON request. Absolute URLs (session
// webhooks) bypass the base URL. out, when non-nil, receives the decoded
// 2xx body.
func (c *restClient) call(ctx context.Context, method, url, token string, body, out any) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		req.SetHeader(tokenHeader, token)
	}
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		return fmt.Errorf("dingtalk request %s %s failed: %w", method, url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("dingtalk request %s %s failed: status %d: %s", method, url, resp.StatusCode(), resp.String())
	}
	if err := checkEnvelope(resp.Body()); err != nil {
		return fmt.Errorf("dingtalk request %s %s failed: %w", method, url, err)
	}
	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("dingtalk request %s %s failed: decode response: %w", method, url, err)
		}
	}
	return nil
}

// checkEnvelope rejects 2xx responses that carry a conventional failure.
func checkEnvelope(body []byte) error {
	if len(body) == 0 {
		return nil
	}
	var env apiEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		// Non-JSON bodies (file downloads) are the caller's problem.
		return nil
	}
	if env.Success != nil && !*env.Success {
		return fmt.Errorf("%s (code: %s)", nonEmpty(env.Message, "request rejected"), env.Code)
	}
	if env.Code != "" && env.Code != "0" {
		return fmt.Errorf("%s (code: %s)", nonEmpty(env.Message, "request rejected"), env.Code)
	}
	if env.ErrCode != nil && *env.ErrCode != 0 {
		return fmt.Errorf("%s (errcode: %d)", nonEmpty(env.ErrMsg, "request rejected"), *env.ErrCode)
	}
	return nil
}

func nonEmpty(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
