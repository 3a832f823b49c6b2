package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultTwilioVerifyURL = "https://verify.twilio.com"

// TwilioVerify talks to the Twilio Verify v2 REST API.
type TwilioVerify struct {
	baseURL    string
	accountSID string
	authToken  string
	serviceSID string
	http       *http.Client
}

type TwilioConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	ServiceSID string
}

func NewTwilioVerify(cfg TwilioConfig) (*TwilioVerify, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.ServiceSID == "" {
		return nil, fmt.Errorf("twilio verify requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_VERIFY_SERVICE_ID")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioVerifyURL
	}
	return &TwilioVerify{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		serviceSID: cfg.ServiceSID,
		http:       &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (t *TwilioVerify) Name() string { return "twilio" }

type twilioVerification struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *TwilioVerify) Send(ctx context.Context, phone string) (string, error) {
	var out twilioVerification
	status, err := t.post(ctx, "Verifications", url.Values{"To": {phone}, "Channel": {"sms"}}, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrProviderRejected, status)
	}
	return out.SID, nil
}

// Check returns false without error when Twilio no longer knows the
// verification (expired, already approved or never sent).
func (t *TwilioVerify) Check(ctx context.Context, phone, code string) (bool, error) {
	var out twilioVerification
	status, err := t.post(ctx, "VerificationCheck", url.Values{"To": {phone}, "Code": {code}}, &out)
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusNotFound:
		return false, nil
	case status == http.StatusTooManyRequests:
		return false, ErrTooManyAttempts
	case status >= 300:
		return false, fmt.Errorf("%w: status %d", ErrProviderRejected, status)
	}
	return out.Status == "approved", nil
}

func (t *TwilioVerify) post(ctx context.Context, resource string, form url.Values, out any) (int, error) {
	endpoint := fmt.Sprintf("%s/v2/Services/%s/%s", t.baseURL, url.PathEscape(t.serviceSID), resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, err
	}
	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 300 {
		var te twilioError
		if json.Unmarshal(body, &te) == nil && te.Code == 60202 {
			return http.StatusTooManyRequests, nil
		}
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode twilio response: %w", err)
	}
	return resp.StatusCode, nil
}
