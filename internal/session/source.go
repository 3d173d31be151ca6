package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os/exec"
	"strings"
	"time"
)

const (
	sessionCookie = "EURES_JVSE_SESSIONID"
	xsrfCookie    = "XSRF-TOKEN"
)

// Credentials is what a Source hands back: the Cookie header value and the
// anti-forgery token sent as X-XSRF-TOKEN.
type Credentials struct {
	Cookie string `json:"cookie"`
	Token  string `json:"token"`
}

// Source obtains a fresh cookie/token pair.
type Source interface {
	Acquire(ctx context.Context) (Credentials, error)
}

// StaticSource returns a fixed pair, typically copied from a browser.
// Refreshing it yields the same pair, so a rejected static session ends the
// run with ErrAuthExhausted.
type StaticSource struct {
	Cookie string
	Token  string
}

func (s StaticSource) Acquire(context.Context) (Credentials, error) {
	if s.Cookie == "" || s.Token == "" {
		return Credentials{}, errors.New("static session: cookie and token must both be set")
	}
	return Credentials{Cookie: s.Cookie, Token: s.Token}, nil
}

// CommandSource runs an external helper (for example a browser automation
// script) that prints {"cookie": "...", "token": "..."} on stdout.
type CommandSource struct {
	Args    []string
	Timeout time.Duration
}

func (s CommandSource) Acquire(ctx context.Context) (Credentials, error) {
	if len(s.Args) == 0 {
		return Credentials{}, errors.New("command session: no command configured")
	}
	timeout := s.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Args[0], s.Args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return Credentials{}, fmt.Errorf("command session: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	var creds Credentials
	if err := json.Unmarshal(stdout.Bytes(), &creds); err != nil {
		return Credentials{}, fmt.Errorf("command session: decode output: %w", err)
	}
	return creds, nil
}

// BootstrapSource loads the public search page and harvests the session and
// XSRF cookies the portal sets on it.
type BootstrapSource struct {
	URL    string
	Client *http.Client
}

func (s BootstrapSource) Acquire(ctx context.Context) (Credentials, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return Credentials{}, fmt.Errorf("bootstrap session: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return Credentials{}, err
	}
	client := &http.Client{Timeout: 30 * time.Second, Jar: jar}
	if s.Client != nil {
		client.Transport = s.Client.Transport
		if s.Client.Timeout > 0 {
			client.Timeout = s.Client.Timeout
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Credentials{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	resp, err := client.Do(req)
	if err != nil {
		return Credentials{}, fmt.Errorf("bootstrap session: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Credentials{}, fmt.Errorf("bootstrap session: status %d", resp.StatusCode)
	}

	var sessionID, token string
	for _, c := range jar.Cookies(u) {
		switch c.Name {
		case sessionCookie:
			sessionID = c.Value
		case xsrfCookie:
			token = c.Value
		}
	}
	if sessionID == "" || token == "" {
		return Credentials{}, errors.New("bootstrap session: required cookies not found")
	}
	return Credentials{Cookie: CookieHeader(sessionID, token), Token: token}, nil
}

// CookieHeader builds the Cookie header the listing API expects.
func CookieHeader(sessionID, token string) string {
	return sessionCookie + "=" + sessionID + "; " + xsrfCookie + "=" + token
}
