package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxassist/pkg/command"
)

// ClassifyRequest is the JSON body of POST /api/classify.
type ClassifyRequest struct {
	Utterance     string `json:"utterance"`
	AssistantName string `json:"assistantName,omitempty"`
	CreatorName   string `json:"creatorName,omitempty"`
	Locale        string `json:"locale,omitempty"`
}

// Persona returns the persona override carried by the request.
func (r ClassifyRequest) Persona() Persona {
	return Persona{AssistantName: r.AssistantName, CreatorName: r.CreatorName, Locale: r.Locale}
}

// ErrorResponse is the JSON body of a failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RemoteOption configures a [Remote].
type RemoteOption func(*Remote)

// WithHTTPTimeout sets the per-request HTTP timeout. Default: 20s.
func WithHTTPTimeout(d time.Duration) RemoteOption {
	return func(r *Remote) { r.client.Timeout = d }
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) RemoteOption {
	return func(r *Remote) { r.client.Transport = rt }
}

// Remote classifies through a voxassist server's HTTP API.
type Remote struct {
	baseURL *url.URL
	client  *http.Client
	jar     *resettableJar

	mu      sync.RWMutex
	persona Persona
}

var _ PersonaClassifier = (*Remote)(nil)

// NewRemote returns a client for the server at baseURL.
func NewRemote(baseURL string, p Persona, opts ...RemoteOption) (*Remote, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("classifier: parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("classifier: server url %q must be http or https", baseURL)
	}

	jar := &resettableJar{}
	jar.Reset()
	r := &Remote{
		baseURL: u,
		client:  &http.Client{Timeout: 20 * time.Second, Jar: jar},
		jar:     jar,
		persona: p.WithDefaults(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Persona returns the persona sent with every request.
func (r *Remote) Persona() Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.persona
}

// SetPersona replaces the persona sent with every request.
func (r *Remote) SetPersona(p Persona) {
	r.mu.Lock()
	r.persona = p.WithDefaults()
	r.mu.Unlock()
}

// Classify classifies utterance with the client persona.
func (r *Remote) Classify(ctx context.Context, utterance string) (command.Command, error) {
	return r.ClassifyAs(ctx, Persona{}, utterance)
}

// ClassifyAs posts utterance with persona p merged over the client persona.
// Transport failures, non-200 replies and undecodable bodies all return a
// [*command.ClassificationError].
func (r *Remote) ClassifyAs(ctx context.Context, p Persona, utterance string) (command.Command, error) {
	p = r.Persona().Merge(p)
	body, err := json.Marshal(ClassifyRequest{
		Utterance:     utterance,
		AssistantName: p.AssistantName,
		CreatorName:   p.CreatorName,
		Locale:        p.Locale,
	})
	if err != nil {
		return command.Command{}, command.AsClassificationError(utterance, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint("/api/classify"), bytes.NewReader(body))
	if err != nil {
		return command.Command{}, command.AsClassificationError(utterance, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return command.Command{}, command.AsClassificationError(utterance, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return command.Command{}, command.AsClassificationError(utterance,
			fmt.Sprintf("server returned %d", resp.StatusCode), decodeError(resp.Body))
	}

	var cmd command.Command
	if err := json.NewDecoder(resp.Body).Decode(&cmd); err != nil {
		return command.Command{}, command.AsClassificationError(utterance, "decode response", err)
	}
	if err := cmd.Validate(); err != nil {
		return command.Command{}, command.AsClassificationError(utterance, "invalid command", err)
	}
	return cmd, nil
}

// Logout ends the server session. Local cookies are cleared whether or not
// the call succeeds.
func (r *Remote) Logout(ctx context.Context) error {
	defer r.jar.Reset()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint("/api/auth/logout"), nil)
	if err != nil {
		return fmt.Errorf("classifier: build logout request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("classifier: logout: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("classifier: logout: server returned %d: %w", resp.StatusCode, decodeError(resp.Body))
	}
	return nil
}

func (r *Remote) endpoint(path string) string {
	return r.baseURL.JoinPath(path).String()
}

// decodeError extracts the message of an [ErrorResponse] body, or nil.
func decodeError(body io.Reader) error {
	var e ErrorResponse
	if err := json.NewDecoder(io.LimitReader(body, 64<<10)).Decode(&e); err != nil || e.Error == "" {
		return nil
	}
	return errors.New(e.Error)
}

// resettableJar is a cookie jar that can be emptied.
type resettableJar struct {
	mu    sync.RWMutex
	inner *cookiejar.Jar
}

func (j *resettableJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	j.inner.SetCookies(u, cookies)
}

func (j *resettableJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.inner.Cookies(u)
}

// Reset drops every stored cookie.
func (j *resettableJar) Reset() {
	jar, _ := cookiejar.New(nil) // never fails without options
	j.mu.Lock()
	j.inner = jar
	j.mu.Unlock()
}
