package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"gopkg.in/op/go-logging.v1"

	"pulse/internal/domain"
	"pulse/internal/wire"
)

// Client talks to a relay Server. It implements domain.Transport with a
// long-polling Subscribe, and domain.Directory.
type Client struct {
	Base string
	HTTP *http.Client
	// PollInterval is both the long-poll wait requested from the server and
	// the back-off after a failed poll.
	PollInterval time.Duration

	log *logging.Logger
}

// NewClient returns a client for the relay at base.
func NewClient(base string, timeout, poll time.Duration, log *logging.Logger) *Client {
	return &Client{
		Base:         base,
		HTTP:         &http.Client{Timeout: timeout},
		PollInterval: poll,
		log:          log,
	}
}

func envelopesPath(conv domain.ConversationID) string {
	return "/conversations/" + url.PathEscape(string(conv)) + "/envelopes"
}

// Send posts env to the conversation log.
func (c *Client) Send(ctx context.Context, conversation domain.ConversationID, env domain.Envelope) error {
	raw, err := wire.MarshalEnvelope(env)
	if err != nil {
		return err
	}
	return c.post(ctx, envelopesPath(conversation), raw)
}

// Subscribe polls the conversation log from the start until ctx is done.
// Failed polls are logged and retried after PollInterval.
func (c *Client) Subscribe(ctx context.Context, conversation domain.ConversationID) (<-chan domain.Envelope, error) {
	out := make(chan domain.Envelope)
	go func() {
		defer close(out)
		var cursor uint64
		for {
			envs, err := c.poll(ctx, conversation, cursor)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warningf("Poll %s failed: %v", conversation, err)
				select {
				case <-time.After(c.PollInterval):
					continue
				case <-ctx.Done():
					return
				}
			}
			for _, env := range envs {
				select {
				case out <- env:
					cursor = max(cursor, env.Seq)
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) poll(ctx context.Context, conv domain.ConversationID, after uint64) ([]domain.Envelope, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatUint(after, 10))
	q.Set("wait", strconv.FormatInt(c.PollInterval.Milliseconds(), 10))
	var envs []domain.Envelope
	if err := c.getJSON(ctx, envelopesPath(conv)+"?"+q.Encode(), &envs); err != nil {
		return nil, err
	}
	return envs, nil
}

// FetchBundle takes one bundle of user from the relay.
func (c *Client) FetchBundle(ctx context.Context, user domain.UserID) (domain.PreKeyBundle, error) {
	var b domain.PreKeyBundle
	err := c.getJSON(ctx, "/bundles/"+url.PathEscape(string(user)), &b)
	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return domain.PreKeyBundle{}, fmt.Errorf("%w: %s", domain.ErrNoBundle, user)
	}
	if err != nil {
		return domain.PreKeyBundle{}, err
	}
	return b, nil
}

// PublishBundles uploads bundles of user.
func (c *Client) PublishBundles(ctx context.Context, user domain.UserID, bundles []domain.PreKeyBundle) error {
	raw, err := json.Marshal(bundles)
	if err != nil {
		return err
	}
	return c.post(ctx, "/bundles/"+url.PathEscape(string(user)), raw)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError(http.MethodPost, path, resp)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return statusError(http.MethodGet, path, resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StatusError is returned for non-2xx relay responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Msg    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay %s %s: %d %s: %s", e.Method, e.Path, e.Code, http.StatusText(e.Code), e.Msg)
}

func statusError(method, path string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Msg: string(bytes.TrimSpace(msg))}
}

var (
	_ domain.Transport = (*Client)(nil)
	_ domain.Directory = (*Client)(nil)
)
