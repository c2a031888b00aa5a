package review

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/scoutline/scoutd/engine/domain"
)

const (
	xBaseURL = "https://api.twitter.com"

	// xCharLimit is the standard-tier post length in runes. Longer content
	// is published as a reply thread.
	xCharLimit = 280
)

// XCredentials are the OAuth 1.0a user-context keys for one X account.
type XCredentials struct {
	APIKey            string
	APISecret         string
	AccessToken       string
	AccessTokenSecret string
}

// XPublisher posts to X through the v2 API, signing each request with OAuth
// 1.0a. Posts over the character limit become a reply thread; the head
// tweet's id is the draft's external id.
type XPublisher struct {
	creds   XCredentials
	baseURL string
	client  *http.Client
}

// NewXPublisher builds the publisher. Credentials are checked at use, not
// here, so a daemon without X keys still starts.
func NewXPublisher(creds XCredentials) *XPublisher {
	return &XPublisher{
		creds:   creds,
		baseURL: xBaseURL,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// SetBaseURL overrides the API endpoint. Tests point it at a local server.
func (p *XPublisher) SetBaseURL(u string) {
	p.baseURL = strings.TrimRight(u, "/")
}

// Authenticate implements Publisher: it verifies the keys against the
// account lookup endpoint without posting anything.
func (p *XPublisher) Authenticate(ctx context.Context) error {
	if err := p.checkCreds(); err != nil {
		return err
	}
	target := p.baseURL + "/2/users/me"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("review: x: build request: %w", err)
	}
	req.Header.Set("Authorization", p.oauthHeader(http.MethodGet, target))

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Transient("x auth", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return xStatusErr(resp.StatusCode, data)
	}
	return nil
}

// Publish implements Publisher. Content within the limit goes out as one
// post; longer content is word-wrapped into a thread of replies.
func (p *XPublisher) Publish(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("review: x: empty post")
	}
	if err := p.checkCreds(); err != nil {
		return "", err
	}

	if utf8.RuneCountInString(text) <= xCharLimit {
		return p.tweet(ctx, text, "")
	}

	var first, prev string
	for _, part := range splitPost(text, xCharLimit) {
		id, err := p.tweet(ctx, part, prev)
		if err != nil {
			if first != "" {
				return "", fmt.Errorf("review: x: thread broken after tweet %s: %w", prev, err)
			}
			return "", err
		}
		if first == "" {
			first = id
		}
		prev = id
	}
	return first, nil
}

func (p *XPublisher) tweet(ctx context.Context, text, replyTo string) (string, error) {
	body := map[string]any{"text": text}
	if replyTo != "" {
		body["reply"] = map[string]string{"in_reply_to_tweet_id": replyTo}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("review: x: marshal request: %w", err)
	}

	target := p.baseURL + "/2/tweets"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("review: x: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", p.oauthHeader(http.MethodPost, target))

	resp, err := p.client.Do(req)
	if err != nil {
		return "", domain.Transient("x publish", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", domain.Transient("x read", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", xStatusErr(resp.StatusCode, data)
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("review: x: decode response: %w", err)
	}
	if out.Data.ID == "" {
		return "", fmt.Errorf("review: x: response carries no tweet id")
	}
	return out.Data.ID, nil
}

func (p *XPublisher) checkCreds() error {
	switch {
	case p.creds.APIKey == "":
		return fmt.Errorf("review: x: %w", domain.MissingConfig("X_API_KEY"))
	case p.creds.APISecret == "":
		return fmt.Errorf("review: x: %w", domain.MissingConfig("X_API_SECRET"))
	case p.creds.AccessToken == "":
		return fmt.Errorf("review: x: %w", domain.MissingConfig("X_ACCESS_TOKEN"))
	case p.creds.AccessTokenSecret == "":
		return fmt.Errorf("review: x: %w", domain.MissingConfig("X_ACCESS_TOKEN_SECRET"))
	}
	return nil
}

func xStatusErr(status int, data []byte) error {
	msg := "status " + strconv.Itoa(status)
	var body struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Title != "" {
		msg = body.Title
		if body.Detail != "" {
			msg += ": " + body.Detail
		}
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("review: x: %s: %w", msg, ErrAuthFailed)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("review: x: %s: %w", msg, domain.ErrRateLimited)
	case status >= 500:
		return domain.Transient("x", fmt.Errorf("%s", msg))
	default:
		return fmt.Errorf("review: x: %s", msg)
	}
}

// oauthHeader builds the OAuth 1.0a Authorization header for one request.
// The engine's endpoints carry no query parameters, so only the oauth
// params enter the signature.
func (p *XPublisher) oauthHeader(method, rawURL string) string {
	params := map[string]string{
		"oauth_consumer_key":     p.creds.APIKey,
		"oauth_nonce":            strings.ReplaceAll(uuid.NewString(), "-", ""),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"oauth_token":            p.creds.AccessToken,
		"oauth_version":          "1.0",
	}
	params["oauth_signature"] = p.sign(method, rawURL, params)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(percentEncode(k))
		b.WriteString(`="`)
		b.WriteString(percentEncode(params[k]))
		b.WriteString(`"`)
	}
	return b.String()
}

func (p *XPublisher) sign(method, rawURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(params[k]))
	}
	base := method + "&" + percentEncode(rawURL) + "&" + percentEncode(strings.Join(pairs, "&"))
	key := percentEncode(p.creds.APISecret) + "&" + percentEncode(p.creds.AccessTokenSecret)

	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// percentEncode is RFC 3986 encoding as OAuth 1.0a specifies it.
// url.QueryEscape is close but turns spaces into '+'.
func percentEncode(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// splitPost word-wraps text into chunks of at most limit runes. Words
// longer than the limit are hard-broken.
func splitPost(text string, limit int) []string {
	var (
		out    []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}
	for _, word := range strings.Fields(text) {
		wlen := utf8.RuneCountInString(word)
		for wlen > limit {
			flush()
			runes := []rune(word)
			out = append(out, string(runes[:limit]))
			word = string(runes[limit:])
			wlen = utf8.RuneCountInString(word)
		}
		sep := 0
		if curLen > 0 {
			sep = 1
		}
		if curLen+sep+wlen > limit {
			flush()
			sep = 0
		}
		if sep == 1 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
		curLen += sep + wlen
	}
	flush()
	return out
}
