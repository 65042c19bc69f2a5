package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Key is the canonical identity of a piece of content. Two source URLs that
// point at the same content resolve to the same key regardless of tracking
// parameters or URL surface form.
type Key string

func (k Key) String() string { return string(k) }

// ErrInvalidSourceURL reports a URL that no content key can be derived from.
var ErrInvalidSourceURL = errors.New("invalid source url")

var youtubeIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?.*v=|youtu\.be/|youtube\.com/embed/|youtube\.com/shorts/)([a-zA-Z0-9_-]{11})`),
	regexp.MustCompile(`[?&]v=([a-zA-Z0-9_-]{11})`),
}

// FromURL derives the content key for a source URL.
//
// YouTube URLs in any of their surface forms (watch, short link, embed,
// shorts) map to the bare 11-character video identifier. Other URLs are
// canonicalized (scheme and tracking parameters stripped, query sorted) and
// hashed so the key stays stable across equivalent links.
func FromURL(rawURL string) (Key, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSourceURL)
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSourceURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidSourceURL, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidSourceURL)
	}

	for _, pattern := range youtubeIDPatterns {
		if match := pattern.FindStringSubmatch(trimmed); match != nil {
			return Key(match[1]), nil
		}
	}
	if isYouTubeHost(parsed.Host) {
		return "", fmt.Errorf("%w: no video id in %q", ErrInvalidSourceURL, trimmed)
	}

	return Key(hashCanonical(parsed)), nil
}

func isYouTubeHost(host string) bool {
	host = strings.ToLower(strings.TrimPrefix(host, "www."))
	return host == "youtube.com" || host == "youtu.be" || host == "m.youtube.com" || host == "music.youtube.com"
}

// Query parameters that carry no content identity.
var trackingParams = map[string]struct{}{
	"utm_source": {}, "utm_medium": {}, "utm_campaign": {}, "utm_term": {},
	"utm_content": {}, "fbclid": {}, "gclid": {}, "si": {}, "feature": {},
	"ref": {}, "t": {},
}

func hashCanonical(u *url.URL) string {
	query := u.Query()
	keys := make([]string, 0, len(query))
	for key := range query {
		if _, tracking := trackingParams[strings.ToLower(key)]; tracking {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var canonical strings.Builder
	canonical.WriteString(strings.ToLower(strings.TrimPrefix(u.Host, "www.")))
	canonical.WriteString(strings.TrimSuffix(u.Path, "/"))
	for _, key := range keys {
		canonical.WriteByte('&')
		canonical.WriteString(key)
		canonical.WriteByte('=')
		canonical.WriteString(query.Get(key))
	}

	sum := sha256.Sum256([]byte(canonical.String()))
	return hex.EncodeToString(sum[:8])
}
