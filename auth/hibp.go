package auth

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	hibpRangeURL  = "https://api.pwnedpasswords.com/range/"
	hibpUserAgent = "lockbox/1.0"
)

// ErrHIBPRateLimited indicates the range API answered 429; the Retry-After
// hint, when present, is included in the wrapping message.
var ErrHIBPRateLimited = errors.New("hibp rate limited")

var hibpHTTPClient = &http.Client{
	Timeout: 4 * time.Second,
}

// HIBPResult reports whether a passphrase was found in the HIBP dataset and
// how many times it appeared.
type HIBPResult struct {
	Found bool
	Count int
}

// CheckHIBP queries the HIBP range API using k-anonymity: only the first
// 5 hex characters of SHA1(pw) ever leave the machine. Response padding is
// requested so the body length does not reveal how many real suffixes share
// the prefix; padding entries carry a zero count and are ignored. Network
// or parse failures are returned wrapped so the caller may decide to fail
// open or closed.
func CheckHIBP(ctx context.Context, pw string) (HIBPResult, error) {
	var result HIBPResult

	sum := sha1.Sum([]byte(pw))
	hashHex := strings.ToUpper(hex.EncodeToString(sum[:]))
	prefix, suffix := hashHex[:5], hashHex[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hibpRangeURL+prefix, nil)
	if err != nil {
		return result, fmt.Errorf("hibp request: %w", err)
	}
	req.Header.Set("User-Agent", hibpUserAgent)
	req.Header.Set("Add-Padding", "true")

	resp, err := hibpHTTPClient.Do(req)
	if err != nil {
		return result, fmt.Errorf("hibp query: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		if after := resp.Header.Get("Retry-After"); after != "" {
			return result, fmt.Errorf("%w, retry after %ss", ErrHIBPRateLimited, after)
		}
		return result, ErrHIBPRateLimited
	case resp.StatusCode != http.StatusOK:
		return result, fmt.Errorf("hibp query: unexpected status %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lineSuffix, count, ok := parseRangeLine(scanner.Text())
		if !ok || count == 0 {
			// Blank lines, malformed lines, and zero-count padding entries
			// all carry no breach information.
			continue
		}
		if strings.EqualFold(lineSuffix, suffix) {
			result.Found = true
			result.Count = count
			return result, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return result, fmt.Errorf("hibp read response: %w", err)
	}

	return result, nil
}

// parseRangeLine splits one "SUFFIX:COUNT" line of a range response.
func parseRangeLine(line string) (suffix string, count int, ok bool) {
	line = strings.TrimSpace(line)
	suffix, countStr, found := strings.Cut(line, ":")
	if !found || suffix == "" {
		return "", 0, false
	}
	count, err := strconv.Atoi(strings.TrimSpace(countStr))
	if err != nil || count < 0 {
		return "", 0, false
	}
	return suffix, count, true
}
