// Package deeplink normalizes inbound verification links. Links arrive either
// as HTTPS URLs (https://host/verify-email?oobCode=…) or as custom-scheme URIs
// (dorsuconnect://verify-email?oobCode=…); some runtimes hand the latter over
// without an authority component, so parsing falls back to query extraction on
// the raw string. Parse never fails: garbage input yields an empty payload.
package deeplink

import (
	"net/url"
	"regexp"
	"strings"
)

// Payload is the parsed result of one inbound link. Empty Code/Mode mean the
// parameter was absent. Payloads are ephemeral and never persisted.
type Payload struct {
	Code               string
	Mode               string
	IsVerificationLink bool
}

const modeVerifyEmail = "verifyemail"

var (
	codeRe = regexp.MustCompile(`(?i)[?&](?:oobCode|actionCode)=([^&#\s]+)`)
	modeRe = regexp.MustCompile(`(?i)[?&]mode=([^&#\s]+)`)
)

// Parse extracts the verification code and mode from a raw link. It attempts
// standard URL parsing first and falls back to regex extraction when the
// runtime delivered a link the URL parser rejects.
func Parse(raw string) Payload {
	var p Payload
	if raw == "" {
		return p
	}

	if u, err := url.Parse(raw); err == nil {
		p.Code, p.Mode = fromQuery(u)
	}
	if p.Code == "" && p.Mode == "" {
		p.Code, p.Mode = fromRegex(raw)
	}

	lower := strings.ToLower(raw)
	p.IsVerificationLink = strings.Contains(lower, "verify-email") ||
		strings.Contains(lower, "action=verifyemail") ||
		strings.ToLower(p.Mode) == modeVerifyEmail ||
		p.Code != ""

	return p
}

func fromQuery(u *url.URL) (code, mode string) {
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return "", ""
	}
	for key, values := range q {
		if len(values) == 0 || values[0] == "" {
			continue
		}
		switch {
		case strings.EqualFold(key, "oobCode"), strings.EqualFold(key, "actionCode"):
			if code == "" {
				code = values[0]
			}
		case strings.EqualFold(key, "mode"):
			if mode == "" {
				mode = values[0]
			}
		}
	}
	return code, mode
}

func fromRegex(raw string) (code, mode string) {
	if m := codeRe.FindStringSubmatch(raw); m != nil {
		if decoded, err := url.QueryUnescape(m[1]); err == nil {
			code = decoded
		} else {
			code = m[1]
		}
	}
	if m := modeRe.FindStringSubmatch(raw); m != nil {
		mode = m[1]
	}
	return code, mode
}
