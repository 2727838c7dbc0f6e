package parser

import (
	"html"
	"regexp"
	"strings"
)

// OTPExtractor finds one-time passcodes in free-form message bodies.
//
// Extraction is a best-effort heuristic: rules are tried in order and the
// first plausible capture wins. Nothing here validates a code.
type OTPExtractor struct {
	rules []*otpRule
	tags  *regexp.Regexp
}

type otpRule struct {
	Name  string
	Regex *regexp.Regexp
}

const (
	minOTPLength = 4
	maxOTPLength = 8
)

// NewOTPExtractor creates an extractor with the default rule order
func NewOTPExtractor() *OTPExtractor {
	return &OTPExtractor{
		tags: regexp.MustCompile(`<[^>]*>`),
		rules: []*otpRule{
			// "code: 123456", "OTP is 123456", "verification code is 123456"
			{
				Name:  "keyword",
				Regex: regexp.MustCompile(`(?i)\b(?:code|otp|passcode|pin|token|verification)\b[^\d\n]{0,20}?(\d{4,8})\b`),
			},
			// "123456 is your verification code"
			{
				Name:  "is-your",
				Regex: regexp.MustCompile(`(?i)\b(\d{4,8})\s+is\s+your\b`),
			},
			// "123456 to verify"
			{
				Name:  "to-verify",
				Regex: regexp.MustCompile(`(?i)\b(\d{4,8})\s+to\s+verify\b`),
			},
			// Bare digit runs, 6 first since it is by far the most common length
			{Name: "bare-6", Regex: regexp.MustCompile(`\b(\d{6})\b`)},
			{Name: "bare-4", Regex: regexp.MustCompile(`\b(\d{4})\b`)},
			{Name: "bare-5", Regex: regexp.MustCompile(`\b(\d{5})\b`)},
			{Name: "bare-7", Regex: regexp.MustCompile(`\b(\d{7})\b`)},
			{Name: "bare-8", Regex: regexp.MustCompile(`\b(\d{8})\b`)},
		},
	}
}

// Extract returns the first plausible passcode in text
func (e *OTPExtractor) Extract(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}

	// Tags are replaced by spaces so attribute values never match
	clean := e.tags.ReplaceAllString(text, " ")
	clean = html.UnescapeString(clean)

	for _, rule := range e.rules {
		for _, match := range rule.Regex.FindAllStringSubmatch(clean, -1) {
			if len(match) < 2 {
				continue
			}
			code := strings.TrimSpace(match[1])
			if len(code) < minOTPLength || len(code) > maxOTPLength {
				continue
			}
			if isSyntheticCode(code) {
				continue
			}
			return code, true
		}
	}

	return "", false
}

// isSyntheticCode reports placeholder-looking codes: 0000, 1111, 1234, 4321
func isSyntheticCode(code string) bool {
	if len(code) < 2 {
		return false
	}

	same, up, down := true, true, true
	for i := 1; i < len(code); i++ {
		prev, cur := code[i-1], code[i]
		if cur != prev {
			same = false
		}
		if cur != prev+1 {
			up = false
		}
		if cur+1 != prev {
			down = false
		}
	}

	return same || up || down
}
