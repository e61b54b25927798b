package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
)

var (
	seqPadRe   = regexp.MustCompile(`\{SEQ(\d+)\}`)
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)
)

const (
	DefaultInvoiceNumberTemplate = "INV-{TAG}-{SEQ4}"

	maxTagLength      = 12
	fallbackTagDigits = 6
)

// FormatInvoiceNumber formats a human-readable invoice number
// based on a template, invoice issue time, user tag and per-user sequence.
//
// This function is PURE:
// - No side effects
// - No DB access
// - Fully deterministic
func FormatInvoiceNumber(
	template string,
	issuedAt time.Time,
	tag string,
	seq int64,
) (string, error) {

	if template == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}

	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	if strings.Contains(template, "{TAG}") && strings.TrimSpace(tag) == "" {
		return "", fmt.Errorf("invoice number template requires a user tag")
	}

	out := template

	out = strings.ReplaceAll(out, "{TAG}", tag)

	// Date tokens
	out = strings.ReplaceAll(out, "{YYYY}", issuedAt.Format("2006"))
	out = strings.ReplaceAll(out, "{YY}", issuedAt.Format("06"))
	out = strings.ReplaceAll(out, "{MM}", issuedAt.Format("01"))
	out = strings.ReplaceAll(out, "{DD}", issuedAt.Format("02"))

	// Simple sequence
	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))

	// Padded sequence
	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		if len(match) != 2 {
			return m // should never happen
		}

		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}

		return fmt.Sprintf("%0*d", width, seq)
	})

	// Final safety check: unresolved tokens
	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("unresolved token in invoice format: %s", out)
	}

	return out, nil
}

// UserTag derives the invoice prefix for a user: the username slug with
// everything but letters and digits removed, upper-cased and capped at 12
// characters. Users without a usable name get the last six digits of their id.
func UserTag(username string, userID snowflake.ID) string {
	tag := nonAlnumRe.ReplaceAllString(slug.Make(username), "")
	tag = strings.ToUpper(tag)
	if len(tag) > maxTagLength {
		tag = tag[:maxTagLength]
	}
	if tag != "" {
		return tag
	}

	digits := strconv.FormatInt(int64(userID), 10)
	if len(digits) > fallbackTagDigits {
		digits = digits[len(digits)-fallbackTagDigits:]
	}
	return digits
}
