package provider

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/skiptrace/internal/model"
)

// NormalizeAddress folds an address to the canonical form sent to
// providers: accents stripped, compatibility forms folded, periods dropped,
// whitespace collapsed, upper case.
func NormalizeAddress(s string) string {
	// Transformers and casers are stateful; build them per call.
	strip := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFKC)
	out, _, err := transform.String(strip, s)
	if err != nil {
		out = s
	}
	out = strings.ReplaceAll(out, ".", "")
	out = strings.Join(strings.Fields(out), " ")
	return cases.Upper(language.AmericanEnglish).String(out)
}

// NormalizePhone reduces a US number to its 10 digits, or "" if invalid.
func NormalizePhone(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 || digits[0] == '0' || digits[0] == '1' {
		return ""
	}
	return digits
}

// NormalizeEmail lower-cases and trims an address, or returns "" if it is
// not plausibly deliverable.
func NormalizeEmail(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	local, domain, ok := strings.Cut(s, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return ""
	}
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return ""
	}
	if strings.ContainsAny(s, " \t,;") {
		return ""
	}
	return s
}

// NormalizePhones normalizes numbers, drops invalid ones and merges
// duplicates. A merged entry keeps the highest confidence and any
// compliance flag raised by either copy.
func NormalizePhones(in []model.Phone) []model.Phone {
	out := make([]model.Phone, 0, len(in))
	seen := make(map[string]int, len(in))
	for _, p := range in {
		p.Number = NormalizePhone(p.Number)
		if p.Number == "" {
			continue
		}
		p.Confidence = clamp(p.Confidence)
		p.Type = strings.ToLower(strings.TrimSpace(p.Type))

		i, dup := seen[p.Number]
		if !dup {
			seen[p.Number] = len(out)
			out = append(out, p)
			continue
		}
		cur := &out[i]
		cur.Confidence = max(cur.Confidence, p.Confidence)
		cur.IsDNC = cur.IsDNC || p.IsDNC
		cur.IsLitigator = cur.IsLitigator || p.IsLitigator
		if cur.Type == "" {
			cur.Type = p.Type
		}
	}
	return out
}

// NormalizeEmails normalizes addresses, drops invalid ones and merges
// duplicates keeping the highest confidence.
func NormalizeEmails(in []model.Email) []model.Email {
	out := make([]model.Email, 0, len(in))
	seen := make(map[string]int, len(in))
	for _, e := range in {
		e.Address = NormalizeEmail(e.Address)
		if e.Address == "" {
			continue
		}
		e.Confidence = clamp(e.Confidence)
		if i, dup := seen[e.Address]; dup {
			out[i].Confidence = max(out[i].Confidence, e.Confidence)
			continue
		}
		seen[e.Address] = len(out)
		out = append(out, e)
	}
	return out
}

func clamp(f float64) float64 {
	return min(max(f, 0), 1)
}
