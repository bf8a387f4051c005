// Package phone normalizes raw phone strings scraped from listing pages.
package phone

// Normalize strips everything but digits from a raw phone string and
// rewrites Ukrainian local numbers (10 digits with a leading trunk 0) with
// the 38 country calling code prepended to the full local form. Any other
// digit shape passes through unchanged. A nil or empty input normalizes to
// nil.
func Normalize(raw *string) *string {
	if raw == nil {
		return nil
	}

	digits := make([]byte, 0, len(*raw))
	for i := 0; i < len(*raw); i++ {
		c := (*raw)[i]
		if c >= '0' && c <= '9' {
			digits = append(digits, c)
		}
	}
	if len(digits) == 0 {
		return nil
	}

	out := string(digits)
	if len(digits) == 10 && digits[0] == '0' {
		out = "38" + out
	}
	return &out
}
