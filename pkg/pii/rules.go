package pii

import (
	"math/big"
	"net/netip"
	"regexp"
	"strings"
	"unicode"
)

// Rule is a named PII pattern. The span reported for a match is the `pii`
// named group when the pattern defines one, otherwise the whole match.
type Rule struct {
	Name     string
	Label    string
	Patterns []*regexp.Regexp

	// Validate rejects structurally invalid matches. nil accepts everything.
	Validate func(matched string) bool
}

const (
	RuleSSN           = "ssn"
	RuleCreditCard    = "credit_card"
	RulePhone         = "phone"
	RuleEmail         = "email"
	RuleStreetAddress = "street_address"
	RulePassport      = "passport"
	RuleGovernmentID  = "government_id"
	RuleBankAccount   = "bank_account"
	RuleBirthDate     = "birth_date"
	RuleIPAddress     = "ip_address"
)

const months = `(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?`

// BuiltinRules returns the built-in rules in evaluation order
func BuiltinRules() []Rule {
	return []Rule{
		{
			Name:  RuleSSN,
			Label: "social security number",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
				regexp.MustCompile(`\b\d{3} \d{2} \d{4}\b`),
				regexp.MustCompile(`\b\d{9}\b`),
			},
			Validate: validSSN,
		},
		{
			Name:  RuleCreditCard,
			Label: "payment card number",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`),
			},
			Validate: validCardNumber,
		},
		{
			Name:  RulePhone,
			Label: "phone number",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?:\+\d{1,3}[-. ]?)?(?:\(\d{3}\)\s?|\b\d{3}[-. ])\d{3}[-. ]\d{4}\b`),
			},
		},
		{
			Name:  RuleEmail,
			Label: "email address",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
			},
		},
		{
			Name:  RuleStreetAddress,
			Label: "street address",
			Patterns: []*regexp.Regexp{
				// house number directly followed by capitalized or ordinal street name words
				regexp.MustCompile(`\b\d{1,6}\s+(?:(?:[A-Z][A-Za-z'-]*\.?|\d{1,3}(?:st|nd|rd|th))\s+){1,3}(?:(?i:street|avenue|road|lane|boulevard|court|terrace|parkway|highway)|St|Ave|Rd|Ln|Dr|Drive|Way|Blvd|Ct|Pl|Place|Cir|Circle|Pkwy|Hwy)\b\.?`),
			},
		},
		{
			Name:  RulePassport,
			Label: "passport number",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bpassport(?:\s*(?:number|no\.?|#))?\s*(?:is|:)?\s*(?P<pii>[A-Z0-9]{6,9})\b`),
			},
			Validate: containsDigit,
		},
		{
			Name:  RuleGovernmentID,
			Label: "government id number",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(?:driver'?s?\s+licen[cs]e|licen[cs]e|DL|national\s+id|government\s+id|state\s+id|tax\s+id|TIN|EIN|ITIN|NINO?)(?:\s*(?:number|no\.?|#))?\s*(?:is|:)?\s*(?P<pii>[A-Z0-9][A-Z0-9-]{4,19})\b`),
			},
			Validate: containsDigit,
		},
		{
			Name:  RuleBankAccount,
			Label: "bank account number",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(?:bank\s+account|account|acct|routing|checking|savings|sort\s+code)(?:\s*(?:number|no\.?|#))?\s*(?:is|:)?\s*(?P<pii>\d[\d -]{4,30}\d)\b`),
				regexp.MustCompile(`\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,3})?\b`),
			},
			Validate: validBankAccount,
		},
		{
			Name:  RuleBirthDate,
			Label: "date of birth",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(?:born\s+(?:on\s+)?|birth\s*day\s*(?:is\s+|:\s*)?|date\s+of\s+birth\s*(?:is\s+|:\s*)?|DOB\s*(?:is\s+|:\s*)?)(?P<pii>\d{1,4}[-/.]\d{1,2}[-/.]\d{1,4}|` + months + `\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}|\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?` + months + `,?\s+\d{4})`),
			},
		},
		{
			Name:  RuleIPAddress,
			Label: "network address",
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
				regexp.MustCompile(`(?i)(?:\b[0-9a-f]{1,4})?(?::[0-9a-f]{0,4}){2,7}`),
			},
			Validate: validIPAddress,
		},
	}
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func containsDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// validSSN rejects numbers the SSA never issues: area 000, 666 or 9xx,
// group 00 and serial 0000.
func validSSN(s string) bool {
	d := digitsOf(s)
	if len(d) != 9 {
		return false
	}
	area, group, serial := d[:3], d[3:5], d[5:]
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	return group != "00" && serial != "0000"
}

func validCardNumber(s string) bool {
	d := digitsOf(s)
	if len(d) < 13 || len(d) > 19 {
		return false
	}
	return luhn(d)
}

func luhn(d string) bool {
	sum := 0
	double := false
	for i := len(d) - 1; i >= 0; i-- {
		n := int(d[i] - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

// validBankAccount accepts keyword-anchored digit runs and IBANs passing the mod-97 check
func validBankAccount(s string) bool {
	compact := strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), "-", "")
	if compact == "" {
		return false
	}
	if compact[0] >= '0' && compact[0] <= '9' {
		return len(digitsOf(compact)) >= 6
	}
	return validIBAN(compact)
}

func validIBAN(iban string) bool {
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	rearranged := strings.ToUpper(iban[4:] + iban[:4])
	var b strings.Builder
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteString(big.NewInt(int64(r - 'A' + 10)).String())
		default:
			return false
		}
	}
	n, ok := new(big.Int).SetString(b.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}

func validIPAddress(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	// "::" alone is too ambiguous in prose
	return !(addr.Is6() && addr.IsUnspecified())
}
