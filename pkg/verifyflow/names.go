package verifyflow

import (
	"strings"
	"unicode"
)

// SynthesizeName derives the first/last name pair for account completion.
// Explicit first/last names win. Otherwise the full name is split by treating
// the last whitespace-delimited token as the given name and the remainder as
// the family name. As a last resort the local part of the email is used,
// capitalized, as the given name.
func SynthesizeName(firstName, lastName, fullName, email string) (string, string) {
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName != "" || lastName != "" {
		return firstName, lastName
	}

	if fields := strings.Fields(fullName); len(fields) > 0 {
		if len(fields) == 1 {
			return fields[0], ""
		}
		return fields[len(fields)-1], strings.Join(fields[:len(fields)-1], " ")
	}

	local := email
	if at := strings.Index(email, "@"); at >= 0 {
		local = email[:at]
	}
	return capitalize(local), ""
}

// DisplayName joins the synthesized name parts for the provider profile.
func DisplayName(firstName, lastName string) string {
	return strings.TrimSpace(firstName + " " + lastName)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
