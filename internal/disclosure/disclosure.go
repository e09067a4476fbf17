// Package disclosure applies disclosure obligations to outbound text.
package disclosure

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/davidahmann/charter/internal/policy"
)

// Apply appends the obligation's disclosure text to text unless it is
// already present. Presence is checked under NFC; text is returned as given.
// Applying the result again changes nothing.
func Apply(text string, ob policy.Obligations) string {
	return ApplyDisclosure(text, ob.Disclosure)
}

// ApplyDisclosure is Apply for a bare disclosure.
func ApplyDisclosure(text string, d policy.Disclosure) string {
	if d.Mode != policy.DisclosureAppendIfMissing {
		return text
	}
	needle := norm.NFC.String(strings.TrimSpace(d.Text))
	if needle == "" || strings.Contains(norm.NFC.String(text), needle) {
		return text
	}
	return text + d.Text
}

// Lookup returns the disclosure a rule requires.
func Lookup(doc *policy.Document, ruleID string) (policy.Disclosure, bool) {
	if doc == nil {
		return policy.Disclosure{}, false
	}
	for _, r := range doc.Rules {
		if r.ID == ruleID && r.Require.Disclosure.Set() {
			return r.Require.Disclosure, true
		}
	}
	return policy.Disclosure{}, false
}
