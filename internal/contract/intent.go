package contract

import (
	"regexp"
	"strings"
)

// The seller-side pattern is broad (any mention of paperwork or an
// agreement counts); the counterpart fallback pattern only fires on
// explicit closure requests, so overheard smalltalk cannot start a
// draft.
var (
	sellerIntentPattern = regexp.MustCompile(
		`(paperwork|contract|agreement|paperwork ready|send.*contract|formalize.*agreement|finalize.*deal|sign.*paperwork|ready.*paperwork|get.*paperwork|finalize.*details|we're set|sounds like a deal)`)

	counterpartIntentPattern = regexp.MustCompile(
		`(send.*contract|finalize.*deal|sign.*paperwork|ready.*paperwork|get.*paperwork|finalize.*details|we're set|sounds like a deal)`)
)

// DetectSellerClosingIntent reports whether the seller's own speech
// signals the deal is ready for paperwork.
func DetectSellerClosingIntent(text string) bool {
	return sellerIntentPattern.MatchString(strings.ToLower(text))
}

// DetectCounterpartClosingIntent reports whether the other party asked
// for closure explicitly.
func DetectCounterpartClosingIntent(text string) bool {
	return counterpartIntentPattern.MatchString(strings.ToLower(text))
}
