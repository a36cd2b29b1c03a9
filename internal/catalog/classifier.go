package catalog

import "strings"

// PetClassifier decides whether a product belongs in a pet store. The fix
// runner treats a missing classifier as "cannot evaluate", not as an error.
type PetClassifier interface {
	Eligible(p Product) bool
}

// KeywordClassifier is the default eligibility check: a product qualifies when
// its text mentions a pet term and avoids the ineligible-category terms.
type KeywordClassifier struct{}

var petTerms = []string{
	"dog", "cat", "pet", "puppy", "kitten", "bird", "fish", "hamster",
	"rabbit", "leash", "collar", "aquarium", "litter", "kennel", "treat",
	"chew", "scratcher", "paw",
}

// NonPetCategoryTerms is the static blacklist used both by eligibility and by
// the reassign-category remediation.
var NonPetCategoryTerms = []string{
	"phone case", "jewelry", "car accessory", "kitchen", "makeup",
	"human clothing", "electronics", "office supplies",
}

func (KeywordClassifier) Eligible(p Product) bool {
	text := strings.ToLower(p.Title + " " + p.Description + " " + p.Category)
	for _, term := range NonPetCategoryTerms {
		if strings.Contains(text, term) {
			return false
		}
	}
	for _, term := range petTerms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
