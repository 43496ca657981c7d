package knowledge

import "strings"

// benefitTypes is the fixed set of subcategory values that describe a kind
// of benefit rather than a concrete plan tier. Entries tagged with any of
// these are relevant to every employee regardless of policy type.
//
// Subcategory is free text written by two independent writers (manual entry
// and escalation feedback), so this is a post-filter whitelist, not a SQL
// predicate.
var benefitTypes = map[string]struct{}{
	"dental":           {},
	"optical":          {},
	"health_insurance": {},
	"maternity":        {},
	"claims":           {},
	"submission":       {},
}

// subcategoryAllowed reports whether an entry with the given subcategory is
// visible to an employee with the given policy type. Empty and "general"
// subcategories are always visible; benefit-type tags are always visible;
// a concrete policy-type tag is visible only to the matching tier
// (case-insensitive).
func subcategoryAllowed(subcategory, policyType string) bool {
	sub := strings.ToLower(strings.TrimSpace(subcategory))
	if sub == "" || sub == "general" {
		return true
	}
	if _, ok := benefitTypes[sub]; ok {
		return true
	}
	return sub == strings.ToLower(strings.TrimSpace(policyType))
}

// filterByPolicy keeps only results visible to the given policy type,
// preserving order.
func filterByPolicy(results []Result, policyType string) []Result {
	filtered := results[:0]
	for _, r := range results {
		if subcategoryAllowed(r.Entry.Subcategory, policyType) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
