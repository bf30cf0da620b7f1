// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package bus

import "regexp"

// FilterAll selects every binding.
const FilterAll = "*"

// matchesFilters reports whether any filter selects the binding. A filter
// matches on the wildcard, the exact instance id, the exact application id,
// or as a case-insensitive pattern applied to the whole application id.
// The first filter to match wins.
func matchesFilters(binding Binding, filters []string) bool {
	for _, f := range filters {
		if f == FilterAll || f == binding.InstanceID() || f == binding.AppID() {
			return true
		}
		re, err := regexp.Compile(`(?i)\A(?:` + f + `)\z`)
		if err != nil {
			// not a usable pattern; this filter selects nothing
			continue
		}
		if re.MatchString(binding.AppID()) {
			return true
		}
	}
	return false
}
