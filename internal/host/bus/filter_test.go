// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package bus

import "testing"

func TestMatchesFilters(t *testing.T) {
	binding := AppBinding{Instance: "i-42", App: "foo123"}

	cases := []struct {
		name    string
		filters []string
		want    bool
	}{
		{"wildcard", []string{"*"}, true},
		{"wildcard after misses", []string{"nope", "*"}, true},
		{"exact instance id", []string{"i-42"}, true},
		{"exact app id", []string{"foo123"}, true},
		{"pattern prefix", []string{"foo.*"}, true},
		{"pattern case insensitive", []string{"FOO.*"}, true},
		{"pattern requires whole app id", []string{"oo1.*"}, false},
		{"different app", []string{"bar"}, false},
		{"no filters", nil, false},
		{"invalid pattern selects nothing", []string{"("}, false},
		{"invalid pattern then match", []string{"(", "i-42"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := matchesFilters(binding, tc.filters); got != tc.want {
				t.Fatalf("matchesFilters(%v) = %v, want %v", tc.filters, got, tc.want)
			}
		})
	}
}

func TestPatternDoesNotMatchLackingPrefix(t *testing.T) {
	binding := AppBinding{Instance: "i-7", App: "barfoo"}
	if matchesFilters(binding, []string{"foo.*"}) {
		t.Fatalf("pattern %q must not match app id %q", "foo.*", "barfoo")
	}
}

func TestWildcardMatchesTokenBinding(t *testing.T) {
	if !matchesFilters(TokenBinding("shell-token"), []string{"*"}) {
		t.Fatalf("wildcard must match any binding")
	}
	if !matchesFilters(TokenBinding("shell-token"), []string{"shell-token"}) {
		t.Fatalf("exact token must match its own binding")
	}
}
