package alerts

import "strings"

// ScopesForRepo resolves the ordered, deduplicated rule scopes that apply
// to a repository key ("owner/name"): the exact repo scope first, then the
// owning org scope when an owner segment exists.
func ScopesForRepo(repoKey string) []string {
	scopes := []string{"repo:" + repoKey}
	owner, _, found := strings.Cut(repoKey, "/")
	if found && owner != "" {
		org := "org:" + owner
		if org != scopes[0] {
			scopes = append(scopes, org)
		}
	}
	return scopes
}
