package retrieval

import "github.com/trellishq/trellis/internal/knowledge"

// roleAccess maps a caller role to the document access levels it may see.
// Unknown roles fall back to public-only, so a typo in a caller's role
// narrows visibility instead of widening it.
var roleAccess = map[string][]string{
	"dispensary": {knowledge.AccessPublic, knowledge.AccessCustomer},
	"sales":      {knowledge.AccessPublic, knowledge.AccessPlatform},
	"platform":   {knowledge.AccessPublic, knowledge.AccessCustomer, knowledge.AccessPlatform},
}

// levelsForRole returns the access levels visible to role.
func levelsForRole(role string) []string {
	if levels, ok := roleAccess[role]; ok {
		return levels
	}
	return []string{knowledge.AccessPublic}
}
