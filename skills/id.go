/*
Package skills implements the skill rules engines: identifier derivation,
skill definitions, the dependency graph, and the event recorder.

PURPOSE:
  Administrators define skills inside a project/subject hierarchy. Users earn
  points by performing skill occurrences. Every write goes through this
  package so that derived fields, graph acyclicity, and per-user aggregates
  stay consistent under concurrent requests.

LOCKING:
  project:<id>                       create/update skills, assign/remove edges
  progress:<project>/<skill>/<user>  record events

  External user lookups run before any lock is taken.

SEE ALSO:
  - core/store.go: Persistence contracts
  - core/errors.go: Result taxonomy returned by every operation
  - validation/: Field rules shared with the API and CLI
*/
package skills

import (
	"strings"

	"github.com/warp/skill-engine/core"
	"github.com/warp/skill-engine/validation"
)

// IDSuffix is appended to every generated skill ID.
const IDSuffix = "Skill"

// =============================================================================
// IDENTIFIER GENERATOR
// =============================================================================

// GenerateID derives a canonical skill ID from a display name: every byte
// that is not an ASCII letter or digit is dropped (case and order kept),
// then IDSuffix is appended unless the result already ends with it.
//
//	"Skill 1"                 -> "Skill1Skill"
//	"Very Great Skill"        -> "VeryGreatSkill"
//	""                        -> "Skill"
func GenerateID(name string) core.SkillID {
	var b strings.Builder
	b.Grow(len(name) + len(IDSuffix))
	for i := 0; i < len(name); i++ {
		if isASCIIAlnum(name[i]) {
			b.WriteByte(name[i])
		}
	}
	id := b.String()
	if !strings.HasSuffix(id, IDSuffix) {
		id += IDSuffix
	}
	return core.SkillID(id)
}

// ValidID reports whether an explicitly supplied skill ID is acceptable.
func ValidID(id core.SkillID) bool {
	return validation.First(string(id), validation.SkillIDRules()) == nil
}

func isASCIIAlnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
