// Package skills loads agent skill documents from a local directory. Skills
// are packaged as directories containing a SKILL.md file with YAML
// frontmatter describing the skill and a markdown body with its full
// instructions. The store is populated once at startup and read-only
// afterwards.
package skills

// Skill is a loaded skill manifest.
type Skill struct {
	Name        string         // Unique slug from frontmatter, equal to the directory name
	Description string         // Short description for model decision-making
	Header      map[string]any // Full parsed frontmatter
	Body        string         // Markdown body (frontmatter stripped)
	Path        string         // Path to the SKILL.md file
}
