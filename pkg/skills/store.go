package skills

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

const skillFileName = "SKILL.md"

const maxNameLength = 64
const maxDescriptionLength = 1024

// Skill names are lowercase slugs: no leading, trailing, or double hyphens.
var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Store holds the skills loaded from a directory tree.
type Store struct {
	dir    string
	skills map[string]*Skill
	names  []string
}

// NewStore scans dir for skill directories and loads every SKILL.md it
// finds. A missing directory yields an empty store. Directories without a
// SKILL.md are skipped; malformed skill files are aggregated into the
// returned error.
func NewStore(dir string) (*Store, error) {
	store := &Store{
		dir:    dir,
		skills: make(map[string]*Skill),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, errors.Wrapf(err, "failed to read skills directory %s", dir)
	}

	var loadErr *multierror.Error
	for _, entry := range entries {
		entryPath := filepath.Join(dir, entry.Name())

		info, err := os.Stat(entryPath)
		if err != nil || !info.IsDir() {
			continue
		}

		skillPath := filepath.Join(entryPath, skillFileName)
		if _, err := os.Stat(skillPath); err != nil {
			continue
		}

		skill, err := loadSkill(entry.Name(), skillPath)
		if err != nil {
			loadErr = multierror.Append(loadErr, errors.Wrap(err, skillPath))
			continue
		}

		store.skills[skill.Name] = skill
		store.names = append(store.names, skill.Name)
	}

	sort.Strings(store.names)
	return store, loadErr.ErrorOrNil()
}

// loadSkill parses and validates a single SKILL.md file.
func loadSkill(folderName, path string) (*Skill, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read skill file")
	}

	md := goldmark.New(goldmark.WithExtensions(meta.Meta))

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(content, &buf, parser.WithContext(pctx)); err != nil {
		return nil, errors.Wrap(err, "failed to parse markdown")
	}

	metaData := meta.Get(pctx)
	if metaData == nil {
		return nil, errors.New("missing YAML frontmatter")
	}

	name, _ := metaData["name"].(string)
	description, _ := metaData["description"].(string)

	if name == "" {
		return nil, errors.New("skill name is required in frontmatter")
	}
	if len(name) > maxNameLength || !namePattern.MatchString(name) {
		return nil, errors.Errorf("invalid skill name %q", name)
	}
	if name != folderName {
		return nil, errors.Errorf("skill name %q must match directory %q", name, folderName)
	}
	if description == "" || len(description) > maxDescriptionLength {
		return nil, errors.New("skill description must be 1-1024 characters")
	}

	return &Skill{
		Name:        name,
		Description: description,
		Header:      normalizeHeader(metaData),
		Body:        extractBody(string(content)),
		Path:        path,
	}, nil
}

// normalizeHeader converts the yaml.v2 map types goldmark-meta produces
// into JSON-marshalable maps all the way down.
func normalizeHeader(header map[string]any) map[string]any {
	normalized := make(map[string]any, len(header))
	for key, value := range header {
		normalized[key] = normalizeValue(value)
	}
	return normalized
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case map[any]any:
		normalized := make(map[string]any, len(v))
		for key, item := range v {
			if str, ok := key.(string); ok {
				normalized[str] = normalizeValue(item)
			}
		}
		return normalized
	case map[string]any:
		return normalizeHeader(v)
	case []any:
		normalized := make([]any, len(v))
		for i, item := range v {
			normalized[i] = normalizeValue(item)
		}
		return normalized
	default:
		return v
	}
}

// extractBody strips the frontmatter fence and returns the markdown body.
func extractBody(content string) string {
	if !strings.HasPrefix(content, "---") {
		return strings.TrimSpace(content)
	}

	lines := strings.Split(content, "\n")
	fenceEnd := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			fenceEnd = i
			break
		}
	}
	if fenceEnd == -1 {
		return strings.TrimSpace(content)
	}

	return strings.TrimSpace(strings.Join(lines[fenceEnd+1:], "\n"))
}

// Get returns the skill with the given name.
func (s *Store) Get(name string) (*Skill, bool) {
	skill, ok := s.skills[name]
	return skill, ok
}

// List returns all loaded skills ordered by name.
func (s *Store) List() []*Skill {
	list := make([]*Skill, 0, len(s.names))
	for _, name := range s.names {
		list = append(list, s.skills[name])
	}
	return list
}

// Names returns the names of all loaded skills in sorted order.
func (s *Store) Names() []string {
	names := make([]string, len(s.names))
	copy(names, s.names)
	return names
}

// Headers returns the frontmatter of all loaded skills, ordered by name.
func (s *Store) Headers() []map[string]any {
	headers := make([]map[string]any, 0, len(s.names))
	for _, name := range s.names {
		headers = append(headers, s.skills[name].Header)
	}
	return headers
}

// Dir returns the directory the store was loaded from.
func (s *Store) Dir() string {
	return s.dir
}
