package secrets

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Reference is a parsed secret://name[?version=N&project=P] value.
type Reference struct {
	Name    string
	Version string
	Project string
}

// ParseReference accepts secret:// and the older sm:// scheme. Version defaults to "latest".
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("secrets: parse %q: %w", raw, err)
	}
	if u.Scheme != "secret" && u.Scheme != "sm" {
		return Reference{}, fmt.Errorf("secrets: %q is not a secret:// reference", raw)
	}
	ref := Reference{
		Name:    strings.Trim(u.Host+u.Path, "/"),
		Version: strings.TrimSpace(u.Query().Get("version")),
		Project: strings.TrimSpace(u.Query().Get("project")),
	}
	if ref.Name == "" {
		return Reference{}, fmt.Errorf("secrets: %q names no secret", raw)
	}
	if ref.Version == "" {
		ref.Version = "latest"
	}
	return ref, nil
}

// String is the canonical form without query parameters.
func (r Reference) String() string { return "secret://" + r.Name }

func (r Reference) cacheKey() string { return r.String() + "@" + r.Version }

// resource is the Secret Manager version name. Slashes in the name become dashes since secret ids
// cannot contain them.
func (r Reference) resource(defaultProject string) (string, bool) {
	project := r.Project
	if project == "" {
		project = defaultProject
	}
	if project == "" {
		return "", false
	}
	id := strings.ReplaceAll(r.Name, "/", "-")
	return "projects/" + project + "/secrets/" + id + "/versions/" + r.Version, true
}
