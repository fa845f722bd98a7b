// Package storageclass validates storage class names per backend before an
// upload is opened, so a typo fails fast instead of after the first part.
package storageclass

import (
	"fmt"
	"sort"
	"strings"
)

// Info describes a storage class accepted at upload time.
type Info struct {
	Name string
	// Schemes lists the URI schemes whose backend accepts the class.
	Schemes []string
}

// All lists the classes an object can be written with. Classes that are
// only reached through lifecycle transitions are absent.
var All = []Info{
	{"STANDARD", []string{"s3", "minio"}},
	{"REDUCED_REDUNDANCY", []string{"s3", "minio"}},
	{"STANDARD_IA", []string{"s3"}},
	{"ONEZONE_IA", []string{"s3"}},
	{"INTELLIGENT_TIERING", []string{"s3"}},
	{"GLACIER_IR", []string{"s3"}},
	{"GLACIER", []string{"s3"}},
	{"DEEP_ARCHIVE", []string{"s3"}},
	{"EXPRESS_ONEZONE", []string{"s3"}},
}

// Mapping resolves class names for one scheme.
type Mapping struct {
	scheme string
	byName map[string]Info
}

// NewMapping returns the classes usable with scheme.
func NewMapping(scheme string) *Mapping {
	m := &Mapping{scheme: scheme, byName: make(map[string]Info)}
	for _, info := range All {
		for _, s := range info.Schemes {
			if s == scheme {
				m.byName[info.Name] = info
			}
		}
	}
	return m
}

// Normalize returns the canonical spelling of name. Matching ignores case
// and treats '-' like '_'. An empty name stays empty (backend default).
func (m *Mapping) Normalize(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	key := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	if info, ok := m.byName[key]; ok {
		return info.Name, nil
	}
	if len(m.byName) == 0 {
		return "", fmt.Errorf("storage class %q: %s:// has no storage classes", name, m.scheme)
	}
	return "", fmt.Errorf("storage class %q not supported by %s:// (want one of %s)", name, m.scheme, strings.Join(m.Names(), ", "))
}

// Names returns the supported names in sorted order.
func (m *Mapping) Names() []string {
	names := make([]string, 0, len(m.byName))
	for n := range m.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
