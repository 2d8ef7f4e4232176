// Package execpolicy loads the optional allowlist of external commands
// exec action templates may spawn, restricting spec §4.4's "exec"
// action beyond the blanket exec_actions_allowed switch. Deployments
// that enable exec actions at all commonly still want to bound
// *which* binaries a misconfigured or compromised alarm document can
// launch, so the allowlist is read from its own YAML file rather than
// inline in the alarms XML document.
package execpolicy

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Policy is the parsed allowlist document:
//
//	commands:
//	  - /usr/bin/logger
//	  - notify-send
//
// Entries may be absolute paths or bare names; bare names match by
// the argv[0] base name so a deployment doesn't have to hardcode
// PATH-resolved locations.
type Policy struct {
	Commands []string `yaml:"commands"`
}

// Allowlist is a Policy compiled into a lookup set.
type Allowlist struct {
	names map[string]struct{}
}

// Load reads and parses a Policy document from path.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, err
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Compile builds an Allowlist from a Policy. A Policy with no
// commands compiles to an Allowlist that permits nothing, so an
// empty or missing policy file is a safe default once exec actions
// are otherwise enabled.
func Compile(p Policy) *Allowlist {
	a := &Allowlist{names: make(map[string]struct{}, len(p.Commands))}
	for _, c := range p.Commands {
		a.names[c] = struct{}{}
		a.names[filepath.Base(c)] = struct{}{}
	}
	return a
}

// Allow reports whether argv0 (the command's argv[0], possibly a full
// path) may be executed. A nil Allowlist allows everything, matching
// the pre-allowlist behavior when no policy file is configured.
func (a *Allowlist) Allow(argv0 string) bool {
	if a == nil {
		return true
	}
	if _, ok := a.names[argv0]; ok {
		return true
	}
	_, ok := a.names[filepath.Base(argv0)]
	return ok
}
