// Package topology statically reconciles the event topology declared by
// pack and skill manifests: every event name should have both an emitter
// and a consumer declared somewhere. The check is manifest-level only; it
// never inspects the runtime event log.
package topology

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/relay/core"
)

// manifestNames are the descriptor file names the scanner recognizes.
var manifestNames = map[string]bool{
	"pack.yaml":  true,
	"pack.yml":   true,
	"pack.json":  true,
	"skill.yaml": true,
	"skill.yml":  true,
	"skill.json": true,
}

// manifestDoc is the subset of a pack/skill descriptor the validator
// reads. Everything else in the manifest is ignored.
type manifestDoc struct {
	Name   string `yaml:"name" json:"name"`
	Events struct {
		Emits    []declaredEntry `yaml:"emits" json:"emits"`
		Consumes []declaredEntry `yaml:"consumes" json:"consumes"`
	} `yaml:"events" json:"events"`
}

// declaredEntry is one emits/consumes item. Manifests may declare an
// event as a bare name string or as a mapping with attributes.
type declaredEntry struct {
	Name          string `yaml:"name" json:"name"`
	Version       string `yaml:"version" json:"version"`
	Mode          string `yaml:"delivery_mode" json:"delivery_mode"`
	ConsumerGroup string `yaml:"consumer_group" json:"consumer_group"`
}

// UnmarshalYAML accepts both `- app.user.created` and the mapping form.
func (d *declaredEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&d.Name)
	}
	type plain declaredEntry
	return node.Decode((*plain)(d))
}

// UnmarshalJSON accepts both a bare string and the object form.
func (d *declaredEntry) UnmarshalJSON(raw []byte) error {
	if len(raw) > 0 && raw[0] == '"' {
		return json.Unmarshal(raw, &d.Name)
	}
	type plain declaredEntry
	return json.Unmarshal(raw, (*plain)(d))
}

// ScanDeclaredEvents walks root for pack/skill manifests and collects
// every declared event. Manifests are read-only input; the scanner never
// writes or touches the runtime partitions.
func ScanDeclaredEvents(root string) ([]core.DeclaredEvent, error) {
	var decls []core.DeclaredEvent
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !manifestNames[d.Name()] {
			return nil
		}
		fromFile, err := readManifest(path)
		if err != nil {
			return err
		}
		decls = append(decls, fromFile...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("topology: scan %s: %w", root, err)
	}
	return decls, nil
}

// readManifest parses one descriptor and flattens its emits/consumes
// sections into DeclaredEvents.
func readManifest(path string) ([]core.DeclaredEvent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology: read manifest %s: %w", path, err)
	}

	var doc manifestDoc
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(raw, &doc)
	} else {
		err = yaml.Unmarshal(raw, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("topology: parse manifest %s: %w", path, err)
	}

	owner := doc.Name
	if owner == "" {
		// Fall back to the manifest's directory name.
		owner = filepath.Base(filepath.Dir(path))
	}

	var decls []core.DeclaredEvent
	for _, e := range doc.Events.Emits {
		decls = append(decls, toDeclared(owner, e, core.DirectionEmit))
	}
	for _, e := range doc.Events.Consumes {
		decls = append(decls, toDeclared(owner, e, core.DirectionConsume))
	}
	return decls, nil
}

func toDeclared(owner string, e declaredEntry, dir core.Direction) core.DeclaredEvent {
	return core.DeclaredEvent{
		Owner:         owner,
		Name:          e.Name,
		Direction:     dir,
		Version:       e.Version,
		Mode:          core.DeliveryMode(e.Mode),
		ConsumerGroup: e.ConsumerGroup,
	}
}
