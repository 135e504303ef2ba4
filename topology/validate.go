package topology

import (
	"fmt"
	"sort"

	"github.com/petal-labs/relay/core"
)

// Report is the outcome of reconciling declared emitters and consumers.
type Report struct {
	Valid bool `json:"valid"`

	// OrphanedEmitters are event names declared under emits with no
	// matching consumes declaration anywhere: dead letters waiting to
	// happen.
	OrphanedEmitters []string `json:"orphaned_emitters"`

	// UnsatisfiedConsumers are event names declared under consumes with
	// no matching emits declaration: missing producers.
	UnsatisfiedConsumers []string `json:"unsatisfied_consumers"`

	// Warnings flag suspicious but non-fatal matches, currently version
	// drift between an emitter and a consumer of the same event.
	Warnings []string `json:"warnings,omitempty"`
}

// Validate reconciles declarations against each other. It cannot detect
// "declared but never emitted at runtime", only one-sided declarations.
func Validate(decls []core.DeclaredEvent) Report {
	emitVersions := make(map[string]map[string]bool)
	consumeVersions := make(map[string]map[string]bool)

	for _, d := range decls {
		byName := emitVersions
		if d.Direction == core.DirectionConsume {
			byName = consumeVersions
		}
		if byName[d.Name] == nil {
			byName[d.Name] = make(map[string]bool)
		}
		byName[d.Name][d.Version] = true
	}

	report := Report{
		OrphanedEmitters:     []string{},
		UnsatisfiedConsumers: []string{},
	}
	for name := range emitVersions {
		if _, ok := consumeVersions[name]; !ok {
			report.OrphanedEmitters = append(report.OrphanedEmitters, name)
		}
	}
	for name := range consumeVersions {
		if _, ok := emitVersions[name]; !ok {
			report.UnsatisfiedConsumers = append(report.UnsatisfiedConsumers, name)
		}
	}
	sort.Strings(report.OrphanedEmitters)
	sort.Strings(report.UnsatisfiedConsumers)

	for name, emits := range emitVersions {
		consumes, ok := consumeVersions[name]
		if !ok {
			continue
		}
		for v := range consumes {
			if v != "" && !emits[v] && !emits[""] {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("%s: consumed at version %q but not emitted at that version", name, v))
			}
		}
	}
	sort.Strings(report.Warnings)

	report.Valid = len(report.OrphanedEmitters) == 0 && len(report.UnsatisfiedConsumers) == 0
	return report
}

// ValidateRoot scans root for manifests and validates the result.
func ValidateRoot(root string) (Report, error) {
	decls, err := ScanDeclaredEvents(root)
	if err != nil {
		return Report{}, err
	}
	return Validate(decls), nil
}
