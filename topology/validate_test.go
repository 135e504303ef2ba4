package topology

import (
	"reflect"
	"testing"

	"github.com/petal-labs/relay/core"
)

func decl(owner, name string, dir core.Direction, version string) core.DeclaredEvent {
	return core.DeclaredEvent{Owner: owner, Name: name, Direction: dir, Version: version}
}

func TestValidate_Balanced(t *testing.T) {
	report := Validate([]core.DeclaredEvent{
		decl("users", "app.user.created", core.DirectionEmit, ""),
		decl("mailer", "app.user.created", core.DirectionConsume, ""),
	})
	if !report.Valid {
		t.Errorf("Valid = false: %+v", report)
	}
	if len(report.OrphanedEmitters) != 0 || len(report.UnsatisfiedConsumers) != 0 {
		t.Errorf("report = %+v", report)
	}
}

func TestValidate_OrphanedEmitter(t *testing.T) {
	report := Validate([]core.DeclaredEvent{
		decl("users", "app.user.created", core.DirectionEmit, ""),
		decl("users", "app.user.deleted", core.DirectionEmit, ""),
		decl("mailer", "app.user.created", core.DirectionConsume, ""),
	})
	if report.Valid {
		t.Error("Valid = true with an orphaned emitter")
	}
	if !reflect.DeepEqual(report.OrphanedEmitters, []string{"app.user.deleted"}) {
		t.Errorf("OrphanedEmitters = %v", report.OrphanedEmitters)
	}
}

func TestValidate_UnsatisfiedConsumer(t *testing.T) {
	report := Validate([]core.DeclaredEvent{
		decl("mailer", "app.user.created", core.DirectionConsume, ""),
	})
	if report.Valid {
		t.Error("Valid = true with an unsatisfied consumer")
	}
	if !reflect.DeepEqual(report.UnsatisfiedConsumers, []string{"app.user.created"}) {
		t.Errorf("UnsatisfiedConsumers = %v", report.UnsatisfiedConsumers)
	}
}

func TestValidate_ListsAreSorted(t *testing.T) {
	report := Validate([]core.DeclaredEvent{
		decl("a", "app.z.last", core.DirectionEmit, ""),
		decl("a", "app.a.first", core.DirectionEmit, ""),
		decl("b", "app.m.middle", core.DirectionConsume, ""),
		decl("b", "app.b.second", core.DirectionConsume, ""),
	})
	if !reflect.DeepEqual(report.OrphanedEmitters, []string{"app.a.first", "app.z.last"}) {
		t.Errorf("OrphanedEmitters = %v", report.OrphanedEmitters)
	}
	if !reflect.DeepEqual(report.UnsatisfiedConsumers, []string{"app.b.second", "app.m.middle"}) {
		t.Errorf("UnsatisfiedConsumers = %v", report.UnsatisfiedConsumers)
	}
}

func TestValidate_VersionDriftWarns(t *testing.T) {
	report := Validate([]core.DeclaredEvent{
		decl("users", "app.user.created", core.DirectionEmit, "1"),
		decl("mailer", "app.user.created", core.DirectionConsume, "2"),
	})
	// Drift does not invalidate the topology, it only warns.
	if !report.Valid {
		t.Errorf("Valid = false: %+v", report)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want one drift warning", report.Warnings)
	}
}

func TestValidate_UnversionedEmitSatisfiesAnyVersion(t *testing.T) {
	report := Validate([]core.DeclaredEvent{
		decl("users", "app.user.created", core.DirectionEmit, ""),
		decl("mailer", "app.user.created", core.DirectionConsume, "3"),
	})
	if len(report.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", report.Warnings)
	}
}

func TestValidate_Empty(t *testing.T) {
	report := Validate(nil)
	if !report.Valid {
		t.Error("Valid = false for an empty topology")
	}
	if report.OrphanedEmitters == nil || report.UnsatisfiedConsumers == nil {
		t.Error("slices are nil, want initialized empties")
	}
}

func TestValidateRoot(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "users/pack.yaml", `name: users
events:
  emits:
    - app.user.created
`)
	writeManifest(t, root, "mailer/skill.yaml", `name: mailer
events:
  consumes:
    - app.user.created
    - app.invoice.paid
`)

	report, err := ValidateRoot(root)
	if err != nil {
		t.Fatalf("ValidateRoot: %v", err)
	}
	if report.Valid {
		t.Error("Valid = true with an unsatisfied consumer")
	}
	if !reflect.DeepEqual(report.UnsatisfiedConsumers, []string{"app.invoice.paid"}) {
		t.Errorf("UnsatisfiedConsumers = %v", report.UnsatisfiedConsumers)
	}
}
