package topology

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/petal-labs/relay/core"
)

func writeManifest(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func TestScanDeclaredEvents_YAMLScalarsAndMappings(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "users/pack.yaml", `name: users
events:
  emits:
    - app.user.created
    - name: app.user.deleted
      version: "2"
  consumes:
    - name: app.mail.sent
      delivery_mode: queue
      consumer_group: user-mailers
`)

	decls, err := ScanDeclaredEvents(root)
	if err != nil {
		t.Fatalf("ScanDeclaredEvents: %v", err)
	}
	if len(decls) != 3 {
		t.Fatalf("got %d declarations, want 3: %v", len(decls), decls)
	}

	byName := make(map[string]core.DeclaredEvent)
	for _, d := range decls {
		byName[d.Name] = d
		if d.Owner != "users" {
			t.Errorf("%s: owner = %q, want users", d.Name, d.Owner)
		}
	}
	if d := byName["app.user.created"]; d.Direction != core.DirectionEmit || d.Version != "" {
		t.Errorf("app.user.created = %+v", d)
	}
	if d := byName["app.user.deleted"]; d.Direction != core.DirectionEmit || d.Version != "2" {
		t.Errorf("app.user.deleted = %+v", d)
	}
	d := byName["app.mail.sent"]
	if d.Direction != core.DirectionConsume || d.Mode != core.DeliveryQueue || d.ConsumerGroup != "user-mailers" {
		t.Errorf("app.mail.sent = %+v", d)
	}
}

func TestScanDeclaredEvents_JSON(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "mailer/skill.json", `{
  "name": "mailer",
  "events": {
    "emits": ["app.mail.sent", {"name": "app.mail.bounced", "version": "1"}],
    "consumes": ["app.user.created"]
  }
}`)

	decls, err := ScanDeclaredEvents(root)
	if err != nil {
		t.Fatalf("ScanDeclaredEvents: %v", err)
	}
	if len(decls) != 3 {
		t.Fatalf("got %d declarations, want 3: %v", len(decls), decls)
	}
	for _, d := range decls {
		if d.Owner != "mailer" {
			t.Errorf("%s: owner = %q, want mailer", d.Name, d.Owner)
		}
	}
}

func TestScanDeclaredEvents_OwnerFallsBackToDir(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "billing/pack.yaml", `events:
  emits:
    - app.invoice.created
`)

	decls, err := ScanDeclaredEvents(root)
	if err != nil {
		t.Fatalf("ScanDeclaredEvents: %v", err)
	}
	if len(decls) != 1 || decls[0].Owner != "billing" {
		t.Fatalf("decls = %v, want one owned by billing", decls)
	}
}

func TestScanDeclaredEvents_IgnoresOtherFiles(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "users/pack.yaml", "events:\n  emits:\n    - app.user.created\n")
	writeManifest(t, root, "users/README.md", "# not a manifest\n")
	writeManifest(t, root, "users/config.yaml", "events:\n  emits:\n    - app.should.not_appear\n")

	decls, err := ScanDeclaredEvents(root)
	if err != nil {
		t.Fatalf("ScanDeclaredEvents: %v", err)
	}
	if len(decls) != 1 || decls[0].Name != "app.user.created" {
		t.Fatalf("decls = %v", decls)
	}
}

func TestScanDeclaredEvents_BadManifestSurfaces(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "broken/pack.yaml", "events: [not: {valid")

	if _, err := ScanDeclaredEvents(root); err == nil {
		t.Fatal("scan succeeded on an unparseable manifest")
	}
}
