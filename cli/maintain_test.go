package cli

import (
	"strings"
	"testing"
	"time"
)

func TestParseCronExpressionUTC(t *testing.T) {
	schedule, err := parseCronExpressionUTC("0 3 * * *")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	next := schedule.Next(base)
	if next.Hour() != 3 || next.Minute() != 0 {
		t.Errorf("Next(%v) = %v, want 03:00", base, next)
	}
}

func TestParseCronExpressionUTC_Rejections(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"", "required"},
		{"CRON_TZ=America/New_York 0 3 * * *", "UTC-only"},
		{"TZ=UTC 0 3 * * *", "UTC-only"},
		{"not a cron", "invalid cron expression"},
		{"0 3 * *", "invalid cron expression"},
	}
	for _, tc := range cases {
		_, err := parseCronExpressionUTC(tc.expr)
		if err == nil {
			t.Errorf("%q: expected error", tc.expr)
			continue
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%q: error = %v, want substring %q", tc.expr, err, tc.want)
		}
	}
}

func TestMaintain_OncePass(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := executeCommand(newTestRoot(), "--dir", dir, "emit", "app.user.created", `{}`, "app/users"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if _, _, err := executeCommand(newTestRoot(), "--dir", dir, "maintain", "--once", "--retain-days", "30"); err != nil {
		t.Fatalf("maintain --once: %v", err)
	}
}

func TestMaintain_BadScheduleExitsValidation(t *testing.T) {
	_, _, err := executeCommand(newTestRoot(), "--dir", t.TempDir(), "maintain", "--schedule", "bogus", "--once")
	if err == nil {
		t.Fatal("expected error for bad schedule")
	}
	if code := exitCodeOf(t, err); code != exitValidation {
		t.Errorf("exit code = %d, want %d", code, exitValidation)
	}
}
