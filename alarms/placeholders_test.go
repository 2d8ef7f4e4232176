package alarms

import (
	"testing"
	"time"

	"github.com/campbell-alarms/engine/expr"
)

func TestExpandPlaceholdersFixedVocabulary(t *testing.T) {
	fired := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	ctx := TriggerContext{
		AlarmName:       "Battery Low",
		SourceAnnotated: "BattV(11.2) < 12",
		LastValue:       expr.NewDouble(11.2, fired),
		Units:           "V",
		Entrance:        "BattV < 12",
		Exit:            "BattV >= 12",
		ConditionName:   "low",
		FiredAt:         fired,
		ActionType:      "email",
	}

	got := ExpandPlaceholders("%n %s %v%u %e / %x [%c] %d %a %%", ctx)
	want := "Battery Low BattV(11.2) < 12 11.2V BattV < 12 / BattV >= 12 [low] 2026-07-31 email %"
	if got != want {
		t.Fatalf("ExpandPlaceholders mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestExpandPlaceholdersUnknownCodeFallback(t *testing.T) {
	ctx := TriggerContext{
		UnknownPlaceholder: func(code byte) (string, bool) {
			if code == 'z' {
				return "zed", true
			}
			return "", false
		},
	}
	if got := ExpandPlaceholders("%z-%q", ctx); got != "zed-%q" {
		t.Fatalf("got %q", got)
	}
}

func TestConditionFormatDescUsesOwnName(t *testing.T) {
	c := NewCondition("low-battery", nil, nil)
	ctx := TriggerContext{AlarmName: "Battery"}
	got := c.FormatDesc("%n: %c", ctx)
	if got != "Battery: low-battery" {
		t.Fatalf("got %q", got)
	}
}
