package main

import "testing"

func TestResolveLogConfigPrefersXMLElement(t *testing.T) {
	doc := []byte(`<alarms>
  <EmailProfiles/>
  <log directory="/var/log/alarms" base-file-name="alarms.log" count="3" size="1048576" enabled="true"/>
</alarms>`)

	cfg := resolveLogConfig(doc, "/flag/dir", "flag.log")

	if cfg.Directory != "/var/log/alarms" {
		t.Errorf("Directory = %q, want XML value", cfg.Directory)
	}
	if cfg.BaseFileName != "alarms.log" {
		t.Errorf("BaseFileName = %q", cfg.BaseFileName)
	}
	if cfg.Count != 3 {
		t.Errorf("Count = %d, want 3", cfg.Count)
	}
	if !cfg.Enabled {
		t.Errorf("Enabled = false, want true")
	}
}

func TestResolveLogConfigFallsBackToFlagsWithoutLogElement(t *testing.T) {
	doc := []byte(`<alarms><EmailProfiles/></alarms>`)

	cfg := resolveLogConfig(doc, "/flag/dir", "flag.log")

	if cfg.Directory != "/flag/dir" {
		t.Errorf("Directory = %q, want flag fallback", cfg.Directory)
	}
	if cfg.BaseFileName != "flag.log" {
		t.Errorf("BaseFileName = %q, want flag fallback", cfg.BaseFileName)
	}
	if !cfg.Enabled {
		t.Errorf("Enabled = false, want true since flagDir is non-empty")
	}
}

func TestResolveLogConfigFallsBackDisabledWithoutDirFlag(t *testing.T) {
	doc := []byte(`<alarms><EmailProfiles/></alarms>`)

	cfg := resolveLogConfig(doc, "", "flag.log")

	if cfg.Enabled {
		t.Errorf("Enabled = true, want false when no directory is configured anywhere")
	}
}
