package alarms

import (
	"strings"
	"testing"
)

func TestParseLogConfigReadsLogElement(t *testing.T) {
	doc := `<alarms>
  <EmailProfiles/>
  <log directory="/var/log/alarms" base-file-name="alarms.log" count="5" size="2097152" enabled="true"/>
</alarms>`

	cfg, ok, err := ParseLogConfig(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParseLogConfig: %v", err)
	}
	if !ok {
		t.Fatalf("expected ok=true when <log> is present")
	}
	if cfg.Directory != "/var/log/alarms" {
		t.Errorf("Directory = %q", cfg.Directory)
	}
	if cfg.BaseFileName != "alarms.log" {
		t.Errorf("BaseFileName = %q", cfg.BaseFileName)
	}
	if cfg.Count != 5 {
		t.Errorf("Count = %d, want 5", cfg.Count)
	}
	if cfg.Size != 2097152 {
		t.Errorf("Size = %d, want 2097152", cfg.Size)
	}
	if !cfg.Enabled {
		t.Errorf("Enabled = false, want true")
	}
}

func TestParseLogConfigNoLogElementReturnsNotOK(t *testing.T) {
	doc := `<alarms><EmailProfiles/></alarms>`

	cfg, ok, err := ParseLogConfig(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ParseLogConfig: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false without a <log> element, got cfg=%+v", cfg)
	}
}

func TestParseLogConfigMalformedXMLReturnsError(t *testing.T) {
	_, ok, err := ParseLogConfig(strings.NewReader("<alarms><log"))
	if err == nil {
		t.Fatalf("expected an error for malformed XML")
	}
	if ok {
		t.Fatalf("expected ok=false on error")
	}
}

func TestParseLogConfigIgnoresAlarmsAndProfiles(t *testing.T) {
	doc := `<alarms>
  <EmailProfiles>
    <EmailProfile unique-id="p1" name="Ops">
      <from>a@example.com</from>
      <to>b@example.com</to>
    </EmailProfile>
  </EmailProfiles>
  <alarm name="Battery Low" id="a1">
    <source>BattV</source>
  </alarm>
  <log directory="/tmp/alarms" base-file-name="a.log" enabled="true"/>
</alarms>`

	cfg, ok, err := ParseLogConfig(strings.NewReader(doc))
	if err != nil || !ok {
		t.Fatalf("ParseLogConfig: ok=%v err=%v", ok, err)
	}
	if cfg.Directory != "/tmp/alarms" || cfg.BaseFileName != "a.log" {
		t.Fatalf("unexpected cfg from a document that also carries alarms/profiles: %+v", cfg)
	}
}
