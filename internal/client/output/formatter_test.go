package output

import (
	"strings"
	"testing"
)

type row struct {
	Serial  string `json:"serial" yaml:"serial"`
	Address string `json:"address" yaml:"address" table:"ADDR"`
	secret  string
	Hidden  int `table:"-"`
}

func TestTableFormatterSlice(t *testing.T) {
	out := NewFormatter("table").Format([]row{
		{Serial: "00c0ffee", Address: "10.0.0.2"},
		{Serial: "00000001", Address: "10.0.0.3"},
	})

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and 2 rows, got %q", out)
	}
	if strings.Fields(lines[0])[0] != "SERIAL" || strings.Fields(lines[0])[1] != "ADDR" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if strings.Contains(out, "HIDDEN") {
		t.Errorf("expected hidden column to be skipped, got %q", out)
	}
	if !strings.Contains(lines[1], "00c0ffee") || !strings.Contains(lines[1], "10.0.0.2") {
		t.Errorf("unexpected row %q", lines[1])
	}
}

func TestTableFormatterEmpty(t *testing.T) {
	if out := NewFormatter("table").Format([]row{}); out != "Nothing found.\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestTableFormatterStruct(t *testing.T) {
	out := NewFormatter("").Format(&row{Serial: "abc", Address: "x"})
	if !strings.Contains(out, "SERIAL:") || !strings.Contains(out, "ADDR:") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestJSONAndYAMLFormatters(t *testing.T) {
	data := []row{{Serial: "abc", Address: "10.0.0.2"}}

	if out := NewFormatter("json").Format(data); !strings.Contains(out, `"serial": "abc"`) {
		t.Errorf("unexpected JSON %q", out)
	}
	if out := NewFormatter("YAML").Format(data); !strings.Contains(out, "serial: abc") {
		t.Errorf("unexpected YAML %q", out)
	}
}
