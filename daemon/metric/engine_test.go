package metric

import (
	"strings"
	"testing"

	"github.com/vhostmd/vhostmd-go/daemon/buffer"
)

func TestEvaluateScalarAction(t *testing.T) {
	def := NewDefinition("UsedMem", ContextHost, TypeUint64, "uint64", "echo -n 12345", "KiB", nil)
	def.Template = NewActionTemplate(def.Action)

	e := NewEngine("", "")
	if err := e.Evaluate(def, nil); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got := def.Value(); got != "12345" {
		t.Fatalf("Value() = %q, want %q", got, "12345")
	}
}

func TestEvaluateBuiltinTakesPriority(t *testing.T) {
	def := NewDefinition("NumCPUs", ContextHost, TypeUint32, "uint32", "exit 1", "", nil)
	def.Template = NewActionTemplate(def.Action)

	e := NewEngine("", "")
	if err := e.Evaluate(def, nil); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !def.valid {
		t.Fatal("expected builtin evaluation to succeed despite action being `exit 1`")
	}
}

func TestEvaluateVMMetricRequiresVM(t *testing.T) {
	def := NewDefinition("TotalCPUTime", ContextVM, TypeUint64, "uint64", "echo VMID", "", nil)
	def.Template = NewActionTemplate(def.Action)

	e := NewEngine("", "")
	if err := e.Evaluate(def, nil); err == nil {
		t.Fatal("expected error evaluating a vm-context metric with no vm descriptor")
	}
	if def.valid {
		t.Fatal("definition should remain invalid")
	}
}

func TestEvaluateActionFailureInvalidates(t *testing.T) {
	def := NewDefinition("Bogus", ContextHost, TypeString, "string", "exit 7", "", nil)
	def.Template = NewActionTemplate(def.Action)

	e := NewEngine("", "")
	if err := e.Evaluate(def, nil); err == nil {
		t.Fatal("expected error from failing action")
	}
	if def.valid {
		t.Fatal("definition should be invalidated after a failing action")
	}
}

func TestEmitSkipsInvalidDefinition(t *testing.T) {
	def := NewDefinition("Bogus", ContextHost, TypeString, "string", "exit 7", "", nil)
	def.Template = NewActionTemplate(def.Action)

	e := NewEngine("", "")
	_ = e.Evaluate(def, nil)

	out := buffer.New(256)
	e.Emit(def, nil, out)
	if out.Len() != 0 {
		t.Fatalf("expected nothing emitted for an invalid definition, got %q", out.String())
	}
}

func TestEmitScalarMetric(t *testing.T) {
	def := NewDefinition("UsedMem", ContextHost, TypeUint64, "uint64", "echo -n 99", "KiB", nil)
	def.Template = NewActionTemplate(def.Action)

	e := NewEngine("", "")
	if err := e.Evaluate(def, nil); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	out := buffer.New(512)
	e.Emit(def, nil, out)
	got := out.String()
	for _, want := range []string{"<metric type='uint64' context='host' unit='KiB'>", "<name>UsedMem</name>", "<value>99</value>"} {
		if !strings.Contains(got, want) {
			t.Fatalf("emitted xml %q missing %q", got, want)
		}
	}
}

func TestEmitVMMetricIncludesIDAndUUID(t *testing.T) {
	def := NewDefinition("TotalCPUTime", ContextVM, TypeUint64, "uint64", "echo -n 100", "", nil)
	def.Template = NewActionTemplate(def.Action)
	vm := &VM{ID: 3, Name: "guest0", UUID: "11111111-1111-1111-1111-111111111111"}

	e := NewEngine("", "")
	if err := e.Evaluate(def, vm); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	out := buffer.New(512)
	e.Emit(def, vm, out)
	got := out.String()
	if !strings.Contains(got, "id='3'") || !strings.Contains(got, "uuid='11111111-1111-1111-1111-111111111111'") {
		t.Fatalf("emitted xml missing vm id/uuid: %q", got)
	}
}

func TestEmitGroupMetric(t *testing.T) {
	vars := []Variable{{Name: "NetRx", Type: TypeUint64}, {Name: "NetTx", Type: TypeUint64}}
	def := NewDefinition("NetRx,NetTx", ContextHost, TypeGroup, "uint64,uint64", "echo -n 10,20", "", vars)
	def.Template = NewActionTemplate(def.Action)

	e := NewEngine("", "")
	if err := e.Evaluate(def, nil); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	out := buffer.New(512)
	e.Emit(def, nil, out)
	got := out.String()
	if strings.Count(got, "<metric") != 2 {
		t.Fatalf("expected 2 <metric> elements for a 2-member group, got: %q", got)
	}
	if !strings.Contains(got, "<name>NetRx</name>") || !strings.Contains(got, "<value>10</value>") {
		t.Fatalf("missing first group member: %q", got)
	}
	if !strings.Contains(got, "<name>NetTx</name>") || !strings.Contains(got, "<value>20</value>") {
		t.Fatalf("missing second group member: %q", got)
	}
}

func TestValidateXMLFragmentsRejectsEmptyOutput(t *testing.T) {
	if err := validateXMLFragments(""); err == nil {
		t.Fatal("expected error for output with no <metric> elements")
	}
}

func TestSplitMetricFragments(t *testing.T) {
	raw := "<metric type='uint64' context='vm' id='1' uuid='u'><name>A</name><value>1</value></metric>" +
		"<metric type='uint64' context='vm' id='1' uuid='u'><name>B</name><value>2</value></metric>"
	frags := splitMetricFragments(raw)
	if len(frags) != 2 {
		t.Fatalf("expected 2 fragments, got %d: %v", len(frags), frags)
	}
}

func TestGetNthToken(t *testing.T) {
	cases := []struct {
		name      string
		s         string
		nth, cnt  int
		want      string
	}{
		{"empty string", "", 0, 3, ""},
		{"single member", "solo", 0, 1, "solo"},
		{"first of three", "a,b,c", 0, 3, "a"},
		{"last of three", "a,b,c", 2, 3, "c"},
		{"fewer delimiters than requested", "a,b", 2, 3, "a,b"},
		{"no delimiters at all", "onlyone", 1, 2, "onlyone"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GetNthToken(tc.s, tc.nth, tc.cnt); got != tc.want {
				t.Errorf("GetNthToken(%q, %d, %d) = %q, want %q", tc.s, tc.nth, tc.cnt, got, tc.want)
			}
		})
	}
}

func TestGetNthTokenRoundTrip(t *testing.T) {
	s := "one,two,three,four"
	cnt := strings.Count(s, ",") + 1
	var rebuilt []string
	for i := 0; i < cnt; i++ {
		rebuilt = append(rebuilt, GetNthToken(s, i, cnt))
	}
	if got := strings.Join(rebuilt, ","); got != s {
		t.Fatalf("round trip = %q, want %q", got, s)
	}
}
