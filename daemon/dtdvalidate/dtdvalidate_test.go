package dtdvalidate

import "testing"

func TestValidateConfigDocument(t *testing.T) {
	valid := []byte(`<?xml version="1.0"?>
<vhostmd>
  <globals>
    <disk>
      <path>/dev/shm/vhostmd0</path>
      <size unit="K">256</size>
    </disk>
    <update_period>5</update_period>
    <transport>vbd</transport>
  </globals>
  <metrics>
    <metric type="uint64" context="host">
      <name>UsedMem</name>
      <action>echo 42</action>
    </metric>
  </metrics>
</vhostmd>`)

	if err := ValidateConfigDocument(valid); err != nil {
		t.Fatalf("expected valid document to pass, got: %v", err)
	}

	invalid := []byte(`<?xml version="1.0"?><vhostmd><globals></globals></vhostmd>`)
	if err := ValidateConfigDocument(invalid); err == nil {
		t.Fatal("expected document missing required elements to fail validation")
	}
}

func TestValidateMetricFragment(t *testing.T) {
	valid := []byte(`<metric type='uint64' context='vm' id='1' uuid='11111111-1111-1111-1111-111111111111'><name>Used</name><value>10</value></metric>`)
	if err := ValidateMetricFragment(valid); err != nil {
		t.Fatalf("expected valid fragment to pass, got: %v", err)
	}

	invalid := []byte(`<metric type='uint64' context='vm'><value>10</value></metric>`)
	if err := ValidateMetricFragment(invalid); err == nil {
		t.Fatal("expected fragment missing <name> to fail validation")
	}
}
