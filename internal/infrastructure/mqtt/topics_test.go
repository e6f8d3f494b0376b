package mqtt

import (
	"testing"

	"github.com/tidemark-io/tidemark-edge/internal/interfaces"
)

func TestTopics(t *testing.T) {
	topics := Topics{Realm: "test", DeviceID: "2TBn-jNESuuHamE2Zo1anA"}

	t.Run("base", func(t *testing.T) {
		if got := topics.Base(); got != "test/2TBn-jNESuuHamE2Zo1anA" {
			t.Errorf("Base() = %q", got)
		}
	})

	t.Run("data", func(t *testing.T) {
		got := topics.Data("org.example.Sensor", "/kitchen/temperature")
		want := "test/2TBn-jNESuuHamE2Zo1anA/org.example.Sensor/kitchen/temperature"
		if got != want {
			t.Errorf("Data() = %q, want %q", got, want)
		}
	})

	t.Run("control", func(t *testing.T) {
		got := topics.Control("status")
		if got != "test/2TBn-jNESuuHamE2Zo1anA/control/status" {
			t.Errorf("Control() = %q", got)
		}
	})

	t.Run("parse data round trip", func(t *testing.T) {
		topic := topics.Data("org.example.Sensor", "/kitchen/temperature")
		iface, path, ok := topics.ParseData(topic)
		if !ok {
			t.Fatalf("ParseData(%q) not ok", topic)
		}
		if iface != "org.example.Sensor" {
			t.Errorf("interface = %q", iface)
		}
		if path != "/kitchen/temperature" {
			t.Errorf("path = %q", path)
		}
	})

	t.Run("parse rejects foreign topic", func(t *testing.T) {
		if _, _, ok := topics.ParseData("other/device/org.example.Sensor/x"); ok {
			t.Error("ParseData() accepted a foreign topic")
		}
	})
}

func TestQoSForReliability(t *testing.T) {
	tests := []struct {
		reliability interfaces.Reliability
		want        byte
	}{
		{interfaces.ReliabilityUnreliable, 0},
		{interfaces.ReliabilityGuaranteed, 1},
		{interfaces.ReliabilityUnique, 2},
	}
	for _, tt := range tests {
		if got := QoSForReliability(tt.reliability); got != tt.want {
			t.Errorf("QoSForReliability(%v) = %d, want %d", tt.reliability, got, tt.want)
		}
	}
}

func TestBuildIntrospection(t *testing.T) {
	ifaces := []*interfaces.Interface{
		{Name: "org.example.Settings", MajorVersion: 2, MinorVersion: 0},
		{Name: "org.example.Sensor", MajorVersion: 1, MinorVersion: 3},
	}
	got := BuildIntrospection(ifaces)
	want := "org.example.Sensor:1:3;org.example.Settings:2:0"
	if got != want {
		t.Errorf("BuildIntrospection() = %q, want %q", got, want)
	}

	if got := BuildIntrospection(nil); got != "" {
		t.Errorf("BuildIntrospection(nil) = %q, want empty", got)
	}
}
