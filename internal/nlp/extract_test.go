package nlp

import (
	"strings"
	"testing"

	"servis/internal/domain"
)

func TestExtractMusicSlots(t *testing.T) {
	c := New()
	intent := c.Parse("play some relaxing jazz on spotify by norah jones")
	if intent.Name != domain.IntentPlayMusic {
		t.Fatalf("intent = %s, want play_music", intent.Name)
	}
	want := map[string]string{
		"genre":    "jazz",
		"platform": "spotify",
		"mood":     "relaxing",
		"artist":   "norah jones",
	}
	for k, v := range want {
		if intent.Parameters[k] != v {
			t.Errorf("parameter %s = %q, want %q", k, intent.Parameters[k], v)
		}
	}
}

func TestExtractMusicFreeFormTrack(t *testing.T) {
	c := New()
	intent := c.Parse("play bohemian rhapsody")
	if intent.Parameters["track"] != "bohemian rhapsody" {
		t.Errorf("track = %q, want the free-form tail", intent.Parameters["track"])
	}
}

func TestExtractVolumeLevelAndAction(t *testing.T) {
	c := New()

	intent := c.Parse("set the volume to 75%")
	if intent.Parameters["level"] != "75" {
		t.Errorf("level = %q, want 75", intent.Parameters["level"])
	}
	if len(intent.ParamErrors) != 0 {
		t.Errorf("unexpected param errors: %v", intent.ParamErrors)
	}

	intent = c.Parse("turn the volume up by 10")
	if intent.Parameters["action"] != "up" {
		t.Errorf("action = %q, want up", intent.Parameters["action"])
	}
	if intent.Parameters["delta"] != "10" {
		t.Errorf("delta = %q, want 10", intent.Parameters["delta"])
	}
}

func TestExtractVolumeOutOfRangeKeepsRawValue(t *testing.T) {
	c := New()
	intent := c.Parse("set the volume to 250")
	if intent.Parameters["level"] != "250" {
		t.Fatalf("level = %q, raw value must be kept", intent.Parameters["level"])
	}
	if len(intent.ParamErrors) != 1 || !strings.Contains(intent.ParamErrors[0], "level out of range") {
		t.Fatalf("param errors = %v, want a level range marker", intent.ParamErrors)
	}
	wire := intent.WireParameters()
	if _, ok := wire["__errors"]; !ok {
		t.Error("wire parameters missing __errors marker")
	}
}

func TestExtractGPIOPinBounds(t *testing.T) {
	c := New()

	intent := c.Parse("set gpio pin 40 high")
	if intent.Parameters["pin"] != "40" {
		t.Fatalf("pin = %q, want 40", intent.Parameters["pin"])
	}
	if len(intent.ParamErrors) != 0 {
		t.Fatalf("pin 40 is in range, got errors %v", intent.ParamErrors)
	}
	if intent.Parameters["action"] != "write" {
		t.Errorf("action = %q, want write (set)", intent.Parameters["action"])
	}

	intent = c.Parse("set gpio pin 41 high")
	if intent.Parameters["pin"] != "41" {
		t.Fatalf("pin = %q, raw value must be kept", intent.Parameters["pin"])
	}
	if len(intent.ParamErrors) != 1 || !strings.Contains(intent.ParamErrors[0], "pin out of range") {
		t.Fatalf("param errors = %v, want a pin range marker", intent.ParamErrors)
	}
}

func TestExtractSmartHomeSlots(t *testing.T) {
	c := New()
	intent := c.Parse("turn on the lights in the living room")
	if intent.Name != domain.IntentSmartHome {
		t.Fatalf("intent = %s, want smart_home", intent.Name)
	}
	if intent.Parameters["device_type"] != "lights" {
		t.Errorf("device_type = %q, want lights", intent.Parameters["device_type"])
	}
	if intent.Parameters["action"] != "on" {
		t.Errorf("action = %q, want on", intent.Parameters["action"])
	}
	if intent.Parameters["location"] != "living room" {
		t.Errorf("location = %q, want living room", intent.Parameters["location"])
	}
}

func TestExtractSmartHomeTemperature(t *testing.T) {
	c := New()
	intent := c.Parse("set the thermostat to 22 degrees")
	if intent.Parameters["temperature"] != "22" {
		t.Errorf("temperature = %q, want 22", intent.Parameters["temperature"])
	}
	if intent.Parameters["device_type"] != "temperature" {
		t.Errorf("device_type = %q, want temperature", intent.Parameters["device_type"])
	}
}

func TestExtractNavigation(t *testing.T) {
	c := New()
	intent := c.Parse("navigate by bike to the old harbor")
	if intent.Name != domain.IntentNavigation {
		t.Fatalf("intent = %s, want navigation", intent.Name)
	}
	if intent.Parameters["destination"] != "the old harbor" {
		t.Errorf("destination = %q, want the old harbor", intent.Parameters["destination"])
	}
	if intent.Parameters["mode"] != "cycling" {
		t.Errorf("mode = %q, want cycling", intent.Parameters["mode"])
	}
}

func TestExtractCommunication(t *testing.T) {
	c := New()
	intent := c.Parse("send a message to bob on telegram")
	if intent.Parameters["action"] != "send" {
		t.Errorf("action = %q, want send", intent.Parameters["action"])
	}
	if intent.Parameters["platform"] != "telegram" {
		t.Errorf("platform = %q, want telegram", intent.Parameters["platform"])
	}
	if intent.Parameters["recipient"] != "bob" {
		t.Errorf("recipient = %q, want bob", intent.Parameters["recipient"])
	}
}

func TestExtractAudioDeviceSynonyms(t *testing.T) {
	c := New()
	cases := []struct{ text, device string }{
		{"switch audio to my headset", "headphones"},
		{"route the audio output to the speakers", "speakers"},
		{"switch sound output to hdmi", "hdmi"},
	}
	for _, tc := range cases {
		intent := c.Parse(tc.text)
		if intent.Parameters["device"] != tc.device {
			t.Errorf("Parse(%q) device = %q, want %q", tc.text, intent.Parameters["device"], tc.device)
		}
	}
}

func TestExtractSystemControl(t *testing.T) {
	c := New()
	intent := c.Parse("open the music player app")
	if intent.Name != domain.IntentSystemControl {
		t.Fatalf("intent = %s, want system_control", intent.Name)
	}
	if intent.Parameters["action"] != "open" {
		t.Errorf("action = %q, want open", intent.Parameters["action"])
	}
	if intent.Parameters["target"] != "the music player app" {
		t.Errorf("target = %q, want the trailing tokens", intent.Parameters["target"])
	}
}

func TestMissingSlotsStayAbsent(t *testing.T) {
	c := New()
	intent := c.Parse("switch the audio output")
	if _, ok := intent.Parameters["device"]; ok {
		t.Error("device slot should be absent when no device is named")
	}
}
