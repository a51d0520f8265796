package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func TestConfigCmd_PrintsEffectiveSettings(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	initViperDefaults()
	viper.Set("config", "/tmp/somewhere.yaml")
	viper.Set("verbose", true)
	viper.Set("bridge.url", "tcp://10.0.0.5:8777")

	cmd := newConfigCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	if err := cmd.RunE(cmd, nil); err != nil {
		t.Fatalf("config error = %v", err)
	}

	var settings map[string]any
	if err := yaml.Unmarshal(out.Bytes(), &settings); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, out.String())
	}
	bridgeSection, ok := settings["bridge"].(map[string]any)
	if !ok {
		t.Fatalf("no bridge section:\n%s", out.String())
	}
	if bridgeSection["url"] != "tcp://10.0.0.5:8777" {
		t.Fatalf("bridge.url = %v", bridgeSection["url"])
	}
	if _, ok := settings["config"]; ok {
		t.Fatalf("meta key config leaked into the dump")
	}
	if _, ok := settings["verbose"]; ok {
		t.Fatalf("meta key verbose leaked into the dump")
	}
	if !strings.Contains(out.String(), "presence:") {
		t.Fatalf("presence section missing:\n%s", out.String())
	}
}
