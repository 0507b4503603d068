package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestSetDefaults_SchedulerDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	if got := v.GetString("scheduler.timezone"); got != "UTC" {
		t.Errorf("expected default timezone UTC, got %q", got)
	}
	if got := v.GetString("scheduler.digest_time"); got != "07:30" {
		t.Errorf("expected default digest_time 07:30, got %q", got)
	}
	if got := v.GetString("scheduler.reminder_tick"); got != "10s" {
		t.Errorf("expected default reminder_tick 10s, got %q", got)
	}
	if got := v.GetString("scheduler.task_runner_tick"); got != "15s" {
		t.Errorf("expected default task_runner_tick 15s, got %q", got)
	}
	if got := v.GetString("scheduler.attention_interval"); got != "6h" {
		t.Errorf("expected default attention_interval 6h, got %q", got)
	}
	if got := v.GetString("scheduler.pattern_interval"); got != "12h" {
		t.Errorf("expected default pattern_interval 12h, got %q", got)
	}
	if got := v.GetString("scheduler.consolidate_interval"); got != "6h" {
		t.Errorf("expected default consolidate_interval 6h, got %q", got)
	}
}

func TestSetDefaults_AutoUpdateDisabledByDefault(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	if v.GetBool("auto_update.enabled") {
		t.Error("expected auto_update disabled by default")
	}
	if got := v.GetString("auto_update.check_interval"); got != "24h" {
		t.Errorf("expected default check_interval 24h, got %q", got)
	}
	if got := v.GetString("auto_update.git_remote"); got != "origin" {
		t.Errorf("expected default git_remote origin, got %q", got)
	}
}

func TestSetDefaults_ExternalToolsEmptyByDefault(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	for _, key := range []string{"tools.calendar.base_url", "tools.email.base_url", "tools.x.base_url", "tools.linkedin.base_url"} {
		if got := v.GetString(key); got != "" {
			t.Errorf("expected %s empty by default, got %q", key, got)
		}
	}
}

func TestConfig_UnmarshalsIntoTypedStruct(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("data_dir", "/tmp/novaagent-data")
	v.Set("tools.calendar.base_url", "https://cal.example.com")
	v.Set("tools.calendar.token", "secret")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.DataDir != "/tmp/novaagent-data" {
		t.Errorf("expected overridden data_dir, got %q", cfg.DataDir)
	}
	if cfg.Tools.Calendar.BaseURL != "https://cal.example.com" {
		t.Errorf("expected calendar base_url set, got %q", cfg.Tools.Calendar.BaseURL)
	}
	if cfg.Scheduler.Timezone != "UTC" {
		t.Errorf("expected default scheduler timezone carried through, got %q", cfg.Scheduler.Timezone)
	}
}

func TestConfig_AgentToolRegistryDistinctFromTopLevelTools(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("agent.tools.registry", []map[string]interface{}{
		{"name": "web_search", "backend": "go", "enabled": true},
	})
	v.Set("tools.email.base_url", "https://mail.example.com")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(cfg.Agent.Tools.Registry) != 1 || cfg.Agent.Tools.Registry[0].Name != "web_search" {
		t.Errorf("expected agent tool registry entry parsed, got %+v", cfg.Agent.Tools.Registry)
	}
	if cfg.Tools.Email.BaseURL != "https://mail.example.com" {
		t.Errorf("expected the top-level collaborator tools config unaffected, got %q", cfg.Tools.Email.BaseURL)
	}
}
