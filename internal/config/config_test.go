package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestLoadEmptyPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SMSVAULT_HOME", tmpDir)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}

	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if cfg.Extract.Region != "US" {
		t.Errorf("Extract.Region = %q, want US", cfg.Extract.Region)
	}
	if cfg.Extract.Workers != 4 {
		t.Errorf("Extract.Workers = %d, want 4", cfg.Extract.Workers)
	}
	if cfg.Extract.Output != "messages.zip" {
		t.Errorf("Extract.Output = %q, want messages.zip", cfg.Extract.Output)
	}
	if cfg.Extract.TempDir != "" {
		t.Errorf("Extract.TempDir = %q, want empty", cfg.Extract.TempDir)
	}
	if want := filepath.Join(tmpDir, "config.toml"); cfg.ConfigFilePath() != want {
		t.Errorf("ConfigFilePath() = %q, want %q", cfg.ConfigFilePath(), want)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("SMSVAULT_HOME", tmpDir)

	configContent := `
[extract]
region = "gb"
workers = 8
output = "~/exports/phone.tar.xz"
temp_dir = "~/scratch"

[log]
level = "debug"
`
	if err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(configContent), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	if cfg.Extract.Region != "GB" {
		t.Errorf("Extract.Region = %q, want GB", cfg.Extract.Region)
	}
	if cfg.Extract.Workers != 8 {
		t.Errorf("Extract.Workers = %d, want 8", cfg.Extract.Workers)
	}
	if want := filepath.Join(home, "exports/phone.tar.xz"); cfg.Extract.Output != want {
		t.Errorf("Extract.Output = %q, want %q", cfg.Extract.Output, want)
	}
	if want := filepath.Join(home, "scratch"); cfg.Extract.TempDir != want {
		t.Errorf("Extract.TempDir = %q, want %q", cfg.Extract.TempDir, want)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoadClampsWorkers(t *testing.T) {
	tests := []struct {
		content string
		want    int
	}{
		{"[extract]\nworkers = 0\n", 4},
		{"[extract]\nworkers = -3\n", 4},
		{"[extract]\nworkers = 1\n", 1},
		{"[extract]\nworkers = 1000\n", MaxWorkers},
	}
	for _, tt := range tests {
		homeDir := t.TempDir()
		if err := os.WriteFile(filepath.Join(homeDir, "config.toml"), []byte(tt.content), 0o644); err != nil {
			t.Fatalf("failed to write config file: %v", err)
		}
		cfg, err := Load("", homeDir)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Extract.Workers != tt.want {
			t.Errorf("%q: Workers = %d, want %d", tt.content, cfg.Extract.Workers, tt.want)
		}
	}
}

func TestLoadExplicitPathNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml", "")
	if err == nil {
		t.Fatal("Load with explicit nonexistent path should return error")
	}
	if got := err.Error(); !strings.Contains(got, "config file not found") {
		t.Errorf("error = %q, want it to contain %q", got, "config file not found")
	}
}

func TestLoadExplicitPathDerivedHomeDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte("[extract]\nworkers = 2\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath, "")
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", configPath, err)
	}
	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if cfg.ConfigFilePath() != configPath {
		t.Errorf("ConfigFilePath() = %q, want %q", cfg.ConfigFilePath(), configPath)
	}
	if cfg.Extract.Workers != 2 {
		t.Errorf("Extract.Workers = %d, want 2", cfg.Extract.Workers)
	}
}

func TestLoadWithHomeDirExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	cfg, err := Load("", "~/custom-smsvault")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	expected := filepath.Join(home, "custom-smsvault")
	if cfg.HomeDir != expected {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, expected)
	}
}

func TestLoadUnknownKeysIgnored(t *testing.T) {
	homeDir := t.TempDir()
	content := "[extract]\nregion = \"DE\"\n\n[server]\napi_port = 9090\n"
	if err := os.WriteFile(filepath.Join(homeDir, "config.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load("", homeDir)
	if err != nil {
		t.Fatalf("Load should ignore unknown tables, got: %v", err)
	}
	if cfg.Extract.Region != "DE" {
		t.Errorf("Extract.Region = %q, want DE", cfg.Extract.Region)
	}
}

func TestLoadBackslashErrorHint(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "invalid escape (backslash G)",
			content: "[extract]\ntemp_dir = \"C:\\Games\\smsvault\"\n",
		},
		{
			name:    "unicode escape (backslash U)",
			content: "[extract]\ntemp_dir = \"C:\\Users\\me\\smsvault\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			homeDir := t.TempDir()
			if err := os.WriteFile(filepath.Join(homeDir, "config.toml"), []byte(tt.content), 0o644); err != nil {
				t.Fatalf("failed to write config file: %v", err)
			}

			_, err := Load("", homeDir)
			if err == nil {
				t.Fatal("Load should fail on TOML backslash error")
			}

			errMsg := err.Error()
			for _, want := range []string{"hint:", "forward slashes", "single quotes"} {
				if !strings.Contains(errMsg, want) {
					t.Errorf("error should contain %q, got: %s", want, errMsg)
				}
			}
		})
	}
}

func TestDefaultHomeExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	t.Setenv("SMSVAULT_HOME", "~/.smsvault")
	if got, want := DefaultHome(), filepath.Join(home, ".smsvault"); got != want {
		t.Errorf("DefaultHome() = %q, want %q", got, want)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"~", home},
		{"~/foo", filepath.Join(home, "foo")},
		{"~/", home},
		{"~user", "~user"},
		{"~//foo", filepath.Join(home, "foo")},
		{"relative/path", "relative/path"},
	}
	for _, tt := range tests {
		if got := expandPath(tt.input); got != tt.expected {
			t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

// assertTempDirSecured checks that a temp dir has permissions no more
// permissive than 0700. This is umask-tolerant (stricter is fine).
func assertTempDirSecured(t *testing.T, dir string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		return // Windows uses DACLs, not Unix permission bits
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat temp dir: %v", err)
	}
	got := info.Mode().Perm()
	if got&^os.FileMode(0700) != 0 {
		t.Errorf("temp dir perm = %04o, has bits beyond 0700 (extra: %04o)", got, got&^0700)
	}
}

func TestMkTempDir(t *testing.T) {
	t.Run("uses system temp when no preferred dirs", func(t *testing.T) {
		dir, err := MkTempDir("test-*")
		if err != nil {
			t.Fatalf("MkTempDir failed: %v", err)
		}
		defer os.RemoveAll(dir)
		assertTempDirSecured(t, dir)
	})

	t.Run("uses preferred dir when available", func(t *testing.T) {
		preferred := t.TempDir()
		dir, err := MkTempDir("test-*", preferred)
		if err != nil {
			t.Fatalf("MkTempDir failed: %v", err)
		}
		defer os.RemoveAll(dir)

		if !strings.HasPrefix(dir, preferred) {
			t.Errorf("temp dir %q not under preferred %q", dir, preferred)
		}
		assertTempDirSecured(t, dir)
	})

	t.Run("falls back to system temp when preferred dir is inaccessible", func(t *testing.T) {
		dir, err := MkTempDir("test-*", "", "/nonexistent-dir-that-does-not-exist")
		if err != nil {
			t.Fatalf("MkTempDir failed: %v", err)
		}
		defer os.RemoveAll(dir)

		if strings.Contains(dir, "nonexistent") {
			t.Errorf("should not have used nonexistent dir, got %q", dir)
		}
	})

	t.Run("falls back to smsvault home when system temp is unavailable", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("cannot make system temp dir unwritable on Windows")
		}

		restrictedTmp := t.TempDir()
		if err := os.Chmod(restrictedTmp, 0o500); err != nil {
			t.Fatalf("chmod failed: %v", err)
		}
		t.Cleanup(func() { _ = os.Chmod(restrictedTmp, 0o700) })

		// Root and some ACL configurations can still write to 0500 directories.
		probe, probeErr := os.MkdirTemp(restrictedTmp, "probe-*")
		if probeErr == nil {
			os.Remove(probe)
			t.Skip("chmod 0500 did not restrict writes (running as root or permissive ACLs)")
		}

		home := t.TempDir()
		t.Setenv("TMPDIR", restrictedTmp)
		t.Setenv("SMSVAULT_HOME", home)

		dir, err := MkTempDir("test-*")
		if err != nil {
			t.Fatalf("MkTempDir failed: %v", err)
		}
		defer os.RemoveAll(dir)

		expectedBase := filepath.Join(home, "tmp")
		if !strings.HasPrefix(dir, expectedBase) {
			t.Errorf("temp dir %q not under fallback %q", dir, expectedBase)
		}
		assertTempDirSecured(t, expectedBase)
		assertTempDirSecured(t, dir)
	})
}
