package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
)

func TestLoad_Defaults(t *testing.T) {
	s, err := Load("", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.Log.Level != "info" {
		t.Errorf("log.level = %q, want info", s.Log.Level)
	}
	if s.Monitor.WaitThreshold != 30*time.Minute {
		t.Errorf("wait_threshold = %s, want 30m", s.Monitor.WaitThreshold)
	}
	if s.Monitor.BackoffDelay != 30*time.Second {
		t.Errorf("backoff_delay = %s, want 30s", s.Monitor.BackoffDelay)
	}
	if s.Model.Seed != -1 {
		t.Errorf("seed = %d, want -1", s.Model.Seed)
	}
	if s.Model.MaxDomainLength != 1 {
		t.Errorf("max_domain_length = %d, want 1", s.Model.MaxDomainLength)
	}
	if err := Validate(s); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autoflair.yaml")
	content := `
log:
  level: debug
reddit:
  subreddit: golang
  client_id: file-id
data:
  posts_to_extract: 250
monitor:
  wait_threshold: 10m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AUTOFLAIR_REDDIT_CLIENT_ID", "env-id")
	t.Setenv("AUTOFLAIR_REDDIT_PASSWORD", "hunter2")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("subreddit", "", "")
	flags.Duration("wait-threshold", 0, "")
	if err := flags.Parse([]string{"--subreddit", "rust"}); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path, flags)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if s.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug from file", s.Log.Level)
	}
	if s.Reddit.ClientID != "env-id" {
		t.Errorf("client_id = %q, env should override file", s.Reddit.ClientID)
	}
	if s.Reddit.Password != "hunter2" {
		t.Errorf("password = %q, want env value", s.Reddit.Password)
	}
	if s.Reddit.Subreddit != "rust" {
		t.Errorf("subreddit = %q, flag should override file", s.Reddit.Subreddit)
	}
	// An unset flag does not shadow the file value.
	if s.Monitor.WaitThreshold != 10*time.Minute {
		t.Errorf("wait_threshold = %s, want 10m", s.Monitor.WaitThreshold)
	}
	if s.Data.PostsToExtract != 250 {
		t.Errorf("posts_to_extract = %d, want 250", s.Data.PostsToExtract)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("Load error = %v, want ErrInvalidConfig", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{"bad log level", func(s *Settings) { s.Log.Level = "loud" }, "log.level"},
		{"zero title length", func(s *Settings) { s.Model.MaxTitleLength = 0 }, "max lengths"},
		{"negative wait", func(s *Settings) { s.Monitor.WaitThreshold = -time.Second }, "wait_threshold"},
		{"zero backoff", func(s *Settings) { s.Monitor.BackoffDelay = 0 }, "backoff_delay"},
		{"accuracy above one", func(s *Settings) { s.Model.MinAccuracy = 1.5 }, "min_accuracy"},
		{"no posts", func(s *Settings) { s.Data.PostsToExtract = 0 }, "posts_to_extract"},
		{"zero smoothing", func(s *Settings) { s.Model.Smoothing = 0 }, "smoothing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Load("", nil)
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(s)

			err = Validate(s)
			if !errors.Is(err, internalerr.ErrInvalidConfig) {
				t.Fatalf("Validate error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateReddit(t *testing.T) {
	s, _ := Load("", nil)
	if err := ValidateReddit(s); !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("missing subreddit should fail, got %v", err)
	}

	s.Reddit.Subreddit = "golang"
	s.Reddit.ClientID = "id"
	s.Reddit.ClientSecret = "secret"
	s.Reddit.Username = "bot"
	s.Reddit.Password = "pw"
	if err := ValidateReddit(s); err != nil {
		t.Errorf("complete settings should validate: %v", err)
	}
}

func TestLogFieldsMasksSecrets(t *testing.T) {
	s, _ := Load("", nil)
	s.Reddit.Password = "hunter2"
	s.Reddit.ClientSecret = "shh"
	for _, f := range LogFields(s) {
		if f.String == "hunter2" || f.String == "shh" {
			t.Errorf("field %s leaks a secret", f.Key)
		}
	}
}
