package config

import (
	"testing"
)

func TestLoad_CORSOrigins(t *testing.T) {
	t.Setenv("SERVER_CORS_ORIGINS", "https://postcard.example.com, https://admin.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	want := []string{"https://postcard.example.com", "https://admin.example.com"}
	if len(cfg.Server.CORSOrigins) != len(want) {
		t.Fatalf("expected %d origins, got %v", len(want), cfg.Server.CORSOrigins)
	}
	for i, origin := range want {
		if cfg.Server.CORSOrigins[i] != origin {
			t.Errorf("origin %d: expected %q, got %q", i, origin, cfg.Server.CORSOrigins[i])
		}
	}
}

func TestLoad_CORSOriginsDefaultEmpty(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if len(cfg.Server.CORSOrigins) != 0 {
		t.Fatalf("expected no default origins, got %v", cfg.Server.CORSOrigins)
	}
}

func TestSplitCSV(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a,b", 2},
		{" a , , b ", 2},
	}
	for _, c := range cases {
		if got := splitCSV(c.in); len(got) != c.want {
			t.Errorf("splitCSV(%q): expected %d parts, got %v", c.in, c.want, got)
		}
	}
}
