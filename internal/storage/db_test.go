package db

import (
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/japanese-wolf/brain-stream/internal/core/domain"
	"github.com/japanese-wolf/brain-stream/migrations"
)

func TestLinkRowsRoundTrip(t *testing.T) {
	a := domain.NewDuplicateLink("aws-1")
	a.SecondaryIDs["blog-2"] = struct{}{}
	a.SecondaryIDs["blog-1"] = struct{}{}

	b := domain.NewDuplicateLink("gcp-1")
	b.SecondaryIDs["news-1"] = struct{}{}

	rows := linkRows([]domain.DuplicateLink{b, a})
	if len(rows) != 3 {
		t.Fatalf("linkRows() length = %d, want %d", len(rows), 3)
	}

	got := groupLinks(rows)
	if len(got) != 2 {
		t.Fatalf("groupLinks() length = %d, want %d", len(got), 2)
	}

	if got[0].PrimaryID != "aws-1" || got[1].PrimaryID != "gcp-1" {
		t.Fatalf("groupLinks() primaries = %q, %q, want aws-1, gcp-1", got[0].PrimaryID, got[1].PrimaryID)
	}

	want := []domain.ArticleID{"blog-1", "blog-2"}
	secondaries := got[0].Secondaries()

	for i := range want {
		if secondaries[i] != want[i] {
			t.Errorf("Secondaries()[%d] = %q, want %q", i, secondaries[i], want[i])
		}
	}
}

func TestLinkRowsEmpty(t *testing.T) {
	if rows := linkRows(nil); len(rows) != 0 {
		t.Errorf("linkRows(nil) = %v, want empty", rows)
	}

	if links := groupLinks(nil); len(links) != 0 {
		t.Errorf("groupLinks(nil) = %v, want empty", links)
	}
}

func TestPartitionCounts(t *testing.T) {
	assignments := map[domain.ArticleID]domain.Assignment{
		"a": domain.Clustered(1),
		"b": domain.Clustered(1),
		"c": domain.Clustered(2),
		"d": domain.Noise,
		"e": domain.Noise,
	}

	clusters, noise := partitionCounts(assignments)
	if clusters != 2 {
		t.Errorf("clusters = %d, want %d", clusters, 2)
	}

	if noise != 2 {
		t.Errorf("noise = %d, want %d", noise, 2)
	}

	ids := sortedAssignmentIDs(assignments)
	if ids[0] != "a" || ids[4] != "e" {
		t.Errorf("sortedAssignmentIDs() = %v, want a..e", ids)
	}
}

func TestSanitizeUTF8(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"plain", "plain"},
		{"bad\xffbyte", "badbyte"},
	}

	for _, tt := range tests {
		if got := SanitizeUTF8(tt.in); got != tt.want {
			t.Errorf("SanitizeUTF8(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestApplyPoolOptions(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://localhost/test")
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}

	before := cfg.MinConns

	applyPoolOptions(cfg, PoolOptions{MaxConns: 7, MaxConnLifetime: time.Minute})

	if cfg.MaxConns != 7 {
		t.Errorf("MaxConns = %d, want %d", cfg.MaxConns, 7)
	}

	if cfg.MaxConnLifetime != time.Minute {
		t.Errorf("MaxConnLifetime = %v, want %v", cfg.MaxConnLifetime, time.Minute)
	}

	if cfg.MinConns != before {
		t.Errorf("MinConns = %d, want unchanged %d", cfg.MinConns, before)
	}
}

func TestMigrationsPersistClusterCounter(t *testing.T) {
	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		t.Fatalf("Glob() error = %v", err)
	}

	found := false

	for _, name := range files {
		body, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			t.Fatalf("ReadFile(%s) error = %v", name, err)
		}

		if strings.Contains(string(body), "ADD COLUMN next_cluster_id") {
			found = true
		}
	}

	if !found {
		t.Error("no migration adds partition_versions.next_cluster_id")
	}
}
