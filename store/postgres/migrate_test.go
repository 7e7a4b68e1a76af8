package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_OrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_add_index.sql": {Data: []byte("CREATE INDEX a ON t (x);")},
		"migrations/002_jobs.sql":      {Data: []byte("CREATE TABLE t (x INT);")},
		"migrations/README.md":         {Data: []byte("ignored")},
	}
	ms, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(ms) != 2 {
		t.Fatalf("len = %d, want 2", len(ms))
	}
	if ms[0].version != 2 || ms[1].version != 10 {
		t.Errorf("versions = %d, %d; want numeric order 2, 10", ms[0].version, ms[1].version)
	}
	if ms[0].name != "002_jobs.sql" || !strings.HasPrefix(ms[0].sql, "CREATE TABLE") {
		t.Errorf("first = %+v", ms[0])
	}
}

func TestLoadMigrations_Rejects(t *testing.T) {
	tests := []struct {
		name string
		fsys fstest.MapFS
		want string
	}{
		{
			"no version",
			fstest.MapFS{"migrations/init.sql": {Data: []byte("")}},
			"positive version",
		},
		{
			"zero version",
			fstest.MapFS{"migrations/000_init.sql": {Data: []byte("")}},
			"positive version",
		},
		{
			"duplicate version",
			fstest.MapFS{
				"migrations/001_a.sql": {Data: []byte("")},
				"migrations/001_b.sql": {Data: []byte("")},
			},
			"share version 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadMigrations(tt.fsys)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	ms, err := loadMigrations(migrationsFS)
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(ms) == 0 || ms[0].version != 1 {
		t.Fatalf("embedded migrations = %+v", ms)
	}
	for _, table := range []string{"conductor_jobs", "conductor_deliveries"} {
		if !strings.Contains(ms[0].sql, table) {
			t.Errorf("first migration does not create %s", table)
		}
	}
	latest, err := latestVersion()
	if err != nil || latest != ms[len(ms)-1].version {
		t.Errorf("latestVersion = %d, %v", latest, err)
	}
}
