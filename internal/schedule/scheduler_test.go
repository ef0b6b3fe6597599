package schedule

import (
	"path/filepath"
	"testing"
)

func TestValidateExpr(t *testing.T) {
	if err := ValidateExpr("*/5 * * * *"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := ValidateExpr("not a cron"); err == nil {
		t.Error("invalid expression accepted")
	}
}

func TestJobs_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cron.json")

	jobs := []Job{
		{ID: "a1", AgentID: "default", UserID: "alice", Message: "check mail", Schedule: "0 9 * * *"},
		{ID: "b2", AgentID: "default", UserID: "bob", Message: "tidy up", Schedule: "*/10 * * * *", Disabled: true},
	}
	if err := SaveJobs(path, jobs); err != nil {
		t.Fatalf("SaveJobs: %v", err)
	}

	loaded, err := LoadJobs(path)
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d jobs, want 2", len(loaded))
	}
	if loaded[0].ID != "a1" || loaded[1].Disabled != true {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestJobs_LoadMissingIsEmpty(t *testing.T) {
	jobs, err := LoadJobs(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("LoadJobs: %v", err)
	}
	if jobs != nil {
		t.Errorf("jobs = %v, want nil", jobs)
	}
}
