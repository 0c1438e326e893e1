package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/testmaster/testmaster/internal/client"
	"github.com/testmaster/testmaster/internal/history"
	"github.com/testmaster/testmaster/internal/ledger"
	"github.com/testmaster/testmaster/internal/script"
	"github.com/testmaster/testmaster/internal/server"
	"github.com/testmaster/testmaster/internal/store"
	"github.com/testmaster/testmaster/internal/testutil"
)

const recordJSON = `{
	"metadata": {
		"Script Name": "smoke",
		"Operator Name": "alex",
		"Date/Time": "2026-10-14 09:30:00",
		"Unit Index": 2,
		"Device Serial No.": "SN-002",
		"Additional Comments": "reworked"
	},
	"results": [
		{"message type": "new test", "test name": "Power/Voltage", "result type": "number", "expected range": [3.1, 3.5], "result unit": "V"},
		{"message type": "test end", "test name": "Power/Voltage", "result type": "number", "result": 3.3, "pass": "true"},
		{"message type": "new test", "test name": "Radio/Sweep", "result type": "vector", "result unit": ["s", "dBm"]},
		{"message type": "update", "test name": "Radio/Sweep", "result type": "vector", "result": [1, 2]},
		{"message type": "test end", "test name": "Radio/Sweep", "result type": "vector", "pass": false}
	]
}`

func assertContains(t *testing.T, output string, expectations ...string) {
	t.Helper()
	for _, expected := range expectations {
		if !strings.Contains(output, expected) {
			t.Errorf("output missing expected content: %s\n\nGot:\n%s", expected, output)
		}
	}
}

func saveRecord(t *testing.T, s store.Store) *store.Run {
	t.Helper()
	rec, err := history.Decode([]byte(recordJSON))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	run := history.ToRun(rec)
	run.CreatedAt = time.Date(2026, 10, 14, 9, 30, 0, 0, time.Local)
	saved, err := s.SaveRun(context.Background(), run)
	if err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	return saved
}

func TestListScripts(t *testing.T) {
	dir := testutil.WriteScripts(t, map[string]string{
		"smoke":  testutil.SmokeScript,
		"broken": "tests: [",
	})

	var buf bytes.Buffer
	if err := listScripts(script.NewRegistry(dir), &buf); err != nil {
		t.Fatalf("listScripts failed: %v", err)
	}
	assertContains(t, buf.String(), "NAME", "MAX UNITS", "smoke", "broken", "invalid")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), buf.String())
	}
	if fields := strings.Fields(lines[2]); fields[1] != "3" || fields[2] != "3" {
		t.Errorf("smoke row = %v, want 3 units and 3 tests", fields)
	}
}

func TestListScripts_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := listScripts(script.NewRegistry(filepath.Join(t.TempDir(), "none")), &buf); err != nil {
		t.Fatalf("listScripts failed: %v", err)
	}
	assertContains(t, buf.String(), "No scripts in")
}

func TestPrintTree(t *testing.T) {
	dir := testutil.WriteScripts(t, map[string]string{"smoke": testutil.SmokeScript})
	s, err := script.NewRegistry(dir).Get("smoke")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	var buf bytes.Buffer
	printTree(&buf, s.Tree().Roots(), 0)

	want := "Power\n  Voltage\n  Current\nRadio\n  Sweep\n"
	if buf.String() != want {
		t.Errorf("tree = %q, want %q", buf.String(), want)
	}
}

func TestListRuns(t *testing.T) {
	s := testutil.SetupTestStore(t)
	ctx := context.Background()

	var buf bytes.Buffer
	if err := listRuns(ctx, s, store.RunFilter{}, &buf); err != nil {
		t.Fatalf("listRuns failed: %v", err)
	}
	assertContains(t, buf.String(), "No runs yet.")

	run := saveRecord(t, s)
	buf.Reset()
	if err := listRuns(ctx, s, store.RunFilter{ScriptName: "smoke"}, &buf); err != nil {
		t.Fatalf("listRuns failed: %v", err)
	}
	assertContains(t, buf.String(), run.ID, "SN-002", "alex", "2026-10-14 09:30:00")
}

func TestExportRun(t *testing.T) {
	s := testutil.SetupTestStore(t)
	run := saveRecord(t, s)
	ctx := context.Background()

	var buf bytes.Buffer
	path, err := exportRun(ctx, s, run.ID, "", &buf)
	if err != nil {
		t.Fatalf("exportRun failed: %v", err)
	}
	if path != "" {
		t.Errorf("stdout export returned path %q", path)
	}
	if _, err := loadHistory(buf.Bytes()); err != nil {
		t.Errorf("exported record does not load: %v", err)
	}

	dir := t.TempDir()
	path, err = exportRun(ctx, s, run.ID, dir, &buf)
	if err != nil {
		t.Fatalf("exportRun to dir failed: %v", err)
	}
	if want := filepath.Join(dir, "smoke_SN-002_20261014_093000_alex_unit2.json"); path != want {
		t.Errorf("path = %s, want %s", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("export file missing: %v", err)
	}

	if _, err := exportRun(ctx, s, "missing", "", &buf); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestPrintHistory(t *testing.T) {
	view, err := loadHistory([]byte(recordJSON))
	if err != nil {
		t.Fatalf("loadHistory failed: %v", err)
	}

	var buf bytes.Buffer
	if err := printHistory(&buf, view); err != nil {
		t.Fatalf("printHistory failed: %v", err)
	}
	assertContains(t, buf.String(),
		"smoke unit 2",
		"SN-002",
		"Comments: reworked",
		"Power/Voltage",
		"3.3",
		"PASS",
		"1 point(s)",
		"FAIL",
	)
}

func TestLoadHistory_Rejects(t *testing.T) {
	cases := map[string]string{
		"garbage":       `{`,
		"no metadata":   `{"results": []}`,
		"unknown pass":  strings.Replace(recordJSON, `"pass": false`, `"pass": "maybe"`, 1),
		"open vector":   strings.Replace(recordJSON, `{"message type": "test end", "test name": "Radio/Sweep", "result type": "vector", "pass": false}`, `{"message type": "update", "test name": "Radio/Sweep", "result type": "vector", "result": [2, 3]}`, 1),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadHistory([]byte(data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestUnitCountValidator(t *testing.T) {
	validate := unitCountValidator(3)
	for _, ok := range []string{"1", "3", " 2 "} {
		if err := validate(ok); err != nil {
			t.Errorf("validate(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"0", "4", "two", ""} {
		if err := validate(bad); err == nil {
			t.Errorf("validate(%q) accepted", bad)
		}
	}
}

func TestRunSession(t *testing.T) {
	dir := testutil.WriteScripts(t, map[string]string{"smoke": testutil.SmokeScript})
	srv := server.New(server.Options{
		Store:   testutil.SetupTestStore(t),
		Scripts: script.NewRegistry(dir),
		Token:   "tok",
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close(context.Background())
		ts.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := client.New(ts.URL, "tok", nil)
	src, err := c.Stream(ctx)
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	defer src.Close()

	var buf bytes.Buffer
	l, err := runSession(ctx, c, src, runOptions{
		Script:   "smoke",
		Units:    2,
		Operator: "alex",
		Serials:  []string{"SN1", "SN2"},
		Tests:    []string{"Power"},
	}, &buf)
	if err != nil {
		t.Fatalf("runSession failed: %v\n%s", err, buf.String())
	}

	if l.Len() != 4 {
		t.Errorf("ledger has %d entries, want 4", l.Len())
	}
	e, ok := l.Get(1, "Power/Current")
	if !ok || e.Status != ledger.PassFalse {
		t.Errorf("Power/Current on unit 1 = %+v", e)
	}
	assertContains(t, buf.String(),
		"Running smoke on 2 unit(s)",
		"unit 2  Power/Voltage",
		"FAIL",
		"YIELD",
	)
	if strings.Contains(buf.String(), "Radio") {
		t.Errorf("deselected test was run:\n%s", buf.String())
	}
}

func TestRunSession_UnknownTest(t *testing.T) {
	dir := testutil.WriteScripts(t, map[string]string{"smoke": testutil.SmokeScript})
	srv := server.New(server.Options{Store: testutil.SetupTestStore(t), Scripts: script.NewRegistry(dir)})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	c := client.New(ts.URL, srv.Token(), nil)
	c.SetRetryMax(0)

	var buf bytes.Buffer
	_, err := runSession(context.Background(), c, nil, runOptions{Script: "smoke", Tests: []string{"Nope"}}, &buf)
	if err == nil || !strings.Contains(err.Error(), "Nope") {
		t.Errorf("expected unknown test error, got %v", err)
	}
	if srv.Runner().Running() {
		t.Error("run started despite bad selection")
	}
}
