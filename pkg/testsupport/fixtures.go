package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-entity-manager/storage"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureYAML loads YAML test data from a fixture file and decodes it into dest.
func LoadFixtureYAML(t testing.TB, path string, dest any) {
	t.Helper()

	data := LoadFixture(t, path)
	if err := yaml.Unmarshal(data, dest); err != nil {
		t.Fatalf("failed to unmarshal YAML fixture from %s: %v", path, err)
	}
}

// ParseTables decodes a YAML document mapping table names to row lists.
// Integers are widened to int64 to match what database drivers return.
func ParseTables(data []byte) (map[string][]storage.Row, error) {
	var raw map[string][]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse tables: %w", err)
	}

	tables := make(map[string][]storage.Row, len(raw))
	for table, rows := range raw {
		for _, r := range rows {
			row := make(storage.Row, len(r))
			for k, v := range r {
				if n, ok := v.(int); ok {
					v = int64(n)
				}
				row[k] = v
			}
			tables[table] = append(tables[table], row)
		}
	}
	return tables, nil
}

// SeedFixture loads a YAML table fixture into store.
func SeedFixture(t testing.TB, store *MemoryStore, path string) {
	t.Helper()

	tables, err := ParseTables(LoadFixture(t, path))
	if err != nil {
		t.Fatalf("fixture %s: %v", path, err)
	}
	for table, rows := range tables {
		store.Seed(table, rows...)
	}
}

// FormatRequests renders requests one per line, columns in written order:
//
//	insert orders reference=A-1 customer_id=1
//	delete orders where id=3
func FormatRequests(requests []Request) []byte {
	var b strings.Builder
	for _, r := range requests {
		b.WriteString(r.Op)
		b.WriteByte(' ')
		b.WriteString(r.Table)
		for i, c := range r.Columns {
			fmt.Fprintf(&b, " %s=%v", c, r.Values[i])
		}
		if r.IDColumn != "" {
			fmt.Fprintf(&b, " where %s=%v", r.IDColumn, r.ID)
		}
		if r.Returning != "" {
			fmt.Fprintf(&b, " returning %s", r.Returning)
		}
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// FormatTables renders the rows of every table sorted by table name and
// row content, for comparing store contents with a golden file.
func FormatTables(store *MemoryStore, tables ...string) []byte {
	sort.Strings(tables)
	var b strings.Builder
	for _, table := range tables {
		lines := make([]string, 0)
		for _, row := range store.Rows(table) {
			keys := make([]string, 0, len(row))
			for k := range row {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, len(keys))
			for i, k := range keys {
				parts[i] = fmt.Sprintf("%s=%v", k, row[k])
			}
			lines = append(lines, strings.Join(parts, " "))
		}
		sort.Strings(lines)
		fmt.Fprintf(&b, "%s:\n", table)
		for _, l := range lines {
			fmt.Fprintf(&b, "  %s\n", l)
		}
	}
	return []byte(b.String())
}

// WriteGolden writes test output to a golden file.
// This should typically only be called when updating golden files.
// The path is relative to the test package directory.
func WriteGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write golden file to %s: %v", path, err)
	}
}

// CompareWithGolden compares actual data with expected data from a golden file.
// If the golden file doesn't exist, or UPDATE_GOLDEN is set, it is (re)written
// with the actual data.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	if os.Getenv("UPDATE_GOLDEN") != "" {
		WriteGolden(t, path, actual)
		return
	}

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Logf("Golden file %s does not exist, creating it", path)
			WriteGolden(t, path, actual)
			return
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}

	if string(actual) != string(expected) {
		t.Errorf("output mismatch for %s:\nExpected:\n%s\nActual:\n%s", path, expected, actual)
	}
}

// TempFile creates a temporary file with the given content, removed when
// the test ends.
func TempFile(t testing.TB, pattern string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), pattern)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath constructs a path to a golden file relative to the testdata directory.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}
