//go:build mage

package main

import (
	"bufio"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// pkgStats counts Go source lines and test functions in one directory.
type pkgStats struct {
	Dir       string `json:"dir"`
	Lines     int    `json:"go_loc_prod"`
	TestLines int    `json:"go_loc_test"`
	Tests     int    `json:"tests"`
}

// Stats prints one JSON line per package directory, then a total line.
func Stats() error {
	byDir := make(map[string]*pkgStats)
	err := filepath.WalkDir(".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != "." && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == binaryDir || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".go" {
			return nil
		}
		dir := filepath.Dir(path)
		st := byDir[dir]
		if st == nil {
			st = &pkgStats{Dir: dir}
			byDir[dir] = st
		}
		return st.add(path)
	})
	if err != nil {
		return err
	}

	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	slices.Sort(dirs)
	enc := json.NewEncoder(os.Stdout)
	total := pkgStats{Dir: "total"}
	for _, dir := range dirs {
		st := byDir[dir]
		total.Lines += st.Lines
		total.TestLines += st.TestLines
		total.Tests += st.Tests
		if err := enc.Encode(st); err != nil {
			return err
		}
	}
	return enc.Encode(total)
}

func (st *pkgStats) add(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	isTest := strings.HasSuffix(path, "_test.go")
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if !isTest {
			st.Lines++
			continue
		}
		st.TestLines++
		if strings.HasPrefix(sc.Text(), "func Test") {
			st.Tests++
		}
	}
	return sc.Err()
}
