// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const coverProfile = "coverage.out"

// Test groups test targets.
type Test mg.Namespace

// All runs every test with the race detector.
func (Test) All() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// Unit runs tests in short mode.
func (Test) Unit() error {
	return sh.RunV(binGo, "test", "-short", "./...")
}

// Cover writes coverage.out and prints per-function coverage.
func (Test) Cover() error {
	if err := sh.RunV(binGo, "test", "-coverprofile="+coverProfile, "./..."); err != nil {
		return err
	}
	return sh.RunV(binGo, "tool", "cover", "-func="+coverProfile)
}

// Postgres runs the sqlstore tests against the database started by
// services:up. METASHELF_TEST_POSTGRES_DSN is exported for the test run.
func (Test) Postgres() error {
	mg.Deps(Services.Up)
	env := map[string]string{"METASHELF_TEST_POSTGRES_DSN": postgresDSN}
	fmt.Fprintln(os.Stderr, "Running sqlstore tests against", postgresDSN)
	return sh.RunWithV(env, binGo, "test", "-count=1", "./internal/sqlstore/...")
}
