// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package tests provides common functions used in tests.
package tests

import (
	"errors"
	"os"
	"os/exec"
)

// writeTemp writes s to a fresh temp file and returns its path. The
// caller is responsible for removing it.
func writeTemp(s string) (path string, err error) {
	f, err := os.CreateTemp("", "diff*")
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(s); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Diff shells out to the system `diff -u` to produce a unified diff of
// two strings. ok is false only when the comparison itself could not be
// carried out (temp file or exec setup failure); a non-zero exit from
// diff just means the inputs differed and is not treated as an error.
func Diff(want, got string) (out string, ok bool) {
	wantPath, err := writeTemp(want)
	if err != nil {
		return "", false
	}
	defer os.Remove(wantPath)

	gotPath, err := writeTemp(got)
	if err != nil {
		return "", false
	}
	defer os.Remove(gotPath)

	output, err := exec.Command("diff", "-u", wantPath, gotPath).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", false
		}
	}
	return string(output), true
}
