/*******************************************************************************
 * Copyright (c) 2026 Genome Research Ltd.
 *
 * Permission is hereby granted, free of charge, to any person obtaining
 * a copy of this software and associated documentation files (the
 * "Software"), to deal in the Software without restriction, including
 * without limitation the rights to use, copy, modify, merge, publish,
 * distribute, sublicense, and/or sell copies of the Software, and to
 * permit persons to whom the Software is furnished to do so, subject to
 * the following conditions:
 *
 * The above copyright notice and this permission notice shall be included
 * in all copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND,
 * EXPRESS OR IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF
 * MERCHANTABILITY, FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.
 * IN NO EVENT SHALL THE AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY
 * CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER IN AN ACTION OF CONTRACT,
 * TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN CONNECTION WITH THE
 * SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.
 ******************************************************************************/

package upload

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/hashicorp/go-multierror"
)

const backupSuffix = ".bak"

// placement moves a dataset file into the data directory, keeping any file
// already at the destination until the move is committed or undone.
type placement struct {
	src    string
	dst    string
	backup string
	moved  bool
}

// place sets aside any existing file at dst, then moves src to dst.
func (p *placement) place() error {
	backup, err := setAside(p.dst)
	if err != nil {
		return err
	}

	p.backup = backup

	if err = moveFile(p.src, p.dst); err != nil {
		return p.restore(err)
	}

	p.moved = true

	return nil
}

// commit discards the set aside file.
func (p *placement) commit() {
	if p.backup != "" {
		os.Remove(p.backup)
	}
}

// rollback moves dst back to src and restores any set aside file, returning
// err combined with any failures doing so.
func (p *placement) rollback(err error) error {
	if rerr := moveFile(p.dst, p.src); rerr != nil {
		err = multierror.Append(err, fmt.Errorf("rollback: %w", rerr))
	}

	return p.restore(err)
}

func (p *placement) restore(err error) error {
	if p.backup == "" {
		return err
	}

	if rerr := os.Rename(p.backup, p.dst); rerr != nil {
		err = multierror.Append(err, fmt.Errorf("restore %s: %w", p.dst, rerr))
	}

	return err
}

// setAside renames the file at path to a hidden name in the same directory,
// returning that name, or blank if there was no file.
func setAside(path string) (string, error) {
	backup := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+backupSuffix)

	err := os.Rename(path, backup)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", err
	}

	return backup, nil
}

// moveFile renames src to dst, falling back to copying and removing src when
// they are on different filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !isCrossDevice(err) {
		return err
	}

	if err = copyFile(src, dst); err != nil {
		os.Remove(dst)

		return err
	}

	return os.Remove(src)
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError

	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}

	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		out.Close()

		return err
	}

	return out.Close()
}
