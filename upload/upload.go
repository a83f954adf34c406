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

// Package upload validates user supplied JSON datasets and adds them to a data
// directory and its registry.
package upload

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"unicode/utf8"

	"github.com/wheresmyhair/LLaMA-Factory-localsft/registry"
)

const datasetExt = ".json"

var validName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// RequiredKeys are the keys every element of a dataset must have.
var RequiredKeys = []string{"instruction", "output"} //nolint:gochecknoglobals

// Store is the registry an Uploader adds datasets to. *registry.Registry
// satisfies it.
type Store interface {
	// Dir is the data directory dataset files are moved to.
	Dir() string

	// Update runs cb on the loaded registry while holding an exclusive lock,
	// then saves it if cb returned nil.
	Update(cb func(registry.Datasets) error) error
}

// Uploader adds datasets to a registry's data directory.
type Uploader struct {
	reg Store
}

// New returns an Uploader that stores datasets alongside the given registry.
func New(reg Store) *Uploader {
	return &Uploader{reg: reg}
}

// Upload validates the given name and the JSON file at srcPath, then moves the
// file to <data dir>/<name>.json and registers it under name. It returns the
// dataset's new path.
//
// Checks are made in this order, stopping at the first failure: name is not
// blank (ErrEmptyName); name matches ^[A-Za-z][A-Za-z0-9_]*$ (ErrInvalidName);
// name isn't already a non-ranking dataset (ErrDuplicateName); the file is
// JSON (*JSONError) holding a list of objects that all have RequiredKeys
// (*SchemaError). Any other failure is returned as an *IOError.
//
// The registry stays locked from the duplicate check until it has been
// rewritten. An unregistered file already at <data dir>/<name>.json is
// replaced. If rewriting the registry fails, the file is moved back to srcPath
// and any replaced file is put back.
func (u *Uploader) Upload(srcPath, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	dst := filepath.Join(u.reg.Dir(), name+datasetExt)
	p := &placement{src: srcPath, dst: dst}

	err := u.reg.Update(func(ds registry.Datasets) error {
		if ds.Exists(name) {
			return ErrDuplicateName
		}

		if err := ValidateFile(srcPath); err != nil {
			return err
		}

		if err := p.place(); err != nil {
			return ioError("move", err)
		}

		ds[name] = registry.NewDataset(name + datasetExt)

		return nil
	})

	switch {
	case err == nil:
		p.commit()

		return dst, nil
	case p.moved:
		return "", ioError("register", p.rollback(err))
	case IsValidationError(err):
		return "", err
	}

	return "", ioError("register", err)
}

// ValidateName checks that name is non-blank and made only of letters, digits
// and underscores, starting with a letter.
func ValidateName(name string) error {
	if name == "" {
		return ErrEmptyName
	}

	if !validName.MatchString(name) {
		return ErrInvalidName
	}

	return nil
}

// ValidateFile checks that the file at path is a JSON list of objects, each of
// which has all the RequiredKeys.
func ValidateFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return ioError("read", err)
	}

	return ValidateContent(b)
}

// ValidateContent is like ValidateFile, but takes the JSON content directly.
// Content that is not valid UTF-8 is rejected as malformed JSON.
func ValidateContent(b []byte) error {
	if !utf8.Valid(b) {
		return &JSONError{Err: ErrInvalidUTF8}
	}

	var root any

	if err := json.Unmarshal(b, &root); err != nil {
		return &JSONError{Err: err}
	}

	list, ok := root.([]any)
	if !ok {
		return &SchemaError{Kind: ErrNotList, Index: -1}
	}

	for i, element := range list {
		obj, ok := element.(map[string]any)
		if !ok {
			return &SchemaError{Kind: ErrElementNotObject, Index: i}
		}

		if missing := missingKeys(obj); len(missing) > 0 {
			return &SchemaError{Kind: ErrMissingKeys, Index: i, Missing: missing}
		}
	}

	return nil
}

func missingKeys(obj map[string]any) []string {
	var missing []string

	for _, key := range RequiredKeys {
		if _, ok := obj[key]; !ok {
			missing = append(missing, key)
		}
	}

	return missing
}
