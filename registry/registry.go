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

// Package registry reads and writes the dataset_info.json catalogue that maps
// dataset names to the files holding them.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/alexflint/go-filemutex"
)

const (
	// DefaultFileName is the basename of the registry file within a data
	// directory.
	DefaultFileName = "dataset_info.json"

	lockSuffix = ".lock"
	dirPerms   = 0750
	filePerms  = 0644
	indent     = "    "

	keyFileName = "file_name"
	keyRanking  = "ranking"
)

// Error is the custom error type for the registry package.
type Error string

const (
	// ErrNotObject is returned when the registry file does not hold a JSON
	// object at its root.
	ErrNotObject = Error("registry is not a JSON object")
)

func (e Error) Error() string { return string(e) }

// Registry gives locked access to a registry file.
type Registry struct {
	dir  string
	path string
	mu   sync.Mutex
}

// Open returns a Registry for the file with the given basename in dataDir. If
// name is blank, DefaultFileName is used. Nothing is read until you call Load()
// or Update().
//
// Update() creates a hidden lock file named .<name>.lock in dataDir, which
// remains there afterwards.
func Open(dataDir, name string) *Registry {
	if name == "" {
		name = DefaultFileName
	}

	return &Registry{
		dir:  dataDir,
		path: filepath.Join(dataDir, name),
	}
}

// Dir returns the data directory the registry lives in.
func (r *Registry) Dir() string {
	return r.dir
}

// Path returns the path to the registry file.
func (r *Registry) Path() string {
	return r.path
}

// Load reads the whole registry. A missing registry file is treated as an
// empty registry.
func (r *Registry) Load() (Datasets, error) {
	ds, _, err := r.load()

	return ds, err
}

// load is like Load, but also returns the dataset names in the order they
// appear in the file.
func (r *Registry) load() (Datasets, []string, error) {
	b, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return make(Datasets), nil, nil
	} else if err != nil {
		return nil, nil, err
	}

	return decode(b)
}

func decode(b []byte) (Datasets, []string, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return make(Datasets), nil, nil
	}

	var ds Datasets

	if err := json.Unmarshal(b, &ds); err != nil {
		return nil, nil, err
	}

	if ds == nil {
		return nil, nil, ErrNotObject
	}

	order, err := objectKeys(b)
	if err != nil {
		return nil, nil, err
	}

	return ds, order, nil
}

// objectKeys returns the keys of the JSON object in b in the order they first
// appear.
func objectKeys(b []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(b))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	if tok != json.Delim('{') {
		return nil, ErrNotObject
	}

	var keys []string

	seen := make(map[string]bool)

	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return nil, err
		}

		key, _ := tok.(string)

		var value json.RawMessage

		if err = dec.Decode(&value); err != nil {
			return nil, err
		}

		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// Update locks the registry against other Updates in this and other
// processes, loads it, passes it to cb for modification and then rewrites the
// whole file with the result. Datasets keep their place in the file, and
// datasets added by cb are written after them, sorted by name. Keys within each
// dataset keep their order too.
//
// If cb returns an error, the file is left untouched and that error is
// returned.
func (r *Registry) Update(cb func(Datasets) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.dir, dirPerms); err != nil {
		return err
	}

	lock, err := filemutex.New(r.lockPath())
	if err != nil {
		return err
	}

	defer lock.Close()

	if err = lock.Lock(); err != nil {
		return err
	}

	defer lock.Unlock() //nolint:errcheck

	ds, order, err := r.load()
	if err != nil {
		return err
	}

	if err = cb(ds); err != nil {
		return err
	}

	return r.save(ds, order)
}

// lockPath is the hidden file alongside the registry that Update() locks. It
// is left in place afterwards, since removing it would let another process
// lock a new file while the old one is still held.
func (r *Registry) lockPath() string {
	return filepath.Join(r.dir, "."+filepath.Base(r.path)+lockSuffix)
}

// save writes ds to a temp file alongside the registry, then renames it over
// the registry file.
func (r *Registry) save(ds Datasets, order []string) error {
	b, err := ds.encode(order)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(r.dir, "."+filepath.Base(r.path)+".*")
	if err != nil {
		return err
	}

	tmp := f.Name()

	if err = writeAndClose(f, b); err != nil {
		os.Remove(tmp)

		return err
	}

	if err = os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
	}

	return err
}

func writeAndClose(f *os.File, b []byte) error {
	if _, err := f.Write(b); err != nil {
		f.Close()

		return err
	}

	if err := f.Chmod(filePerms); err != nil {
		f.Close()

		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return err
	}

	return f.Close()
}

// Entry describes one registered dataset, as returned by List().
type Entry struct {
	Name     string `json:"name"`
	FileName string `json:"file_name"`
	Ranking  bool   `json:"ranking"`

	// Size is the size of the dataset file in bytes, or -1 if it is missing
	// from the data directory.
	Size int64 `json:"size"`
}

// List loads the registry and returns its entries sorted by name, with the
// sizes of their files. Ranking datasets are only included if includeRanking
// is true.
func (r *Registry) List(includeRanking bool) ([]Entry, error) {
	ds, err := r.Load()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(ds))

	for _, name := range ds.Names(includeRanking) {
		d := ds[name]
		if d == nil {
			d = &Dataset{}
		}

		entries = append(entries, Entry{
			Name:     name,
			FileName: d.FileName,
			Ranking:  d.IsRanking(),
			Size:     r.fileSize(d.FileName),
		})
	}

	return entries, nil
}

func (r *Registry) fileSize(name string) int64 {
	if name == "" {
		return -1
	}

	fi, err := os.Stat(filepath.Join(r.dir, name))
	if err != nil || fi.IsDir() {
		return -1
	}

	return fi.Size()
}

// Datasets is the in-memory form of a registry: dataset name to metadata.
type Datasets map[string]*Dataset

// Exists returns true if name is registered as a non-ranking dataset.
func (ds Datasets) Exists(name string) bool {
	d, ok := ds[name]

	return ok && !d.IsRanking()
}

// Names returns the sorted dataset names, leaving out ranking datasets unless
// includeRanking is true.
func (ds Datasets) Names(includeRanking bool) []string {
	names := make([]string, 0, len(ds))

	for name, d := range ds {
		if includeRanking || !d.IsRanking() {
			names = append(names, name)
		}
	}

	slices.Sort(names)

	return names
}

// ordered returns every name in ds, with those in order first and in that
// order, followed by the rest sorted.
func (ds Datasets) ordered(order []string) []string {
	names := make([]string, 0, len(ds))
	seen := make(map[string]bool, len(ds))

	for _, name := range order {
		if _, ok := ds[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}

	added := make([]string, 0, len(ds)-len(names))

	for name := range ds {
		if !seen[name] {
			added = append(added, name)
		}
	}

	slices.Sort(added)

	return append(names, added...)
}

func (ds Datasets) encode(order []string) ([]byte, error) {
	obj, err := encodeObject(ds.ordered(order), func(name string) ([]byte, error) {
		return marshalUnescaped(ds[name])
	})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	if err = json.Indent(&buf, obj, "", indent); err != nil {
		return nil, err
	}

	buf.WriteByte('\n')

	return buf.Bytes(), nil
}

// encodeObject returns a compact JSON object with the given keys in order,
// taking each value from val.
func encodeObject(keys []string, val func(string) ([]byte, error)) ([]byte, error) {
	buf := []byte{'{'}

	for i, key := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}

		k, err := marshalUnescaped(key)
		if err != nil {
			return nil, err
		}

		v, err := val(key)
		if err != nil {
			return nil, err
		}

		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}

	return append(buf, '}'), nil
}

// Dataset is the metadata record for one dataset. Keys other than file_name
// are kept as they were read, so that rewriting a registry does not lose
// information added by other tools.
type Dataset struct {
	FileName string

	extra map[string]json.RawMessage
	keys  []string
}

// NewDataset returns a Dataset stored in the given file.
func NewDataset(fileName string) *Dataset {
	return &Dataset{FileName: fileName}
}

// IsRanking returns true if the dataset holds paired (ranking) data. Any
// present ranking value other than false or 0 counts as ranking.
func (d *Dataset) IsRanking() bool {
	if d == nil {
		return false
	}

	raw, ok := d.extra[keyRanking]
	if !ok {
		return false
	}

	var v any

	if err := json.Unmarshal(raw, &v); err != nil {
		return true
	}

	switch v := v.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	}

	return true
}

// SetRanking sets the ranking flag.
func (d *Dataset) SetRanking(ranking bool) {
	if d.extra == nil {
		d.extra = make(map[string]json.RawMessage)
	}

	d.extra[keyRanking] = json.RawMessage("false")

	if ranking {
		d.extra[keyRanking] = json.RawMessage("true")
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Dataset) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage

	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	keys, err := objectKeys(b)
	if err != nil {
		return err
	}

	if fn, ok := raw[keyFileName]; ok {
		if err := json.Unmarshal(fn, &d.FileName); err != nil {
			return err
		}

		delete(raw, keyFileName)
	}

	d.extra = raw
	d.keys = keys

	return nil
}

// MarshalJSON implements json.Marshaler.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	return encodeObject(d.orderedKeys(), func(key string) ([]byte, error) {
		if key == keyFileName {
			return marshalUnescaped(d.FileName)
		}

		return d.extra[key], nil
	})
}

// orderedKeys returns file_name and the other keys in the order they were
// read, followed by any keys set since, sorted. A new Dataset's file_name
// comes first.
func (d *Dataset) orderedKeys() []string {
	keys := make([]string, 0, len(d.extra)+1)
	seen := make(map[string]bool, len(d.extra)+1)

	if !slices.Contains(d.keys, keyFileName) {
		keys = append(keys, keyFileName)
		seen[keyFileName] = true
	}

	for _, key := range d.keys {
		_, ok := d.extra[key]
		if seen[key] || (!ok && key != keyFileName) {
			continue
		}

		seen[key] = true
		keys = append(keys, key)
	}

	added := make([]string, 0, len(d.extra))

	for key := range d.extra {
		if !seen[key] {
			added = append(added, key)
		}
	}

	slices.Sort(added)

	return append(keys, added...)
}

func marshalUnescaped(v any) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
