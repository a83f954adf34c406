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

package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wheresmyhair/LLaMA-Factory-localsft/registry"
	"github.com/wheresmyhair/LLaMA-Factory-localsft/upload"
	gas "github.com/wtsi-hgi/go-authserver"
)

const (
	ErrNoFile      = gas.Error("a dataset file is required")
	ErrNotJSONFile = gas.Error("dataset file must have a .json extension")
	ErrTooLarge    = gas.Error("dataset file is too large")

	formFieldFile = "file"
	formFieldName = "name"
	jsonExt       = ".json"
)

// UploadConfig configures EnableUploads().
type UploadConfig struct {
	// DataDir is where datasets and the registry are stored.
	DataDir string

	// RegistryName is the basename of the registry file in DataDir. Defaults
	// to registry.DefaultFileName.
	RegistryName string

	// MaxSize is the largest dataset file in bytes that will be accepted. Zero
	// means no limit.
	MaxSize int64

	// Lang is the language of the messages returned to the user.
	Lang upload.Lang

	// TmpDir is where a new directory is made to store uploaded files until
	// they have been validated. Defaults to the system temp dir. The new
	// directory is removed when the server is stopped or closed.
	TmpDir string
}

// UploadResult is the JSON response to a POST to the upload endpoint.
type UploadResult struct {
	Dataset string `json:"dataset"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
	Kind    string `json:"kind"`
}

// EnableUploads adds the upload tab at / and the following endpoints to the
// REST API:
//
// POST /rest/v1/upload: a multipart form with a "file" (a .json dataset) and a
// "name" for it. Responds with an UploadResult, with status 200 when the
// dataset was added, 400 when the input was rejected and 500 for other
// failures.
//
// GET /rest/v1/datasets: the registered datasets as a list of
// registry.Entry. Ranking datasets are included if the "ranking" parameter is
// true.
//
// If you call EnableAuth() first, then these endpoints will be secured and be
// available at /rest/v1/auth/*.
func (s *Server) EnableUploads(cfg UploadConfig) error {
	tmpDir, err := os.MkdirTemp(cfg.TmpDir, "localsft-uploads")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reg = registry.Open(cfg.DataDir, cfg.RegistryName)
	s.uploader = upload.New(s.reg)
	s.maxUploadSize = cfg.MaxSize
	s.tmpDir = tmpDir

	if cfg.Lang != "" {
		s.lang = cfg.Lang
	}

	s.Router().GET("/", gin.WrapH(index))

	authGroup := s.AuthRouter()

	if authGroup == nil {
		s.Router().POST(EndPointUpload, s.postUpload)
		s.Router().GET(EndPointDatasets, s.getDatasets)
	} else {
		authGroup.POST(uploadPath, s.postUpload)
		authGroup.GET(datasetsPath, s.getDatasets)
	}

	return nil
}

// postUpload handles a POST on /rest/v1/upload or /rest/v1/auth/upload.
func (s *Server) postUpload(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.handleUpload(c)

	s.recordUpload(c, result)

	c.JSON(statusForKind(result.Kind), result)
}

func (s *Server) handleUpload(c *gin.Context) *UploadResult {
	name := c.PostForm(formFieldName)

	if err := upload.ValidateName(name); err != nil {
		return s.newUploadResult(name, "", err)
	}

	if s.isDuplicate(name) {
		return s.newUploadResult(name, "", upload.ErrDuplicateName)
	}

	tmp, err := s.saveUploadedFile(c)
	if err != nil {
		return s.newUploadResult(name, "", err)
	}

	defer os.Remove(tmp)

	path, err := s.uploader.Upload(tmp, name)
	if err != nil {
		s.Logger.Printf("upload of dataset %q failed: %s", name, err)
	}

	return s.newUploadResult(name, path, err)
}

// isDuplicate reports whether name is already a registered dataset, so that
// is reported before any problem with the file. Upload() checks again under
// the registry lock.
func (s *Server) isDuplicate(name string) bool {
	ds, err := s.reg.Load()

	return err == nil && ds.Exists(name)
}

// saveUploadedFile stores the form's file in our temp dir under a unique name,
// returning its path.
func (s *Server) saveUploadedFile(c *gin.Context) (string, error) {
	fh, err := c.FormFile(formFieldFile)
	if err != nil {
		return "", ErrNoFile
	}

	if !strings.EqualFold(filepath.Ext(fh.Filename), jsonExt) {
		return "", ErrNotJSONFile
	}

	if s.maxUploadSize > 0 && fh.Size > s.maxUploadSize {
		return "", ErrTooLarge
	}

	tmp := filepath.Join(s.tmpDir, uuid.NewString()+jsonExt)

	if err = c.SaveUploadedFile(fh, tmp); err != nil {
		return "", &upload.IOError{Op: "save", Err: err}
	}

	return tmp, nil
}

func (s *Server) newUploadResult(name, path string, err error) *UploadResult {
	return &UploadResult{
		Dataset: name,
		Message: upload.Message(s.lang, path, err),
		Path:    path,
		Kind:    kindOf(err),
	}
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, ErrNoFile):
		return "no_file"
	case errors.Is(err, ErrNotJSONFile):
		return "not_json_file"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	}

	return upload.Kind(err)
}

func statusForKind(kind string) int {
	switch kind {
	case "ok":
		return http.StatusOK
	case "io":
		return http.StatusInternalServerError
	case "too_large":
		return http.StatusRequestEntityTooLarge
	}

	return http.StatusBadRequest
}

// getDatasets handles a GET on /rest/v1/datasets or /rest/v1/auth/datasets.
func (s *Server) getDatasets(c *gin.Context) {
	includeRanking, _ := strconv.ParseBool(c.Query("ranking"))

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.reg.List(includeRanking)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err) //nolint:errcheck

		return
	}

	c.IndentedJSON(http.StatusOK, entries)
}
