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

// Package server provides a web interface for uploading datasets, built on
// go-authserver.
package server

import (
	"database/sql"
	"io"
	"os"
	"sync"

	"github.com/wheresmyhair/LLaMA-Factory-localsft/registry"
	"github.com/wheresmyhair/LLaMA-Factory-localsft/upload"
	gas "github.com/wtsi-hgi/go-authserver"
)

const (
	uploadPath   = "/upload"
	datasetsPath = "/datasets"
	historyPath  = "/uploads"

	// EndPointUpload is the endpoint for POSTing a dataset when auth isn't
	// enabled.
	EndPointUpload = gas.EndPointREST + uploadPath

	// EndPointDatasets is the endpoint for GETting the registered datasets
	// when auth isn't enabled.
	EndPointDatasets = gas.EndPointREST + datasetsPath

	// EndPointHistory is the endpoint for GETting past upload attempts when
	// auth isn't enabled.
	EndPointHistory = gas.EndPointREST + historyPath

	// EndPointAuthUpload is the endpoint for POSTing a dataset when auth is
	// enabled.
	EndPointAuthUpload = gas.EndPointAuth + uploadPath

	// EndPointAuthDatasets is the endpoint for GETting the registered
	// datasets when auth is enabled.
	EndPointAuthDatasets = gas.EndPointAuth + datasetsPath

	// EndPointAuthHistory is the endpoint for GETting past upload attempts
	// when auth is enabled.
	EndPointAuthHistory = gas.EndPointAuth + historyPath
)

// Server is used to start a web server that provides a REST API for uploading
// datasets, and a website that uses it.
type Server struct {
	*gas.Server

	mu            sync.RWMutex
	reg           *registry.Registry
	uploader      *upload.Uploader
	lang          upload.Lang
	maxUploadSize int64
	tmpDir        string

	historyDB   *sql.DB
	historyStmt *sql.Stmt
}

// New creates a Server which can serve a REST API and website.
//
// It logs to the given io.Writer, which could for example be syslog using the
// log/syslog pkg with syslog.new(syslog.LOG_INFO, "tag").
func New(logWriter io.Writer) *Server {
	s := &Server{
		Server: gas.New(logWriter),
		lang:   upload.LangEN,
	}

	s.SetStopCallBack(s.stop)

	return s
}

// Close removes our temp files and closes the history database, as Stop() does.
// Use it when the Router() has been served without calling Start().
func (s *Server) Close() {
	s.stop()
}

// stop is called when the server is Stop()ped, cleaning up our temp files and
// closing the history database.
func (s *Server) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tmpDir != "" {
		if err := os.RemoveAll(s.tmpDir); err != nil {
			s.Logger.Printf("removing upload temp dir failed: %s", err)
		}

		s.tmpDir = ""
	}

	if s.historyDB != nil {
		if err := s.historyDB.Close(); err != nil {
			s.Logger.Printf("closing history database failed: %s", err)
		}

		s.historyDB = nil
		s.historyStmt = nil
	}
}
