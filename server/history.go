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
	"database/sql"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" //
	gas "github.com/wtsi-hgi/go-authserver"
)

const ErrBadHistoryQuery = gas.Error("bad query; check since and until")

// UploadEvent records one upload attempt.
type UploadEvent struct {
	ID      string `json:"id"`
	User    string `json:"user"`
	Dataset string `json:"dataset"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Time    int64  `json:"time"`
}

// InitHistoryDB opens (creating if necessary) the sqlite database at dbPath
// and records every subsequent upload attempt in it. It also adds the GET
// endpoint /rest/v1/uploads to the REST API, which returns a list of
// UploadEvent, optionally restricted to those between the "since" and "until"
// unix times.
//
// If you call EnableAuth() first, then this endpoint will be secured and be
// available at /rest/v1/auth/uploads.
func (s *Server) InitHistoryDB(dbPath string) error {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return err
	}

	db.SetMaxOpenConns(1)

	for _, table := range [...]string{
		`CREATE TABLE IF NOT EXISTS [uploads] (id TEXT, user TEXT, dataset TEXT, kind TEXT, message TEXT, time INTEGER)`,
		`CREATE INDEX IF NOT EXISTS uploadTime ON [uploads] (time)`,
	} {
		if _, err := db.Exec(table); err != nil {
			db.Close()

			return err
		}
	}

	stmt, err := db.Prepare(
		"INSERT INTO [uploads] (id, user, dataset, kind, message, time) VALUES (?, ?, ?, ?, ?, ?);")
	if err != nil {
		db.Close()

		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.historyDB = db
	s.historyStmt = stmt

	authGroup := s.AuthRouter()

	if authGroup == nil {
		s.Router().GET(EndPointHistory, s.getHistory)
	} else {
		authGroup.GET(historyPath, s.getHistory)
	}

	return nil
}

// recordUpload stores the result of an upload attempt in the history
// database, if InitHistoryDB() has been called. Failures are logged.
func (s *Server) recordUpload(c *gin.Context, result *UploadResult) {
	if s.historyStmt == nil {
		return
	}

	if _, err := s.historyStmt.Exec(
		uuid.NewString(),
		s.username(c),
		result.Dataset,
		result.Kind,
		result.Message,
		time.Now().Unix(),
	); err != nil {
		s.Logger.Printf("recording upload history failed: %s", err)
	}
}

func (s *Server) username(c *gin.Context) string {
	if s.AuthRouter() == nil {
		return ""
	}

	u := s.GetUser(c)
	if u == nil {
		return ""
	}

	return u.Username
}

// getHistory handles a GET on /rest/v1/uploads or /rest/v1/auth/uploads.
func (s *Server) getHistory(c *gin.Context) {
	since, until, ok := historyRange(c)
	if !ok {
		c.AbortWithError(http.StatusBadRequest, ErrBadHistoryQuery) //nolint:errcheck

		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.historyDB == nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)

		return
	}

	events, err := s.queryHistory(since, until)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err) //nolint:errcheck

		return
	}

	c.IndentedJSON(http.StatusOK, events)
}

func historyRange(c *gin.Context) (int64, int64, bool) {
	since, ok := queryInt(c, "since", 0)
	if !ok {
		return 0, 0, false
	}

	until, ok := queryInt(c, "until", math.MaxInt64)
	if !ok || since > until {
		return 0, 0, false
	}

	return since, until, true
}

func queryInt(c *gin.Context, key string, def int64) (int64, bool) {
	v := c.Query(key)
	if v == "" {
		return def, true
	}

	i, err := strconv.ParseInt(v, 10, 64)

	return i, err == nil
}

func (s *Server) queryHistory(since, until int64) ([]UploadEvent, error) {
	rows, err := s.historyDB.Query(
		"SELECT id, user, dataset, kind, message, time FROM [uploads] WHERE time BETWEEN ? AND ? ORDER BY time, rowid;",
		since, until)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	events := make([]UploadEvent, 0)

	for rows.Next() {
		var e UploadEvent

		if err := rows.Scan(&e.ID, &e.User, &e.Dataset, &e.Kind, &e.Message, &e.Time); err != nil {
			return nil, err
		}

		events = append(events, e)
	}

	return events, rows.Err()
}
