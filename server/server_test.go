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
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/wheresmyhair/LLaMA-Factory-localsft/registry"
	"github.com/wheresmyhair/LLaMA-Factory-localsft/upload"
	gas "github.com/wtsi-hgi/go-authserver"
)

const validContent = `[{"instruction":"a","output":"b"}]`

func TestServer(t *testing.T) {
	Convey("Given a Server with uploads enabled", t, func() {
		logWriter := gas.NewStringLogger()
		s := New(logWriter)
		dataDir := t.TempDir()

		So(s.EnableUploads(UploadConfig{
			DataDir: dataDir,
			MaxSize: 1024,
			TmpDir:  t.TempDir(),
		}), ShouldBeNil)

		Convey("The upload tab is served at /", func() {
			response, err := gas.QueryREST(s.Router(), "/", "")
			So(err, ShouldBeNil)
			So(response.Code, ShouldEqual, http.StatusOK)
			So(response.Body.String(), ShouldContainSubstring, `<form id="upload">`)
		})

		Convey("You can upload a valid dataset", func() {
			response, result := postDataset(s, EndPointUpload, "mydata", "data.json", validContent)
			So(response.Code, ShouldEqual, http.StatusOK)
			So(result, ShouldResemble, UploadResult{
				Dataset: "mydata",
				Message: "File uploaded successfully to " + filepath.Join(dataDir, "mydata.json"),
				Path:    filepath.Join(dataDir, "mydata.json"),
				Kind:    "ok",
			})
			So(logWriter.String(), ShouldContainSubstring, "[POST /rest/v1/upload")
			So(logWriter.String(), ShouldContainSubstring, "STATUS=200")

			b, err := os.ReadFile(result.Path)
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, validContent)

			tmpEntries, err := os.ReadDir(s.tmpDir)
			So(err, ShouldBeNil)
			So(tmpEntries, ShouldBeEmpty)

			Convey("Which is then listed", func() {
				response, err := gas.QueryREST(s.Router(), EndPointDatasets, "")
				So(err, ShouldBeNil)
				So(response.Code, ShouldEqual, http.StatusOK)

				var entries []registry.Entry
				So(json.NewDecoder(response.Body).Decode(&entries), ShouldBeNil)
				So(entries, ShouldResemble, []registry.Entry{
					{Name: "mydata", FileName: "mydata.json", Size: int64(len(validContent))},
				})
			})

			Convey("But not uploaded again under the same name", func() {
				response, result := postDataset(s, EndPointUpload, "mydata", "data.json", validContent)
				So(response.Code, ShouldEqual, http.StatusBadRequest)
				So(result.Kind, ShouldEqual, "duplicate_name")
				So(result.Message, ShouldEqual, "A dataset with that name already exists.")
				So(result.Path, ShouldBeBlank)
			})

			Convey("Even when the new upload has no file", func() {
				response, result := postDataset(s, EndPointUpload, "mydata", "", "")
				So(response.Code, ShouldEqual, http.StatusBadRequest)
				So(result.Kind, ShouldEqual, "duplicate_name")
			})
		})

		Convey("Bad input is rejected with a 400 and a message", func() {
			for _, test := range []struct {
				name, fileName, content string
				kind, message           string
			}{
				{"", "data.json", validContent, "empty_name", "Please specify a name for the dataset."},
				{"1abc", "data.json", validContent, "invalid_name",
					"Dataset names may only contain letters, digits and underscores, and must start with a letter."},
				{"mydata", "data.txt", validContent, "not_json_file",
					"File upload failed: dataset file must have a .json extension"},
				{"mydata", "data.json", `{"instruction":"a","output":"b"}`, "not_list", "The JSON content must be a list."},
				{"mydata", "data.json", `[{"instruction":"a"}]`, "missing_keys",
					"Each object must contain 'instruction' and 'output' fields. (element 0)"},
				{"mydata", "data.json", `[{`, "malformed_json", ""},
			} {
				response, result := postDataset(s, EndPointUpload, test.name, test.fileName, test.content)
				So(response.Code, ShouldEqual, http.StatusBadRequest)
				So(result.Kind, ShouldEqual, test.kind)

				if test.message != "" {
					So(result.Message, ShouldEqual, test.message)
				}
			}

			_, err := os.Stat(filepath.Join(dataDir, "mydata.json"))
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("A missing file is rejected", func() {
			response, result := postDataset(s, EndPointUpload, "mydata", "", "")
			So(response.Code, ShouldEqual, http.StatusBadRequest)
			So(result.Kind, ShouldEqual, "no_file")
		})

		Convey("Files over the size limit are rejected", func() {
			response, result := postDataset(s, EndPointUpload, "mydata", "data.json",
				"["+string(bytes.Repeat([]byte(`{"instruction":"a","output":"b"},`), 50))+"{}]")
			So(response.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			So(result.Kind, ShouldEqual, "too_large")
		})

		Convey("Messages can be given in Chinese", func() {
			s = New(logWriter)
			So(s.EnableUploads(UploadConfig{DataDir: dataDir, Lang: upload.LangZH, TmpDir: t.TempDir()}), ShouldBeNil)

			_, result := postDataset(s, EndPointUpload, "", "data.json", validContent)
			So(result.Message, ShouldEqual, "请指定数据集的名字。")

			_, result = postDataset(s, EndPointUpload, "zhdata", "data.json", validContent)
			So(result.Message, ShouldEqual, "文件已成功上传到 "+filepath.Join(dataDir, "zhdata.json"))
		})

		Convey("Ranking datasets are only listed when asked for", func() {
			reg := registry.Open(dataDir, "")
			So(reg.Update(func(ds registry.Datasets) error {
				d := registry.NewDataset("pairs.json")
				d.SetRanking(true)
				ds["pairs"] = d

				return nil
			}), ShouldBeNil)

			var entries []registry.Entry

			response, err := gas.QueryREST(s.Router(), EndPointDatasets, "")
			So(err, ShouldBeNil)
			So(json.NewDecoder(response.Body).Decode(&entries), ShouldBeNil)
			So(entries, ShouldBeEmpty)

			response, err = gas.QueryREST(s.Router(), EndPointDatasets, "?ranking=true")
			So(err, ShouldBeNil)
			So(json.NewDecoder(response.Body).Decode(&entries), ShouldBeNil)
			So(entries, ShouldResemble, []registry.Entry{
				{Name: "pairs", FileName: "pairs.json", Ranking: true, Size: -1},
			})
		})

		Convey("History isn't available until a history database is initialised", func() {
			response, err := gas.QueryREST(s.Router(), EndPointHistory, "")
			So(err, ShouldBeNil)
			So(response.Code, ShouldEqual, http.StatusNotFound)

			Convey("After which upload attempts are recorded", func() {
				before := time.Now().Unix()

				So(s.InitHistoryDB(filepath.Join(t.TempDir(), "history.db")), ShouldBeNil)

				postDataset(s, EndPointUpload, "first", "data.json", validContent)
				postDataset(s, EndPointUpload, "first", "data.json", validContent)

				events := queryHistory(s, EndPointHistory, "")
				So(len(events), ShouldEqual, 2)
				So(events[0].Dataset, ShouldEqual, "first")
				So(events[0].Kind, ShouldEqual, "ok")
				So(events[0].ID, ShouldNotBeBlank)
				So(events[0].Time, ShouldBeGreaterThanOrEqualTo, before)
				So(events[1].Kind, ShouldEqual, "duplicate_name")
				So(events[1].Message, ShouldEqual, "A dataset with that name already exists.")

				So(queryHistory(s, EndPointHistory, "?until="+strconv.FormatInt(before-1, 10)), ShouldBeEmpty)
				So(len(queryHistory(s, EndPointHistory, "?since="+strconv.FormatInt(before, 10))), ShouldEqual, 2)

				response, err := gas.QueryREST(s.Router(), EndPointHistory, "?since=foo")
				So(err, ShouldBeNil)
				So(response.Code, ShouldEqual, http.StatusBadRequest)

				response, err = gas.QueryREST(s.Router(), EndPointHistory, "?since=10&until=5")
				So(err, ShouldBeNil)
				So(response.Code, ShouldEqual, http.StatusBadRequest)

				tmpDir := s.tmpDir

				s.Close()

				response, err = gas.QueryREST(s.Router(), EndPointHistory, "")
				So(err, ShouldBeNil)
				So(response.Code, ShouldEqual, http.StatusServiceUnavailable)

				_, err = os.Stat(tmpDir)
				So(os.IsNotExist(err), ShouldBeTrue)
			})
		})
	})

	Convey("Given a started Server with auth enabled", t, func() {
		s := New(gas.NewStringLogger())

		certPath, keyPath, err := gas.CreateTestCert(t)
		So(err, ShouldBeNil)

		addr, dfunc, err := gas.StartTestServer(s, certPath, keyPath)
		So(err, ShouldBeNil)
		defer func() {
			So(dfunc(), ShouldBeNil)
		}()

		So(s.EnableAuth(certPath, keyPath, func(username, password string) (bool, string) {
			return true, ""
		}), ShouldBeNil)

		dataDir := t.TempDir()
		So(s.EnableUploads(UploadConfig{DataDir: dataDir}), ShouldBeNil)
		So(s.InitHistoryDB(filepath.Join(t.TempDir(), "history.db")), ShouldBeNil)

		dataPath := filepath.Join(t.TempDir(), "data.json")
		So(os.WriteFile(dataPath, []byte(validContent), 0o600), ShouldBeNil)

		Convey("You can't upload without logging in", func() {
			r := gas.NewClientRequest(addr, certPath)
			resp, err := r.SetFile("file", dataPath).SetFormData(map[string]string{"name": "mydata"}).
				Post(EndPointAuthUpload)
			So(err, ShouldBeNil)
			So(resp.StatusCode(), ShouldEqual, http.StatusUnauthorized)
		})

		Convey("You can upload after logging in, and see who did it", func() {
			r := gas.NewClientRequest(addr, certPath)
			token, err := gas.Login(r, "user", "pass")
			So(err, ShouldBeNil)

			r = gas.NewAuthenticatedClientRequest(addr, certPath, token)
			resp, err := r.SetFile("file", dataPath).SetFormData(map[string]string{"name": "mydata"}).
				Post(EndPointAuthUpload)
			So(err, ShouldBeNil)
			So(resp.StatusCode(), ShouldEqual, http.StatusOK)

			var result UploadResult
			So(json.Unmarshal(resp.Body(), &result), ShouldBeNil)
			So(result.Path, ShouldEqual, filepath.Join(dataDir, "mydata.json"))

			r = gas.NewAuthenticatedClientRequest(addr, certPath, token)
			resp, err = r.Get(EndPointAuthHistory)
			So(err, ShouldBeNil)

			var events []UploadEvent
			So(json.Unmarshal(resp.Body(), &events), ShouldBeNil)
			So(len(events), ShouldEqual, 1)
			So(events[0].User, ShouldEqual, "user")
		})
	})
}

// postDataset does a test multipart POST to the given endpoint. If fileName is
// blank, no file is included.
func postDataset(s *Server, endpoint, name, fileName, content string) (*httptest.ResponseRecorder, UploadResult) {
	var body bytes.Buffer

	mw := multipart.NewWriter(&body)
	So(mw.WriteField(formFieldName, name), ShouldBeNil)

	if fileName != "" {
		fw, err := mw.CreateFormFile(formFieldFile, fileName)
		So(err, ShouldBeNil)

		_, err = fw.Write([]byte(content))
		So(err, ShouldBeNil)
	}

	So(mw.Close(), ShouldBeNil)

	req := httptest.NewRequest(http.MethodPost, endpoint, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	response := httptest.NewRecorder()
	s.Router().ServeHTTP(response, req)

	var result UploadResult
	So(json.NewDecoder(response.Body).Decode(&result), ShouldBeNil)

	return response, result
}

func queryHistory(s *Server, endpoint, extra string) []UploadEvent {
	response, err := gas.QueryREST(s.Router(), endpoint, extra)
	So(err, ShouldBeNil)
	So(response.Code, ShouldEqual, http.StatusOK)

	var events []UploadEvent
	So(json.NewDecoder(response.Body).Decode(&events), ShouldBeNil)

	return events
}
