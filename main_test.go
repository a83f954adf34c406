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

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/wheresmyhair/LLaMA-Factory-localsft/registry"
	"github.com/wheresmyhair/LLaMA-Factory-localsft/server"
)

const (
	app          = "localsft_test"
	validContent = `[{"instruction":"a","output":"b"}]`
)

func TestMain(m *testing.M) {
	d1 := buildSelf()
	if d1 == nil {
		return
	}

	defer os.Exit(m.Run())
	defer d1()
}

func buildSelf() func() {
	cmd := exec.Command(
		"go", "build", "-tags", "netgo",
		"-ldflags=-X github.com/wheresmyhair/LLaMA-Factory-localsft/cmd.Version=TESTVERSION",
		"-o", app,
	)

	cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		failMainTest(err.Error())

		return nil
	}

	return func() {
		os.Remove(app)
	}
}

func failMainTest(err string) {
	fmt.Println(err) //nolint:forbidigo
}

func TestVersion(t *testing.T) {
	Convey("localsft prints the version it was built with", t, func() {
		stdout, _, err := runLocalSFT(t, "--version")
		So(err, ShouldBeNil)
		So(stdout, ShouldContainSubstring, "TESTVERSION")
	})
}

func TestUpload(t *testing.T) {
	Convey("Given a data directory and a dataset file", t, func() {
		dataDir := t.TempDir()
		src := writeDataset(t, validContent)

		Convey("You can upload it under a valid name", func() {
			stdout, stderr, err := runLocalSFT(t, "upload", "-d", dataDir, "-n", "mydata", src)
			So(err, ShouldBeNil)
			So(stderr, ShouldBeBlank)
			So(stdout, ShouldEqual, "File uploaded successfully to "+filepath.Join(dataDir, "mydata.json")+"\n")

			_, err = os.Stat(src)
			So(os.IsNotExist(err), ShouldBeTrue)

			ds, err := registry.Open(dataDir, "").Load()
			So(err, ShouldBeNil)
			So(ds["mydata"].FileName, ShouldEqual, "mydata.json")

			Convey("And then see it listed", func() {
				stdout, _, err := runLocalSFT(t, "list", "-d", dataDir)
				So(err, ShouldBeNil)
				So(stdout, ShouldContainSubstring, "| mydata | mydata.json | 34 B |")
			})

			Convey("But not upload another with the same name", func() {
				_, stderr, err := runLocalSFT(t, "upload", "-d", dataDir, "-n", "mydata", writeDataset(t, validContent))
				So(err, ShouldNotBeNil)
				So(stderr, ShouldEqual, "A dataset with that name already exists.\n")
			})
		})

		Convey("--keep leaves the original file in place", func() {
			_, _, err := runLocalSFT(t, "upload", "--keep", "-d", dataDir, "-n", "kept", src)
			So(err, ShouldBeNil)

			b, err := os.ReadFile(src)
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, validContent)

			b, err = os.ReadFile(filepath.Join(dataDir, "kept.json"))
			So(err, ShouldBeNil)
			So(string(b), ShouldEqual, validContent)
		})

		Convey("Invalid names and content are rejected", func() {
			_, stderr, err := runLocalSFT(t, "upload", "-d", dataDir, "-n", "1abc", src)
			So(err, ShouldNotBeNil)
			So(stderr, ShouldEqual, "Dataset names may only contain letters, digits and underscores, "+
				"and must start with a letter.\n")

			_, stderr, err = runLocalSFT(t, "upload", "-d", dataDir, "-n", "obj", "--lang", "zh",
				writeDataset(t, `{"instruction":"a","output":"b"}`))
			So(err, ShouldNotBeNil)
			So(stderr, ShouldEqual, "JSON 文件内容必须是一个列表。\n")

			_, err = os.Stat(src)
			So(err, ShouldBeNil)
		})

		Convey("The data directory can come from the environment", func() {
			_, _, err := runLocalSFTWithEnv(t, []string{"LOCALSFT_DATA_DIR=" + dataDir},
				"upload", "-n", "fromenv", src)
			So(err, ShouldBeNil)

			_, err = os.Stat(filepath.Join(dataDir, "fromenv.json"))
			So(err, ShouldBeNil)
		})

		Convey("Without a data directory, upload fails", func() {
			_, stderr, err := runLocalSFT(t, "upload", "-n", "mydata", src)
			So(err, ShouldNotBeNil)
			So(stderr, ShouldContainSubstring, "data directory required")
		})
	})
}

func TestServer(t *testing.T) {
	Convey("Given a running server", t, func() {
		dataDir := t.TempDir()
		addr := "127.0.0.1:" + strconv.Itoa(pickFreePort(t))

		ctx, cancel := context.WithCancel(context.Background())

		tmpDir := t.TempDir()

		cmd := exec.CommandContext(ctx, "./"+app, "server", "-d", dataDir, "-b", addr, "--tmp", tmpDir)
		So(cmd.Start(), ShouldBeNil)

		defer func() {
			cancel()
			cmd.Wait() //nolint:errcheck
		}()

		waitForTCPPort(t, addr)

		Convey("You can upload a dataset", func() {
			resp, result := postDataset(t, "http://"+addr+server.EndPointUpload, "served", validContent)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			So(result.Path, ShouldEqual, filepath.Join(dataDir, "served.json"))

			resp, result = postDataset(t, "http://"+addr+server.EndPointUpload, "served", validContent)
			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			So(result.Kind, ShouldEqual, "duplicate_name")
		})

		Convey("Interrupting it exits cleanly and removes its upload dir", func() {
			entries, err := os.ReadDir(tmpDir)
			So(err, ShouldBeNil)
			So(len(entries), ShouldEqual, 1)

			So(cmd.Process.Signal(os.Interrupt), ShouldBeNil)
			So(cmd.Wait(), ShouldBeNil)

			entries, err = os.ReadDir(tmpDir)
			So(err, ShouldBeNil)
			So(entries, ShouldBeEmpty)
		})
	})
}

func runLocalSFT(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	return runLocalSFTWithEnv(t, nil, args...)
}

func runLocalSFTWithEnv(t *testing.T, env []string, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr strings.Builder

	cmd := exec.CommandContext(context.Background(), "./"+app, args...)
	cmd.Dir = "."
	cmd.Env = append(withoutLocalSFTEnv(os.Environ()), env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

func withoutLocalSFTEnv(environ []string) []string {
	env := make([]string, 0, len(environ))

	for _, kv := range environ {
		if !strings.HasPrefix(kv, "LOCALSFT_") {
			env = append(env, kv)
		}
	}

	return env
}

func writeDataset(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dataset.json")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	return path
}

func postDataset(t *testing.T, url, name, content string) (*http.Response, server.UploadResult) {
	t.Helper()

	var body bytes.Buffer

	mw := multipart.NewWriter(&body)
	So(mw.WriteField("name", name), ShouldBeNil)

	fw, err := mw.CreateFormFile("file", "dataset.json")
	So(err, ShouldBeNil)

	_, err = fw.Write([]byte(content))
	So(err, ShouldBeNil)
	So(mw.Close(), ShouldBeNil)

	resp, err := http.Post(url, mw.FormDataContentType(), &body) //nolint:noctx
	So(err, ShouldBeNil)

	defer resp.Body.Close()

	var result server.UploadResult
	So(json.NewDecoder(resp.Body).Decode(&result), ShouldBeNil)

	return resp, result
}

func pickFreePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to pick a free port: %v", err)
	}

	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port //nolint:forcetypeassert
}

func waitForTCPPort(t *testing.T, addr string) {
	t.Helper()

	deadline := time.Now().Add(30 * time.Second)

	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()

			return
		}

		if time.Now().After(deadline) {
			t.Fatalf("server did not become ready at %s: %v", addr, err)
		}

		time.Sleep(200 * time.Millisecond)
	}
}
