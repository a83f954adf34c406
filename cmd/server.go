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

package cmd

import (
	"context"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wheresmyhair/LLaMA-Factory-localsft/server"
)

const (
	defaultMaxUploadSize = 100 * 1024 * 1024
	readHeaderTimeout    = 20 * time.Second
	shutdownTimeout      = 30 * time.Second
)

// options for this cmd.
var (
	serverBind     string
	serverCert     string
	serverKey      string
	serverLogPath  string
	serverHistory  string
	serverMaxSize  string
	serverTmpDir   string
	serverDataDir  string
	serverRegistry string
	serverLang     string
)

// serverCmd represents the server command.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the web server",
	Long: `Start the web server.

Starting the web server brings up a web interface where users can upload
dataset files, and a REST API for doing the same. Uploaded files must have a
.json extension and be no larger than --max-size (default 100M). They are
checked to be a JSON list of objects that all have "instruction" and "output"
keys, then moved to <data dir>/<name>.json and added to the registry.

The web interface is served at /, and the REST API at:

POST /rest/v1/upload   (multipart form with "file" and "name" fields)
GET  /rest/v1/datasets (add ?ranking=true to include ranking datasets)
GET  /rest/v1/uploads  (only if --history is given)

If --cert and --key are given, the server will use https, otherwise http.

If --history is given, every upload attempt is recorded in that sqlite database
file, along with its outcome.

Messages shown to users are in English unless --lang zh (or $LOCALSFT_LANG) is
given.

The server logs to STDERR unless --logfile is given. It runs until it receives
SIGINT or SIGTERM, so you should probably run it in the background or under a
process supervisor. Without --cert and --key it then removes the temp files of
uploads in progress and closes the history database before exiting.`,
	Run: func(_ *cobra.Command, _ []string) {
		loadDotEnv()

		if serverLogPath != "" {
			logToFile(serverLogPath)
		}

		settings, err := dataSettingsFromEnvAndFlags(serverDataDir, serverRegistry, serverLang)
		if err != nil {
			die("%s", err)
		}

		maxSize, err := parseSizeFlagOrEnv(serverMaxSize, envMaxSize, defaultMaxUploadSize)
		if err != nil {
			die("%s", err)
		}

		if (serverCert == "") != (serverKey == "") {
			die("--cert and --key must be given together")
		}

		s := server.New(logWriter{})

		if err = s.EnableUploads(server.UploadConfig{
			DataDir:      settings.dataDir,
			RegistryName: settings.registryName,
			MaxSize:      int64(min(maxSize, math.MaxInt64)),
			Lang:         settings.lang,
			TmpDir:       serverTmpDir,
		}); err != nil {
			die("failed to enable uploads: %s", err)
		}

		if serverHistory != "" {
			if err = s.InitHistoryDB(serverHistory); err != nil {
				die("failed to open history database: %s", err)
			}
		}

		info("starting server on %s for data directory %s", serverBind, settings.dataDir)

		if serverCert == "" {
			err = servePlain(s, serverBind)
		} else {
			err = s.Start(serverBind, serverCert, serverKey)
		}

		if err != nil {
			die("non-graceful stop: %s", err)
		}
	},
}

// servePlain serves s over http until it fails or we receive SIGINT or SIGTERM,
// then shuts it down and cleans up its temp files and history database.
func servePlain(s *server.Server, bind string) error {
	srv := &http.Server{
		Addr:              bind,
		Handler:           s.Router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)

	go func() {
		errCh <- srv.ListenAndServe()
	}()

	var err error

	select {
	case sig := <-sigCh:
		info("received %s, shutting down", sig)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err = srv.Shutdown(ctx)
	case err = <-errCh:
	}

	s.Close()

	return err
}

func init() {
	RootCmd.AddCommand(serverCmd)

	// flags specific to this sub-command
	serverCmd.Flags().StringVarP(&serverBind, "bind", "b", ":8080",
		"address to bind to, eg host:port")
	serverCmd.Flags().StringVarP(&serverDataDir, "data", "d", "",
		"data directory holding datasets and the registry (default $"+envDataDir+")")
	serverCmd.Flags().StringVarP(&serverRegistry, "registry", "r", "",
		"basename of the registry file in the data directory (default $"+envRegistry+" or dataset_info.json)")
	serverCmd.Flags().StringVarP(&serverCert, "cert", "c", "",
		"path to certificate file")
	serverCmd.Flags().StringVarP(&serverKey, "key", "k", "",
		"path to key file")
	serverCmd.Flags().StringVarP(&serverHistory, "history", "H", "",
		"path to a sqlite database to record upload attempts in")
	serverCmd.Flags().StringVarP(&serverMaxSize, "max-size", "s", "",
		"largest dataset file accepted, eg. 100M (default $"+envMaxSize+" or 100M)")
	serverCmd.Flags().StringVarP(&serverLang, "lang", "l", "",
		"language of user messages: en or zh (default $"+envLang+" or en)")
	serverCmd.Flags().StringVar(&serverTmpDir, "tmp", "",
		"directory in which to make a dir to hold uploads while they're validated (default the system temp dir)")
	serverCmd.Flags().StringVar(&serverLogPath, "logfile", "",
		"log to this file instead of STDERR")
}
