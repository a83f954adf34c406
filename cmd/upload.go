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
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/wheresmyhair/LLaMA-Factory-localsft/upload"
)

// options for this cmd.
var (
	uploadName     string
	uploadKeep     bool
	uploadDataDir  string
	uploadRegistry string
	uploadLang     string
)

// uploadCmd represents the upload command.
var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Add a dataset file to the data directory",
	Long: `Add a dataset file to the data directory.

Provide the path to a JSON dataset file and a --name for it. The name must start
with a letter and contain only letters, digits and underscores, and must not
already be used by a (non-ranking) dataset in the registry.

The file must hold a JSON list of objects, each of which has at least
"instruction" and "output" keys.

On success the file is moved (not copied) to <data dir>/<name>.json and the
registry is updated to refer to it. Use --keep to leave the original file in
place.

Exits non-zero with an explanation if the dataset could not be added.`,
	Run: func(_ *cobra.Command, args []string) {
		setCLIFormat()
		loadDotEnv()

		if len(args) != 1 {
			die("exactly 1 dataset file should be provided")
		}

		settings, err := dataSettingsFromEnvAndFlags(uploadDataDir, uploadRegistry, uploadLang)
		if err != nil {
			die("%s", err)
		}

		src := args[0]

		if uploadKeep {
			if src, err = copyToTemp(src); err != nil {
				die("%s", upload.Message(settings.lang, "", &upload.IOError{Op: "copy", Err: err}))
			}
		}

		path, err := upload.New(settings.registry()).Upload(src, uploadName)
		msg := upload.Message(settings.lang, path, err)

		if err != nil {
			if uploadKeep {
				os.Remove(src)
			}

			die("%s", msg)
		}

		cliPrint("%s\n", msg)
	},
}

// copyToTemp copies the file at path to a new temp file, returning the temp
// file's path.
func copyToTemp(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}

	defer in.Close()

	out, err := os.CreateTemp("", "localsft-upload.*.json")
	if err != nil {
		return "", err
	}

	_, err = io.Copy(out, in)

	if err = errors.Join(err, out.Close()); err != nil {
		os.Remove(out.Name())

		return "", err
	}

	return out.Name(), nil
}

func init() {
	RootCmd.AddCommand(uploadCmd)

	// flags specific to this sub-command
	uploadCmd.Flags().StringVarP(&uploadName, "name", "n", "", "name for the dataset")
	uploadCmd.Flags().BoolVarP(&uploadKeep, "keep", "k", false, "copy the file instead of moving it")
	uploadCmd.Flags().StringVarP(&uploadDataDir, "data", "d", "",
		"data directory holding datasets and the registry (default $"+envDataDir+")")
	uploadCmd.Flags().StringVarP(&uploadRegistry, "registry", "r", "",
		"basename of the registry file in the data directory (default $"+envRegistry+" or dataset_info.json)")
	uploadCmd.Flags().StringVarP(&uploadLang, "lang", "l", "",
		"language of messages: en or zh (default $"+envLang+" or en)")
}
