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
	"fmt"
	"os"
	"strings"

	"code.cloudfoundry.org/bytefmt"
	"github.com/joho/godotenv"
	"github.com/wheresmyhair/LLaMA-Factory-localsft/registry"
	"github.com/wheresmyhair/LLaMA-Factory-localsft/upload"
)

const (
	envDataDir  = "LOCALSFT_DATA_DIR"
	envRegistry = "LOCALSFT_REGISTRY"
	envMaxSize  = "LOCALSFT_MAX_SIZE"
	envLang     = "LOCALSFT_LANG"
)

var errDataDirRequired = errors.New("data directory required (--data or $" + envDataDir + ")")

var dotEnvKeys = []string{
	envDataDir,
	envRegistry,
	envMaxSize,
	envLang,
}

// loadDotEnv sets our environment variables from .env and then .env.local in
// the current directory. Variables already set in the real environment win.
func loadDotEnv() {
	orig := originalEnvKeys(dotEnvKeys)

	loadDotEnvFile(".env", orig)
	loadDotEnvFile(".env.local", orig)
}

func originalEnvKeys(keys []string) map[string]struct{} {
	orig := map[string]struct{}{}

	for _, key := range keys {
		if _, ok := os.LookupEnv(key); ok {
			orig[key] = struct{}{}
		}
	}

	return orig
}

func loadDotEnvFile(path string, orig map[string]struct{}) {
	env, err := godotenv.Read(path)
	if err != nil {
		return
	}

	for _, key := range dotEnvKeys {
		val, ok := env[key]
		if !ok {
			continue
		}

		if _, ok := orig[key]; ok {
			continue
		}

		_ = os.Setenv(key, val)
	}
}

// dataSettings are the options common to all subcommands that work with a
// data directory.
type dataSettings struct {
	dataDir      string
	registryName string
	lang         upload.Lang
}

func dataSettingsFromEnvAndFlags(dataDirFlag, registryFlag, langFlag string) (dataSettings, error) {
	dataDir, err := requiredFlagOrEnv(dataDirFlag, envDataDir, errDataDirRequired)
	if err != nil {
		return dataSettings{}, err
	}

	lang, err := upload.ParseLang(flagOrEnv(langFlag, envLang))
	if err != nil {
		return dataSettings{}, err
	}

	return dataSettings{
		dataDir:      dataDir,
		registryName: flagOrEnv(registryFlag, envRegistry),
		lang:         lang,
	}, nil
}

func (d dataSettings) registry() *registry.Registry {
	return registry.Open(d.dataDir, d.registryName)
}

func requiredFlagOrEnv(flagValue string, envKey string, missing error) (string, error) {
	v := flagOrEnv(flagValue, envKey)
	if v == "" {
		return "", missing
	}

	return v, nil
}

func flagOrEnv(flagValue string, envKey string) string {
	if v := strings.TrimSpace(flagValue); v != "" {
		return v
	}

	return strings.TrimSpace(os.Getenv(envKey))
}

// parseSizeFlagOrEnv parses a size like "100M" from the flag, or envKey if the
// flag is blank, or returns defaultValue if both are blank.
func parseSizeFlagOrEnv(flagValue string, envKey string, defaultValue uint64) (uint64, error) {
	v := flagOrEnv(flagValue, envKey)
	if v == "" {
		return defaultValue, nil
	}

	size, err := bytefmt.ToBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid size for %s: %w", envKey, err)
	}

	return size, nil
}
