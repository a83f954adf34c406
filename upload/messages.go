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

package upload

import (
	"errors"
	"fmt"
	"strings"
)

// Lang selects the language of the messages returned by Message().
type Lang string

const (
	LangEN Lang = "en"
	LangZH Lang = "zh"
)

const ErrUnknownLang = Error("unknown language")

// ParseLang returns the Lang for s ("en" or "zh", case insensitive), with
// blank meaning LangEN.
func ParseLang(s string) (Lang, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(LangEN):
		return LangEN, nil
	case string(LangZH):
		return LangZH, nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnknownLang, s)
}

type messages struct {
	success       string
	emptyName     string
	invalidName   string
	duplicateName string
	malformed     string
	notList       string
	notObject     string
	missingKeys   string
	failed        string
	element       string
}

var catalogue = map[Lang]messages{ //nolint:gochecknoglobals
	LangEN: {
		success:       "File uploaded successfully to %s",
		emptyName:     "Please specify a name for the dataset.",
		invalidName:   "Dataset names may only contain letters, digits and underscores, and must start with a letter.",
		duplicateName: "A dataset with that name already exists.",
		malformed:     "JSON content validation failed: %s",
		notList:       "The JSON content must be a list.",
		notObject:     "Each element of the list must be an object.",
		missingKeys:   "Each object must contain 'instruction' and 'output' fields.",
		failed:        "File upload failed: %s",
		element:       " (element %d)",
	},
	LangZH: {
		success:       "文件已成功上传到 %s",
		emptyName:     "请指定数据集的名字。",
		invalidName:   "数据集名称只能包含英文、数字、下划线，并且不能以数字开头。",
		duplicateName: "数据集名称已存在。",
		malformed:     "JSON 文件内容验证失败: %s",
		notList:       "JSON 文件内容必须是一个列表。",
		notObject:     "列表中的每个元素必须是一个字典。",
		missingKeys:   "每个字典必须包含 'instruction' 和 'output' 字段。",
		failed:        "文件上传失败: %s",
		element:       "（第 %d 个元素）",
	},
}

// Message converts the result of Upload() into a single human readable string
// suitable for display, in the given language.
func Message(lang Lang, path string, err error) string {
	m, ok := catalogue[lang]
	if !ok {
		m = catalogue[LangEN]
	}

	if err == nil {
		return fmt.Sprintf(m.success, path)
	}

	var (
		jsonErr   *JSONError
		schemaErr *SchemaError
	)

	switch {
	case errors.Is(err, ErrEmptyName):
		return m.emptyName
	case errors.Is(err, ErrInvalidName):
		return m.invalidName
	case errors.Is(err, ErrDuplicateName):
		return m.duplicateName
	case errors.As(err, &jsonErr):
		return fmt.Sprintf(m.malformed, jsonErr.Err)
	case errors.As(err, &schemaErr):
		return m.schemaMessage(schemaErr)
	}

	return fmt.Sprintf(m.failed, err)
}

func (m messages) schemaMessage(err *SchemaError) string {
	switch err.Kind { //nolint:exhaustive
	case ErrNotList:
		return m.notList
	case ErrElementNotObject:
		return m.notObject + fmt.Sprintf(m.element, err.Index)
	default:
		return m.missingKeys + fmt.Sprintf(m.element, err.Index)
	}
}
