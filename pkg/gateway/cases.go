package gateway

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ddx/pkg/agent"
	apperrors "ddx/pkg/errors"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DecodeCase parses a case document. JSON objects are detected by their
// leading brace; anything else is read as YAML.
func DecodeCase(doc []byte) (agent.CaseInput, error) {
	var input agent.CaseInput
	doc = bytes.TrimSpace(doc)
	if len(doc) == 0 {
		return input, apperrors.MalformedInput("empty case document")
	}

	var err error
	if doc[0] == '{' {
		err = json.Unmarshal(doc, &input)
	} else {
		err = yaml.Unmarshal(doc, &input)
	}
	if err != nil {
		return input, &apperrors.AppError{Code: apperrors.CodeMalformedInput, Message: "decode case", Cause: err}
	}
	return input, nil
}

// LoadCaseFile reads one case file. Files without an id are named after
// their base name.
func LoadCaseFile(path string) (agent.CaseInput, error) {
	doc, err := os.ReadFile(path)
	if err != nil {
		return agent.CaseInput{}, apperrors.Wrapf(err, "read case %s", path)
	}
	input, err := DecodeCase(doc)
	if err != nil {
		return input, apperrors.Wrapf(err, "case %s", path)
	}
	if input.ID == "" {
		input.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	// 影像路徑相對於 case 檔案
	for i, img := range input.Images {
		if !filepath.IsAbs(img) {
			input.Images[i] = filepath.Join(filepath.Dir(path), img)
		}
	}
	return input, nil
}

// LoadCaseDir reads every .json, .yaml and .yml case in dir, sorted by name.
func LoadCaseDir(dir string) ([]agent.CaseInput, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Wrapf(err, "read case directory %s", dir)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	inputs := make([]agent.CaseInput, 0, len(names))
	for _, name := range names {
		input, err := LoadCaseFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, input)
	}
	return inputs, nil
}
