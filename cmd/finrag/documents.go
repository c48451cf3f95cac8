package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/poiesic/finrag/chunking"
	"github.com/poiesic/finrag/core"
)

var textExtensions = map[string]bool{
	".txt": true,
	".md":  true,
}

// collectFiles expands directories into the ingestible files below them.
func collectFiles(paths []string, format string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(p))
			if (ext == ".json" && format != "text") || (textExtensions[ext] && format != "dataset") {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// loadDocuments reads every file as a dataset (a JSON array of records) or as
// one plain text document. In auto format, .json files are datasets.
func loadDocuments(paths []string, format string) ([]core.Document, error) {
	switch format {
	case "auto", "dataset", "text":
	default:
		return nil, fmt.Errorf("unknown format %q: must be one of auto, dataset, text", format)
	}

	files, err := collectFiles(paths, format)
	if err != nil {
		return nil, err
	}

	var docs []core.Document
	for _, file := range files {
		isDataset := format == "dataset" || (format == "auto" && strings.EqualFold(filepath.Ext(file), ".json"))
		if isDataset {
			records, err := loadRecords(file)
			if err != nil {
				return nil, err
			}
			for _, r := range records {
				docs = append(docs, r.Document(filepath.Base(file)))
			}
			continue
		}

		data, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		docs = append(docs, core.NewDocument(textDocumentID(file), string(data), core.Source{Filename: filepath.Base(file)}))
	}
	return docs, nil
}

func loadRecords(path string) ([]chunking.FinancialRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := chunking.LoadRecords(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// textDocumentID names a plain text document after its file.
func textDocumentID(path string) string {
	base := filepath.Base(path)
	return strings.ReplaceAll(strings.TrimSuffix(base, filepath.Ext(base)), "#", "_")
}
