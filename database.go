// Copyright 2018 Fabian Wenzelmann
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mosaic

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FindImages returns the absolute paths of all images in root accepted by
// filter, in lexical order. A nil filter accepts jpg and png files.
// Hidden files and directories (starting with ".") are skipped, analysis
// caches are stored there.
func FindImages(root string, recursive bool, filter SupportedImageFunc) ([]string, error) {
	root, absErr := filepath.Abs(root)
	if absErr != nil {
		return nil, absErr
	}
	if filter == nil {
		filter = JPGAndPNG
	}
	if recursive {
		return findImagesRecursive(root, filter)
	}
	return findImagesNonRecursive(root, filter)
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}

func findImagesRecursive(root string, filter SupportedImageFunc) ([]string, error) {
	var result []string
	walkFunc := func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir() && path != root && hidden(d.Name()):
			return filepath.SkipDir
		case !d.IsDir() && !hidden(d.Name()) && filter(filepath.Ext(path)):
			result = append(result, path)
			return nil
		default:
			return nil
		}
	}
	if err := filepath.WalkDir(root, walkFunc); err != nil {
		return nil, err
	}
	return result, nil
}

func findImagesNonRecursive(root string, filter SupportedImageFunc) ([]string, error) {
	files, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var result []string
	for _, file := range files {
		if !file.IsDir() && !hidden(file.Name()) && filter(filepath.Ext(file.Name())) {
			result = append(result, filepath.Join(root, file.Name()))
		}
	}
	return result, nil
}
