// Package fixture creates real FAT32 images with go-diskfs.
// They are used by the integration tests and by the mkimage command.
package fixture

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"github.com/sirupsen/logrus"
)

// MinSize is the smallest image which still has enough clusters for FAT32
// with the 512 byte clusters go-diskfs uses for small images.
const MinSize = 40 * 1024 * 1024

// Tree describes the content of an image. Keys are absolute slash separated
// paths. A key ending in "/" is a directory, everything else a file with the
// given content. Parent directories are created as needed.
type Tree map[string]string

// Build writes a FAT32 image of size bytes with the given label and content
// to imagePath. An existing file is overwritten.
func Build(imagePath string, size int64, label string, tree Tree) error {
	image, err := create(imagePath, size, label)
	if err != nil {
		return err
	}
	defer image.close()

	keys := make([]string, 0, len(tree))
	for key := range tree {
		keys = append(keys, key)
	}
	// Parents sort before their children.
	sort.Strings(keys)

	for _, key := range keys {
		if strings.HasSuffix(key, "/") {
			if err := image.mkdir(key); err != nil {
				return err
			}
			continue
		}
		if err := image.writeFile(key, []byte(tree[key])); err != nil {
			return err
		}
	}

	return image.close()
}

// FromDir writes a FAT32 image containing a copy of the host directory src.
func FromDir(imagePath string, size int64, label string, src string, log logrus.FieldLogger) error {
	image, err := create(imagePath, size, label)
	if err != nil {
		return err
	}
	defer image.close()

	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := "/" + filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			log.WithField("path", target).Debug("creating directory")
			return image.mkdir(target)
		case d.Type().IsRegular():
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			log.WithField("path", target).WithField("size", len(data)).Debug("copying file")
			return image.writeFile(target, data)
		default:
			log.WithField("path", target).Warn("skipping special file")
			return nil
		}
	})
	if err != nil {
		return err
	}

	return image.close()
}

type image struct {
	file *os.File
	fs   *fat32.FileSystem
}

func create(imagePath string, size int64, label string) (*image, error) {
	if size < MinSize {
		return nil, fmt.Errorf("image size %d is smaller than %d", size, MinSize)
	}

	file, err := os.OpenFile(imagePath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	if err := file.Truncate(size); err != nil {
		file.Close()
		return nil, err
	}

	filesystem, err := fat32.Create(file, size, 0, 512, label)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("create FAT32 filesystem: %w", err)
	}

	return &image{file: file, fs: filesystem}, nil
}

func (i *image) mkdir(p string) error {
	p = path.Clean(p)
	if err := i.fs.Mkdir(p); err != nil {
		return fmt.Errorf("mkdir %v: %w", p, err)
	}
	return nil
}

func (i *image) writeFile(p string, data []byte) error {
	p = path.Clean(p)
	if dir := path.Dir(p); dir != "/" {
		if err := i.mkdir(dir); err != nil {
			return err
		}
	}

	f, err := i.fs.OpenFile(p, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return fmt.Errorf("create %v: %w", p, err)
	}

	n, err := f.Write(data)
	if err != nil {
		return fmt.Errorf("write %v: %w", p, err)
	}
	if n != len(data) {
		return fmt.Errorf("write %v: wrote %d of %d bytes", p, n, len(data))
	}
	return nil
}

// close may be called more than once.
func (i *image) close() error {
	if i.file == nil {
		return nil
	}
	err := i.file.Close()
	i.file = nil
	return err
}
