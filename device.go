package vfat

import (
	"fmt"
	"os"

	"github.com/aligator/vfat/checkpoint"
)

// Device is an opened block device or image file.
type Device struct {
	*os.File
	Volume *Volume
}

// OpenDevice opens the device or image at path read-only and parses the
// volume on it. The caller has to Close the Device.
func OpenDevice(path string, opts ...Option) (*Device, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrIO)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, checkpoint.Wrap(err, ErrIO)
	}
	if info.IsDir() {
		file.Close()
		return nil, checkpoint.Wrap(fmt.Errorf("%v is a directory", path), ErrInvalidVolume)
	}

	vol, err := Open(file, opts...)
	if err != nil {
		file.Close()
		return nil, checkpoint.From(err)
	}

	return &Device{File: file, Volume: vol}, nil
}
