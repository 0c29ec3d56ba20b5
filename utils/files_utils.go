package utils

import (
	"os"
	"time"
)

// FileExists reports whether a file (or directory) exists at name.
func FileExists(name string) (bool, error) {
	_, err := os.Stat(name)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// GetFileInfo returns the size and last-modified time of the file at
// filePath.
func GetFileInfo(filePath string) (int64, time.Time, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return 0, time.Time{}, err
	}
	return fileInfo.Size(), fileInfo.ModTime().UTC(), nil
}
