//go:build windows

package runstate

import "os"

// renameio does not support Windows; write a sibling and rename over the target.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
