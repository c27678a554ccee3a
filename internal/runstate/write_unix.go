//go:build !windows

package runstate

import "github.com/google/renameio/v2"

func writeFile(path string, data []byte) error {
	return renameio.WriteFile(path, data, fileMode)
}
