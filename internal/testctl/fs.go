package testctl

import "os"

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
