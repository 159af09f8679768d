// studiovault maintains the asset store of a multi-tenant photo studio
// platform: uploads, deletions with full cleanup, backup indexes and usage.
package main

import "os"

func main() {
	os.Exit(execute())
}
