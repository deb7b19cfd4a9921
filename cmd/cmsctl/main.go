package main

import (
	"fmt"
	"os"

	"campus-cms/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cmsctl:", err)
		os.Exit(1)
	}
}
