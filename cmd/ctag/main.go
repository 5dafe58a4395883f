package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/thrawn01/ctag"
)

func main() {
	if err := ctag.RunCmd(os.Args, nil); err != nil {
		var exitErr *ctag.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
