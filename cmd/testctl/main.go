package main

import (
	"os"

	"promptline/internal/testctl"
)

func main() { os.Exit(testctl.MainWithArgs(os.Args[1:])) }
