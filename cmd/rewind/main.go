package main

import (
	"os"
)

func main() {
	os.Exit(root(os.Args[1:]...))
}
