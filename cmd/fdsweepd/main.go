package main

import "github.com/filedrop/filedrop/cmd/fdsweepd/cmd"

func main() {
	cmd.Execute()
}
