package main

import "github.com/filedrop/filedrop/cmd/fdropd/cmd"

func main() {
	cmd.Execute()
}
